package domain

import "time"

// Venue identifies the counterparty an agent routes its orders to.
type Venue string

const (
	VenuePaper  Venue = "paper"
	VenueKIS    Venue = "kis"    // OAuth equities venue
	VenueBybit  Venue = "bybit"  // HMAC-signed crypto venue
	VenueAlpaca Venue = "alpaca" // legacy static-key venue
)

// AssetClass partitions agents between independent schedulers.
type AssetClass string

const (
	AssetEquity AssetClass = "equity"
	AssetCrypto AssetClass = "crypto"
)

// ProviderRuleBased makes an agent skip the external decision provider.
const ProviderRuleBased = "rule"

// Agent is one independent trading strategy instance ("PM").
type Agent struct {
	ID             string
	Name           string
	Strategy       string // display label only
	Provider       string // decision provider selector
	Venue          Venue
	AssetClass     AssetClass
	Watchlist      []string
	Active         bool
	InitialCapital float64
	Capital        float64 // cash + marked-to-market positions, never negative
	Cash           float64
	CreatedAt      time.Time
}

// RuleBased reports whether the agent never consults an external provider.
func (a Agent) RuleBased() bool {
	return a.Provider == "" || a.Provider == ProviderRuleBased
}

// Return is the inception-to-date return on initial capital.
func (a Agent) Return() float64 {
	if a.InitialCapital <= 0 {
		return 0
	}
	return (a.Capital - a.InitialCapital) / a.InitialCapital
}
