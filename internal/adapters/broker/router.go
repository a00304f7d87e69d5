package broker

import (
	"log/slog"

	"github.com/alejandrodnm/pmfund/internal/domain"
	"github.com/alejandrodnm/pmfund/internal/ports"
)

// Credentials is everything the router needs to build the venue adapters.
type Credentials struct {
	KIS        KISConfig
	Bybit      BybitConfig
	Alpaca     AlpacaConfig
	SimFeeRate float64
}

// Select resolves the venue that will actually serve an agent. It is a pure
// function of the requested venue and which credentials are present: any venue
// lacking credentials, and any unknown venue, resolves to the simulator.
func Select(venue domain.Venue, creds Credentials) domain.Venue {
	switch venue {
	case domain.VenueKIS:
		if creds.KIS.Configured() {
			return domain.VenueKIS
		}
	case domain.VenueBybit:
		if creds.Bybit.Configured() {
			return domain.VenueBybit
		}
	case domain.VenueAlpaca:
		if creds.Alpaca.Configured() {
			return domain.VenueAlpaca
		}
	}
	return domain.VenuePaper
}

// Router hands each agent the adapter for its venue. Adapters are built once,
// so per-venue state such as the KIS token cache lives as long as the router.
type Router struct {
	creds   Credentials
	brokers map[domain.Venue]ports.Broker
}

// NewRouter builds the simulator plus one adapter per configured venue.
// It performs no network I/O.
func NewRouter(creds Credentials) *Router {
	r := &Router{
		creds: creds,
		brokers: map[domain.Venue]ports.Broker{
			domain.VenuePaper: NewSimulator(creds.SimFeeRate),
		},
	}
	if creds.KIS.Configured() {
		r.brokers[domain.VenueKIS] = NewKIS(creds.KIS)
	}
	if creds.Bybit.Configured() {
		r.brokers[domain.VenueBybit] = NewBybit(creds.Bybit)
	}
	if creds.Alpaca.Configured() {
		r.brokers[domain.VenueAlpaca] = NewAlpaca(creds.Alpaca)
	}
	for v, b := range r.brokers {
		slog.Debug("broker ready", "venue", v, "live", b.IsLive())
	}
	return r
}

// Route returns the broker serving agent.
func (r *Router) Route(agent domain.Agent) ports.Broker {
	return r.brokers[Select(agent.Venue, r.creds)]
}

// Brokers returns the configured adapters keyed by venue.
func (r *Router) Brokers() map[domain.Venue]ports.Broker {
	out := make(map[domain.Venue]ports.Broker, len(r.brokers))
	for v, b := range r.brokers {
		out[v] = b
	}
	return out
}
