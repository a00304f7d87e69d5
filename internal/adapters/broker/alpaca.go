package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/alejandrodnm/pmfund/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	DefaultAlpacaURL = "https://paper-api.alpaca.markets"

	alpacaRatePerSec = 3
)

// AlpacaConfig holds the legacy venue credentials.
type AlpacaConfig struct {
	APIKey    string
	SecretKey string
	BaseURL   string
}

// Configured only requires the key id, matching the venue's legacy setup.
func (c AlpacaConfig) Configured() bool {
	return c.APIKey != ""
}

// Alpaca is the static-key legacy venue. Requests are not signed.
type Alpaca struct {
	cfg     AlpacaConfig
	baseURL string
	http    *client
}

func NewAlpaca(cfg AlpacaConfig) *Alpaca {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultAlpacaURL
	}
	return &Alpaca{
		cfg:     cfg,
		baseURL: strings.TrimRight(base, "/"),
		http:    newClient(alpacaRatePerSec, 3),
	}
}

// IsLive is derived from the base URL: anything but the paper host is live.
func (a *Alpaca) IsLive() bool { return !strings.Contains(a.baseURL, "paper") }

func (a *Alpaca) Venue() domain.Venue { return domain.VenueAlpaca }

func (a *Alpaca) headers() http.Header {
	h := http.Header{}
	h.Set("APCA-API-KEY-ID", a.cfg.APIKey)
	h.Set("APCA-API-SECRET-KEY", a.cfg.SecretKey)
	return h
}

type alpacaOrder struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
}

func (a *Alpaca) PlaceOrder(ctx context.Context, symbol string, qty float64, side domain.Side, orderType domain.OrderType) domain.OrderResult {
	if orderType == "" {
		orderType = domain.OrderMarket
	}
	body, err := json.Marshal(map[string]string{
		"symbol":        symbol,
		"qty":           decimal.NewFromFloat(qty).Round(6).String(),
		"side":          strings.ToLower(string(side)),
		"type":          string(orderType),
		"time_in_force": "day",
	})
	if err != nil {
		return domain.Failed(domain.VenueAlpaca, err)
	}

	var order alpacaOrder
	if err := a.http.post(ctx, a.baseURL+"/v2/orders", a.headers(), body, &order); err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return domain.Rejected(domain.VenueAlpaca, se.Error())
		}
		return domain.Failed(domain.VenueAlpaca, fmt.Errorf("alpaca.PlaceOrder: %w", err))
	}
	switch order.Status {
	case "rejected", "canceled", "expired":
		return domain.Rejected(domain.VenueAlpaca, "order "+order.Status)
	}

	result := domain.OrderResult{
		Status:       domain.OrderFilled,
		Venue:        domain.VenueAlpaca,
		Symbol:       symbol,
		Side:         side,
		FilledQty:    qty,
		VenueOrderID: order.ID,
	}
	if p := parseFloat(order.FilledAvgPrice); p > 0 {
		result.FilledPrice = domain.Float(p)
	}
	return result
}

func (a *Alpaca) GetPositions(ctx context.Context) ([]domain.VenuePosition, error) {
	var resp []struct {
		Symbol        string `json:"symbol"`
		Qty           string `json:"qty"`
		AvgEntryPrice string `json:"avg_entry_price"`
		MarketValue   string `json:"market_value"`
	}
	if err := a.http.get(ctx, a.baseURL+"/v2/positions", a.headers(), &resp); err != nil {
		return nil, fmt.Errorf("alpaca.GetPositions: %w", err)
	}
	out := make([]domain.VenuePosition, 0, len(resp))
	for _, p := range resp {
		out = append(out, domain.VenuePosition{
			Symbol:      p.Symbol,
			Quantity:    parseFloat(p.Qty),
			AvgCost:     parseFloat(p.AvgEntryPrice),
			MarketValue: parseFloat(p.MarketValue),
		})
	}
	return out, nil
}

func (a *Alpaca) GetAccount(ctx context.Context) (domain.AccountSummary, error) {
	var resp struct {
		Status      string `json:"status"`
		Equity      string `json:"equity"`
		LastEquity  string `json:"last_equity"`
		BuyingPower string `json:"buying_power"`
	}
	if err := a.http.get(ctx, a.baseURL+"/v2/account", a.headers(), &resp); err != nil {
		return domain.AccountSummary{}, fmt.Errorf("alpaca.GetAccount: %w", err)
	}
	equity := parseFloat(resp.Equity)
	return domain.AccountSummary{
		Venue:      domain.VenueAlpaca,
		Live:       a.IsLive(),
		Equity:     equity,
		Available:  parseFloat(resp.BuyingPower),
		ProfitLoss: equity - parseFloat(resp.LastEquity),
		Status:     resp.Status,
	}, nil
}
