package broker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alejandrodnm/pmfund/internal/adapters/broker"
	"github.com/alejandrodnm/pmfund/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlpaca_PlaceOrder(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/paper/v2/orders", r.URL.Path)
		assert.Equal(t, "key-id", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"id":"a-1","status":"filled","filled_qty":"5","filled_avg_price":"101.25"}`))
	}))
	defer srv.Close()

	a := broker.NewAlpaca(broker.AlpacaConfig{APIKey: "key-id", SecretKey: "secret", BaseURL: srv.URL + "/paper"})
	res := a.PlaceOrder(context.Background(), "AAPL", 5, domain.SideBuy, domain.OrderMarket)

	require.True(t, res.Filled(), res.Reason)
	assert.False(t, a.IsLive())
	assert.Equal(t, "a-1", res.VenueOrderID)
	require.NotNil(t, res.FilledPrice)
	assert.InDelta(t, 101.25, *res.FilledPrice, 1e-9)
	assert.Equal(t, "buy", body["side"])
	assert.Equal(t, "market", body["type"])
	assert.Equal(t, "day", body["time_in_force"])
	assert.Equal(t, "5", body["qty"])
}

func TestAlpaca_RejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"insufficient buying power"}`))
	}))
	defer srv.Close()

	res := broker.NewAlpaca(broker.AlpacaConfig{APIKey: "k", BaseURL: srv.URL}).
		PlaceOrder(context.Background(), "AAPL", 1, domain.SideSell, domain.OrderMarket)
	assert.Equal(t, domain.OrderRejected, res.Status)
	assert.Contains(t, res.Reason, "insufficient buying power")
}

func TestAlpaca_IsLiveFromBaseURL(t *testing.T) {
	assert.False(t, broker.NewAlpaca(broker.AlpacaConfig{APIKey: "k"}).IsLive())
	assert.False(t, broker.NewAlpaca(broker.AlpacaConfig{APIKey: "k", BaseURL: "https://paper-api.alpaca.markets"}).IsLive())
	assert.True(t, broker.NewAlpaca(broker.AlpacaConfig{APIKey: "k", BaseURL: "https://api.alpaca.markets"}).IsLive())
}

func TestAlpaca_PositionsAndAccount(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/positions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"symbol":"MSFT","qty":"3","avg_entry_price":"400","market_value":"1230"}]`))
	})
	mux.HandleFunc("/v2/account", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ACTIVE","equity":"100500","last_equity":"100000","buying_power":"50000"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := broker.NewAlpaca(broker.AlpacaConfig{APIKey: "k", BaseURL: srv.URL})
	positions, err := a.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "MSFT", positions[0].Symbol)
	assert.InDelta(t, 3, positions[0].Quantity, 1e-9)

	acct, err := a.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", acct.Status)
	assert.InDelta(t, 500, acct.ProfitLoss, 1e-9)
	assert.InDelta(t, 50000, acct.Available, 1e-9)
}
