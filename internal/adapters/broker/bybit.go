package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/pmfund/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	bybitLiveURL = "https://api.bybit.com"
	bybitTestURL = "https://api-testnet.bybit.com"

	bybitRecvWindow = "5000"
	bybitRatePerSec = 10

	// balances below this are treated as dust
	bybitDustBalance = 0.0001
)

var bybitSymbols = map[string]string{
	"BTC-USD":  "BTCUSDT",
	"ETH-USD":  "ETHUSDT",
	"SOL-USD":  "SOLUSDT",
	"BNB-USD":  "BNBUSDT",
	"XRP-USD":  "XRPUSDT",
	"ADA-USD":  "ADAUSDT",
	"DOGE-USD": "DOGEUSDT",
}

// BybitSymbol maps a "BTC-USD" style ticker to the venue's spot pair.
func BybitSymbol(symbol string) string {
	if s, ok := bybitSymbols[strings.ToUpper(symbol)]; ok {
		return s
	}
	return strings.ReplaceAll(strings.ToUpper(symbol), "-", "")
}

// BybitConfig holds the crypto venue credentials.
type BybitConfig struct {
	APIKey    string
	APISecret string
	Testnet   bool
	BaseURL   string // overrides the mode URL; tests only
}

func (c BybitConfig) Configured() bool {
	return c.APIKey != "" && c.APISecret != ""
}

// Bybit routes spot orders to the Bybit v5 API. Every request is signed.
type Bybit struct {
	cfg     BybitConfig
	baseURL string
	http    *client
	now     func() time.Time
}

func NewBybit(cfg BybitConfig) *Bybit {
	base := cfg.BaseURL
	if base == "" {
		base = bybitLiveURL
		if cfg.Testnet {
			base = bybitTestURL
		}
	}
	return &Bybit{
		cfg:     cfg,
		baseURL: strings.TrimRight(base, "/"),
		http:    newClient(bybitRatePerSec, 5),
		now:     time.Now,
	}
}

func (b *Bybit) IsLive() bool { return !b.cfg.Testnet }

func (b *Bybit) Venue() domain.Venue { return domain.VenueBybit }

// Sign returns hex(HMAC-SHA256(secret, timestamp + apiKey + recvWindow + payload)).
// payload is the raw JSON body for POST and the query string for GET.
func Sign(secret, timestamp, apiKey, recvWindow, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + apiKey + recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (b *Bybit) authHeaders(payload string) http.Header {
	ts := strconv.FormatInt(b.now().UnixMilli(), 10)
	h := http.Header{}
	h.Set("X-BAPI-API-KEY", b.cfg.APIKey)
	h.Set("X-BAPI-TIMESTAMP", ts)
	h.Set("X-BAPI-SIGN", Sign(b.cfg.APISecret, ts, b.cfg.APIKey, bybitRecvWindow, payload))
	h.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	return h
}

// bybitEnvelope is the common v5 response wrapper.
type bybitEnvelope[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
}

type bybitOrderRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	TimeInForce string `json:"timeInForce"`
}

// PlaceOrder submits a spot IOC market order and then looks up the fill.
// A failed fill lookup leaves price and fee unset instead of failing the trade.
func (b *Bybit) PlaceOrder(ctx context.Context, symbol string, qty float64, side domain.Side, _ domain.OrderType) domain.OrderResult {
	pair := BybitSymbol(symbol)
	venueSide := "Buy"
	if side == domain.SideSell {
		venueSide = "Sell"
	}
	body, err := json.Marshal(bybitOrderRequest{
		Category:    "spot",
		Symbol:      pair,
		Side:        venueSide,
		OrderType:   "Market",
		Qty:         decimal.NewFromFloat(qty).Round(6).String(),
		TimeInForce: "IOC",
	})
	if err != nil {
		return domain.Failed(domain.VenueBybit, err)
	}

	var resp bybitEnvelope[struct {
		OrderID string `json:"orderId"`
	}]
	if err := b.http.post(ctx, b.baseURL+"/v5/order/create", b.authHeaders(string(body)), body, &resp); err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return domain.Rejected(domain.VenueBybit, se.Error())
		}
		return domain.Failed(domain.VenueBybit, fmt.Errorf("bybit.PlaceOrder: %w", err))
	}
	if resp.RetCode != 0 {
		reason := resp.RetMsg
		if reason == "" {
			reason = "unknown"
		}
		return domain.Rejected(domain.VenueBybit, reason)
	}

	result := domain.OrderResult{
		Status:       domain.OrderFilled,
		Venue:        domain.VenueBybit,
		Symbol:       symbol,
		Side:         side,
		FilledQty:    qty,
		VenueOrderID: resp.Result.OrderID,
	}
	if resp.Result.OrderID == "" {
		return result
	}
	price, fee, err := b.fillInfo(ctx, resp.Result.OrderID)
	if err != nil {
		slog.Warn("bybit fill lookup failed", "order_id", resp.Result.OrderID, "err", err)
		return result
	}
	result.FilledPrice = price
	result.Fee = fee
	return result
}

// fillInfo fetches the average fill price and cumulative fee of an order.
func (b *Bybit) fillInfo(ctx context.Context, orderID string) (*float64, *float64, error) {
	query := "category=spot&orderId=" + url.QueryEscape(orderID)
	var resp bybitEnvelope[struct {
		List []struct {
			AvgPrice   string `json:"avgPrice"`
			CumExecFee string `json:"cumExecFee"`
		} `json:"list"`
	}]
	if err := b.http.get(ctx, b.baseURL+"/v5/order/realtime?"+query, b.authHeaders(query), &resp); err != nil {
		return nil, nil, fmt.Errorf("bybit.fillInfo: %w", err)
	}
	if resp.RetCode != 0 {
		return nil, nil, fmt.Errorf("bybit.fillInfo: %s: %w", resp.RetMsg, domain.ErrBrokerRejected)
	}
	if len(resp.Result.List) == 0 {
		return nil, nil, nil
	}

	order := resp.Result.List[0]
	var price, fee *float64
	if p := parseFloat(order.AvgPrice); p > 0 {
		price = domain.Float(p)
	}
	if order.CumExecFee != "" {
		if f, err := strconv.ParseFloat(order.CumExecFee, 64); err == nil {
			fee = domain.Float(math.Abs(f))
		}
	}
	return price, fee, nil
}

type bybitWallet struct {
	List []struct {
		TotalEquity           string `json:"totalEquity"`
		TotalAvailableBalance string `json:"totalAvailableBalance"`
		TotalPerpUPL          string `json:"totalPerpUPL"`
		Coin                  []struct {
			Coin          string `json:"coin"`
			WalletBalance string `json:"walletBalance"`
			AvgPrice      string `json:"avgPrice"`
			USDValue      string `json:"usdValue"`
		} `json:"coin"`
	} `json:"list"`
}

func (b *Bybit) wallet(ctx context.Context) (bybitWallet, error) {
	const query = "accountType=UNIFIED"
	var resp bybitEnvelope[bybitWallet]
	if err := b.http.get(ctx, b.baseURL+"/v5/account/wallet-balance?"+query, b.authHeaders(query), &resp); err != nil {
		return bybitWallet{}, fmt.Errorf("bybit.wallet: %w", err)
	}
	if resp.RetCode != 0 {
		return bybitWallet{}, fmt.Errorf("bybit.wallet: %s: %w", resp.RetMsg, domain.ErrBrokerRejected)
	}
	return resp.Result, nil
}

// GetPositions reports non-stablecoin balances as "<COIN>-USD" holdings.
func (b *Bybit) GetPositions(ctx context.Context) ([]domain.VenuePosition, error) {
	w, err := b.wallet(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.VenuePosition
	for _, acct := range w.List {
		for _, c := range acct.Coin {
			qty := parseFloat(c.WalletBalance)
			if qty <= bybitDustBalance || c.Coin == "USDT" {
				continue
			}
			out = append(out, domain.VenuePosition{
				Symbol:      c.Coin + "-USD",
				Quantity:    qty,
				AvgCost:     parseFloat(c.AvgPrice),
				MarketValue: parseFloat(c.USDValue),
			})
		}
	}
	return out, nil
}

func (b *Bybit) GetAccount(ctx context.Context) (domain.AccountSummary, error) {
	w, err := b.wallet(ctx)
	if err != nil {
		return domain.AccountSummary{}, err
	}
	sum := domain.AccountSummary{Venue: domain.VenueBybit, Live: b.IsLive(), Status: "ok"}
	if len(w.List) == 0 {
		return sum, nil
	}
	sum.Equity = parseFloat(w.List[0].TotalEquity)
	sum.Available = parseFloat(w.List[0].TotalAvailableBalance)
	sum.ProfitLoss = parseFloat(w.List[0].TotalPerpUPL)
	return sum, nil
}
