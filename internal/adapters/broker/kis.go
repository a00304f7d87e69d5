package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/alejandrodnm/pmfund/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	kisMockURL = "https://openapivts.koreainvestment.com:29443"
	kisLiveURL = "https://openapi.koreainvestment.com:9443"

	kisOrderPath   = "/uapi/overseas-stock/v1/trading/order"
	kisBalancePath = "/uapi/overseas-stock/v1/trading/inquire-balance"
	kisTokenPath   = "/oauth2/tokenP"

	kisDefaultSuffix   = "01"
	kisDefaultExchange = "NASD"

	// KIS allows 20 req/s on production and 2 req/s on the sandbox.
	kisRatePerSec = 2
)

// kisExchanges maps tickers to overseas exchange codes. Unlisted tickers go to NASD.
var kisExchanges = map[string]string{
	"SPY": "AMEX", "IWM": "AMEX", "DIA": "AMEX", "EWJ": "AMEX",
	"GLD": "NYSE", "VTI": "NYSE", "EWY": "NYSE", "FXI": "NYSE", "EWT": "NYSE", "SH": "NYSE",
	"UVXY": "CBOE",
	"QQQ": "NASD", "AAPL": "NASD", "MSFT": "NASD", "NVDA": "NASD", "TSLA": "NASD",
	"META": "NASD", "GOOGL": "NASD", "AMZN": "NASD", "TLT": "NASD", "AAXJ": "NASD", "SQQQ": "NASD",
}

// ExchangeCode returns the KIS exchange code for symbol.
func ExchangeCode(symbol string) string {
	if code, ok := kisExchanges[strings.ToUpper(symbol)]; ok {
		return code
	}
	return kisDefaultExchange
}

// KISConfig holds the equity venue credentials.
type KISConfig struct {
	AppKey    string
	AppSecret string
	AccountNo string // "50123456-01"
	Mock      bool
	BaseURL   string // overrides the mode URL; tests only
}

// Configured reports whether every credential is present.
func (c KISConfig) Configured() bool {
	return c.AppKey != "" && c.AppSecret != "" && c.AccountNo != ""
}

// KIS routes overseas stock orders to Korea Investment & Securities.
// The OAuth token is cached until InvalidateToken; expiry is not tracked.
type KIS struct {
	cfg     KISConfig
	baseURL string
	http    *client

	mu    sync.Mutex
	token string
}

// NewKIS creates the adapter. No network call happens until the first request.
func NewKIS(cfg KISConfig) *KIS {
	base := cfg.BaseURL
	if base == "" {
		base = kisLiveURL
		if cfg.Mock {
			base = kisMockURL
		}
	}
	return &KIS{
		cfg:     cfg,
		baseURL: strings.TrimRight(base, "/"),
		http:    newClient(kisRatePerSec, 2),
	}
}

func (k *KIS) IsLive() bool { return !k.cfg.Mock }

func (k *KIS) Venue() domain.Venue { return domain.VenueKIS }

// InvalidateToken drops the cached access token.
func (k *KIS) InvalidateToken() {
	k.mu.Lock()
	k.token = ""
	k.mu.Unlock()
}

// accessToken returns the cached token or requests a new one.
// The lock is held across the request so concurrent cycles share one token.
func (k *KIS) accessToken(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.token != "" {
		return k.token, nil
	}

	body, err := json.Marshal(map[string]string{
		"grant_type": "client_credentials",
		"appkey":     k.cfg.AppKey,
		"appsecret":  k.cfg.AppSecret,
	})
	if err != nil {
		return "", fmt.Errorf("kis.accessToken: marshal: %w", err)
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := k.http.post(ctx, k.baseURL+kisTokenPath, nil, body, &resp); err != nil {
		return "", fmt.Errorf("kis.accessToken: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("kis.accessToken: empty token: %w", domain.ErrTransport)
	}
	k.token = resp.AccessToken
	return k.token, nil
}

func (k *KIS) headers(token, trID string) http.Header {
	h := http.Header{}
	h.Set("authorization", "Bearer "+token)
	h.Set("appkey", k.cfg.AppKey)
	h.Set("appsecret", k.cfg.AppSecret)
	h.Set("tr_id", trID)
	h.Set("custtype", "P")
	return h
}

// account splits "50123456-01" into the account and product code.
func (k *KIS) account() (string, string) {
	parts := strings.SplitN(k.cfg.AccountNo, "-", 2)
	if len(parts) < 2 || parts[1] == "" {
		return parts[0], kisDefaultSuffix
	}
	return parts[0], parts[1]
}

func (k *KIS) orderTrID(side domain.Side) string {
	prefix := "T"
	if k.cfg.Mock {
		prefix = "V"
	}
	if side == domain.SideSell {
		return prefix + "TTT1006U"
	}
	return prefix + "TTT1002U"
}

func (k *KIS) balanceTrID() string {
	if k.cfg.Mock {
		return "VTTS3012R"
	}
	return "TTTS3012R"
}

type kisOrderResponse struct {
	RtCd   string `json:"rt_cd"`
	MsgCd  string `json:"msg_cd"`
	Msg1   string `json:"msg1"`
	Output struct {
		ODNO string `json:"ODNO"`
	} `json:"output"`
}

// PlaceOrder submits a market order for whole shares. Fractional quantities
// are floored; less than one share is rejected without calling the venue.
func (k *KIS) PlaceOrder(ctx context.Context, symbol string, qty float64, side domain.Side, _ domain.OrderType) domain.OrderResult {
	shares := decimal.NewFromFloat(qty).Floor()
	if shares.LessThan(decimal.NewFromInt(1)) {
		return domain.Rejected(domain.VenueKIS, fmt.Sprintf("quantity %.4f below one share", qty))
	}

	cano, suffix := k.account()
	body, err := json.Marshal(map[string]string{
		"CANO":            cano,
		"ACNT_PRDT_CD":    suffix,
		"OVRS_EXCG_CD":    ExchangeCode(symbol),
		"PDNO":            symbol,
		"ORD_DVSN":        "00",
		"ORD_QTY":         shares.String(),
		"OVRS_ORD_UNPR":   "0",
		"ORD_SVR_DVSN_CD": "0",
	})
	if err != nil {
		return domain.Failed(domain.VenueKIS, err)
	}

	var resp kisOrderResponse
	// A 401 means the order was never accepted, so one retry with a fresh token is safe.
	for attempt := 0; attempt < 2; attempt++ {
		token, terr := k.accessToken(ctx)
		if terr != nil {
			return domain.Failed(domain.VenueKIS, terr)
		}
		err = k.http.post(ctx, k.baseURL+kisOrderPath, k.headers(token, k.orderTrID(side)), body, &resp)
		if !isUnauthorized(err) {
			break
		}
		k.InvalidateToken()
	}
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && !isUnauthorized(err) {
			return domain.Rejected(domain.VenueKIS, se.Error())
		}
		return domain.Failed(domain.VenueKIS, fmt.Errorf("kis.PlaceOrder: %w", err))
	}

	if resp.RtCd != "0" {
		reason := resp.Msg1
		if reason == "" {
			reason = "unknown"
		}
		return domain.Rejected(domain.VenueKIS, reason)
	}

	filled, _ := shares.Float64()
	return domain.OrderResult{
		Status:       domain.OrderFilled,
		Venue:        domain.VenueKIS,
		Symbol:       symbol,
		Side:         side,
		FilledQty:    filled,
		VenueOrderID: resp.Output.ODNO,
	}
}

type kisBalanceResponse struct {
	RtCd    string `json:"rt_cd"`
	Msg1    string `json:"msg1"`
	Output1 []struct {
		PDNO        string `json:"PDNO"`
		OVRSCblcQty string `json:"OVRS_CBLC_QTY"`
		PchsAvgPric string `json:"PCHS_AVG_PRIC"`
		EvluAmt     string `json:"EVLU_AMT"`
	} `json:"output1"`
	Output2 struct {
		TotEvluPflsAmt string `json:"tot_evlu_pfls_amt"`
		OvrsTotPfls    string `json:"ovrs_tot_pfls"`
	} `json:"output2"`
}

func (k *KIS) balance(ctx context.Context) (kisBalanceResponse, error) {
	var resp kisBalanceResponse
	token, err := k.accessToken(ctx)
	if err != nil {
		return resp, err
	}
	cano, suffix := k.account()
	q := url.Values{}
	q.Set("CANO", cano)
	q.Set("ACNT_PRDT_CD", suffix)
	q.Set("OVRS_EXCG_CD", kisDefaultExchange)
	q.Set("TR_CRCY_CD", "USD")
	q.Set("CTX_AREA_FK200", "")
	q.Set("CTX_AREA_NK200", "")

	err = k.http.get(ctx, k.baseURL+kisBalancePath+"?"+q.Encode(), k.headers(token, k.balanceTrID()), &resp)
	if isUnauthorized(err) {
		k.InvalidateToken()
	}
	if err != nil {
		return resp, fmt.Errorf("kis.balance: %w", err)
	}
	if resp.RtCd != "" && resp.RtCd != "0" {
		return resp, fmt.Errorf("kis.balance: %s: %w", resp.Msg1, domain.ErrBrokerRejected)
	}
	return resp, nil
}

func (k *KIS) GetPositions(ctx context.Context) ([]domain.VenuePosition, error) {
	resp, err := k.balance(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.VenuePosition
	for _, item := range resp.Output1 {
		qty := parseFloat(item.OVRSCblcQty)
		if qty <= 0 {
			continue
		}
		out = append(out, domain.VenuePosition{
			Symbol:      item.PDNO,
			Quantity:    qty,
			AvgCost:     parseFloat(item.PchsAvgPric),
			MarketValue: parseFloat(item.EvluAmt),
		})
	}
	return out, nil
}

func (k *KIS) GetAccount(ctx context.Context) (domain.AccountSummary, error) {
	resp, err := k.balance(ctx)
	if err != nil {
		return domain.AccountSummary{}, err
	}
	return domain.AccountSummary{
		Venue:      domain.VenueKIS,
		Live:       k.IsLive(),
		Equity:     parseFloat(resp.Output2.TotEvluPflsAmt),
		ProfitLoss: parseFloat(resp.Output2.OvrsTotPfls),
		Status:     "ok",
	}, nil
}

// parseFloat reads a venue numeric string, treating blanks and garbage as 0.
func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
