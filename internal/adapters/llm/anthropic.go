// Package llm asks a hosted language model for trade decisions.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/alejandrodnm/pmfund/internal/domain"
	"github.com/alejandrodnm/pmfund/internal/ports"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.anthropic.com"
	DefaultModel   = "claude-3-5-haiku-20241022"

	apiVersion   = "2023-06-01"
	maxTokens    = 512
	ratePerSec   = 2
	callTimeout  = 30 * time.Second
	retryCount   = 2
	retryBackoff = 500 * time.Millisecond
)

// ErrNoAPIKey is returned by Decide when the provider has no credentials; the
// orchestrator then falls back to the rule-based decision.
var ErrNoAPIKey = errors.New("llm: api key not configured")

// Personas are the system prompts per agent id. Unknown agents use "atlas".
var Personas = map[string]string{
	"atlas":     "You are Atlas, a macro regime trading AI. You analyze interest rates, VIX, and currency trends to make directional bets on broad market regimes.",
	"council":   "You are The Council, a multi-persona trading AI. You synthesize perspectives from a value investor, growth trader, and macro economist.",
	"drflow":    "You are Dr. Flow, an options flow specialist. You identify unusual options activity that signals informed money movements.",
	"insider":   "You are Insider, a smart money tracker. You follow SEC Form 4 filings and 13F reports to front-run institutional moves.",
	"maxpayne":  "You are Max Payne, a contrarian trader. You fade extreme sentiment and buy when others panic.",
	"satoshi":   "You are Satoshi, a crypto specialist. You analyze on-chain metrics, DeFi flows, and crypto market cycles.",
	"quantking": "You are Quant King, a pure quantitative trader. You follow signals mechanically with no emotional bias.",
	"asiatiger": "You are Asia Tiger, specializing in Asian markets. You track Nikkei, Hang Seng, and Korean KOSPI patterns.",
	"momentum":  "You are Momentum, a trend-following trader. You buy strength and sell weakness using 52-week momentum.",
	"sentinel":  "You are Sentinel, a risk management specialist. Your primary goal is capital preservation through hedging.",
	"voxpopuli": "You are Vox Populi, a social sentiment analyst. You detect tipping points in Reddit, Google Trends, and news before they impact prices.",
}

const decisionSchema = `{"action":"BUY | SELL | HOLD","conviction":"float 0.0-1.0","reasoning":"string max 200 chars","position_size":"float 0.0-0.10 (fraction of capital)"}`

// Config configures the Anthropic provider.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Anthropic implements ports.DecisionProvider over the Messages API.
type Anthropic struct {
	cfg     Config
	http    *resty.Client
	limiter *rate.Limiter
}

var _ ports.DecisionProvider = (*Anthropic)(nil)

func NewAnthropic(cfg Config) *Anthropic {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(callTimeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(retryBackoff).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetHeader("x-api-key", cfg.APIKey).
		SetHeader("anthropic-version", apiVersion)
	return &Anthropic{
		cfg:     cfg,
		http:    client,
		limiter: rate.NewLimiter(ratePerSec, 2),
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Decide sends the opportunity to the model and parses its JSON answer.
// The result is not normalized; callers apply the conviction floor.
func (a *Anthropic) Decide(ctx context.Context, req ports.DecisionRequest) (domain.Decision, error) {
	if a.cfg.APIKey == "" {
		return domain.Decision{}, ErrNoAPIKey
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return domain.Decision{}, fmt.Errorf("llm.Decide: rate limiter: %w", err)
	}

	prompt, err := buildPrompt(req)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("llm.Decide: %w", err)
	}
	body := messagesRequest{
		Model:     a.cfg.Model,
		MaxTokens: maxTokens,
		System:    persona(req.AgentID) + "\n\nRespond ONLY with valid JSON matching this schema: " + decisionSchema,
		Messages:  []message{{Role: "user", Content: prompt}},
	}

	var out messagesResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post("/v1/messages")
	if err != nil {
		return domain.Decision{}, fmt.Errorf("llm.Decide: request: %w", err)
	}
	if !resp.IsSuccess() {
		return domain.Decision{}, fmt.Errorf("llm.Decide: status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}

	for _, c := range out.Content {
		if c.Type != "text" {
			continue
		}
		d, err := ParseDecision(c.Text)
		if err != nil {
			return domain.Decision{}, fmt.Errorf("llm.Decide: %w", err)
		}
		return d, nil
	}
	return domain.Decision{}, errors.New("llm.Decide: empty response")
}

func buildPrompt(req ports.DecisionRequest) (string, error) {
	signals, err := json.Marshal(req.Signals)
	if err != nil {
		return "", fmt.Errorf("marshal signals: %w", err)
	}
	mc, err := json.Marshal(req.Context)
	if err != nil {
		return "", fmt.Errorf("marshal context: %w", err)
	}
	return fmt.Sprintf("Analyze this trading opportunity:\nSymbol: %s\nQuant Signals: %s\nMarket Context: %s\n\n"+
		"Make a trading decision. If conviction < 0.5, use HOLD.\n", req.Symbol, signals, mc), nil
}

// ParseDecision extracts the first JSON object from the model's text, which
// may be wrapped in prose or a code fence.
func ParseDecision(text string) (domain.Decision, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return domain.Decision{}, fmt.Errorf("no JSON object in %q", truncate(text, 80))
	}
	var raw struct {
		Action       string  `json:"action"`
		Conviction   float64 `json:"conviction"`
		Reasoning    string  `json:"reasoning"`
		PositionSize float64 `json:"position_size"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return domain.Decision{}, fmt.Errorf("decode decision: %w", err)
	}
	return domain.Decision{
		Action:       domain.Action(strings.ToUpper(strings.TrimSpace(raw.Action))),
		Conviction:   raw.Conviction,
		SizeFraction: raw.PositionSize,
		Reasoning:    raw.Reasoning,
	}, nil
}

func persona(agentID string) string {
	if p, ok := Personas[agentID]; ok {
		return p
	}
	return Personas["atlas"]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
