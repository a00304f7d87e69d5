// Package risk implements pre-trade admission control for live venues.
package risk

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/pmfund/internal/domain"
)

const (
	DefaultPositionLimit        = 0.10
	DefaultMaxDailyLoss         = 0.05
	DefaultMaxConsecutiveLosses = 5

	// boundaryEpsilon absorbs float rounding for orders sized exactly at the cap.
	boundaryEpsilon = 1e-9
)

// Config holds the guard limits, as fractions of agent capital.
type Config struct {
	PositionLimit        float64 // max notional per order / current capital
	MaxDailyLoss         float64 // max realized daily loss / initial capital
	MaxConsecutiveLosses int     // losing sells in a row that pause the agent
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		PositionLimit:        DefaultPositionLimit,
		MaxDailyLoss:         DefaultMaxDailyLoss,
		MaxConsecutiveLosses: DefaultMaxConsecutiveLosses,
	}
}

// Guard evaluates orders against static limits. It is stateless: everything
// it needs comes from the agent and its trade history.
type Guard struct {
	cfg Config
}

// NewGuard creates a guard, filling unset limits with defaults.
func NewGuard(cfg Config) *Guard {
	if cfg.PositionLimit <= 0 {
		cfg.PositionLimit = DefaultPositionLimit
	}
	if cfg.MaxDailyLoss <= 0 {
		cfg.MaxDailyLoss = DefaultMaxDailyLoss
	}
	if cfg.MaxConsecutiveLosses <= 0 {
		cfg.MaxConsecutiveLosses = DefaultMaxConsecutiveLosses
	}
	return &Guard{cfg: cfg}
}

// Config returns the effective limits.
func (g *Guard) Config() Config {
	return g.cfg
}

// MaxNotional is the largest order notional allowed for the agent.
func (g *Guard) MaxNotional(agent domain.Agent) float64 {
	return agent.Capital * g.cfg.PositionLimit
}

// Check runs the three checks in order and stops at the first failure:
// notional cap, daily realized loss cap, consecutive-loss cooldown.
// history may contain any trades of the agent in any order.
func (g *Guard) Check(agent domain.Agent, action domain.Action, notional float64, history []domain.Trade, now time.Time) (bool, string) {
	maxTrade := g.MaxNotional(agent)
	if notional > maxTrade+boundaryEpsilon {
		return false, fmt.Sprintf("trade amount $%.2f exceeds limit $%.2f", notional, maxTrade)
	}

	dailyPnL := DailyRealizedPnL(history, now)
	maxDailyLoss := agent.InitialCapital * g.cfg.MaxDailyLoss
	if dailyPnL < -maxDailyLoss {
		msg := fmt.Sprintf("daily loss $%.2f exceeds limit -$%.2f", dailyPnL, maxDailyLoss)
		slog.Warn("risk halt", "agent", agent.ID, "action", action, "reason", msg)
		return false, msg
	}

	if LossStreak(history, g.cfg.MaxConsecutiveLosses) {
		msg := fmt.Sprintf("%d consecutive losses, trading paused", g.cfg.MaxConsecutiveLosses)
		slog.Warn("risk pause", "agent", agent.ID, "action", action, "reason", msg)
		return false, msg
	}

	return true, "ok"
}

// DailyRealizedPnL sums realized P&L of SELL trades executed on now's UTC day.
func DailyRealizedPnL(history []domain.Trade, now time.Time) float64 {
	dayStart := StartOfDay(now)
	var pnl float64
	for _, t := range history {
		if t.Side != domain.SideSell || t.ExecutedAt.Before(dayStart) {
			continue
		}
		pnl += t.RealizedPnL
	}
	return pnl
}

// LossStreak reports whether the n most recent sells were all losses.
// Fewer than n sells never form a streak.
func LossStreak(history []domain.Trade, n int) bool {
	if n <= 0 {
		return false
	}
	sells := make([]domain.Trade, 0, len(history))
	seen := make(map[int64]bool, len(history))
	for _, t := range history {
		if t.Side != domain.SideSell {
			continue
		}
		if t.ID != 0 {
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
		}
		sells = append(sells, t)
	}
	if len(sells) < n {
		return false
	}
	sort.SliceStable(sells, func(i, j int) bool {
		return sells[i].ExecutedAt.After(sells[j].ExecutedAt)
	})
	for _, t := range sells[:n] {
		if !t.IsLoss() {
			return false
		}
	}
	return true
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// MergeHistory concatenates trade lists dropping rows already seen by ID.
func MergeHistory(lists ...[]domain.Trade) []domain.Trade {
	seen := make(map[int64]bool)
	var out []domain.Trade
	for _, list := range lists {
		for _, t := range list {
			if t.ID != 0 && seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			out = append(out, t)
		}
	}
	return out
}
