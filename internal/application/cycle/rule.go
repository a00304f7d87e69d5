package cycle

import (
	"fmt"
	"math"

	"github.com/alejandrodnm/pmfund/internal/domain"
)

const (
	ruleThreshold = 0.5
	ruleSize      = 0.03
	extremeSize   = 0.02
	extremeConv   = 0.55
	neutralConv   = 0.3
	oversoldRSI   = 30
	overboughtRSI = 70
)

// RuleDecision is the deterministic fallback used when an agent is rule-based
// or its decision provider fails. A strong composite trades in its direction;
// otherwise an oversold or overbought RSI trades against the extreme.
func RuleDecision(ind domain.Indicators) domain.Decision {
	score := ind.Composite
	switch {
	case score > ruleThreshold:
		return domain.Decision{
			Action:       domain.ActionBuy,
			Conviction:   math.Min(0.5+score*0.5, 1),
			SizeFraction: ruleSize,
			Reasoning:    fmt.Sprintf("Strong buy signal: composite=%.2f", score),
		}
	case score < -ruleThreshold:
		return domain.Decision{
			Action:       domain.ActionSell,
			Conviction:   math.Min(0.5+math.Abs(score)*0.5, 1),
			SizeFraction: ruleSize,
			Reasoning:    fmt.Sprintf("Strong sell signal: composite=%.2f", score),
		}
	case ind.RSI > 0 && ind.RSI < oversoldRSI:
		return domain.Decision{
			Action:       domain.ActionBuy,
			Conviction:   extremeConv,
			SizeFraction: extremeSize,
			Reasoning:    fmt.Sprintf("Oversold: rsi=%.1f composite=%.2f", ind.RSI, score),
		}
	case ind.RSI > overboughtRSI:
		return domain.Decision{
			Action:       domain.ActionSell,
			Conviction:   extremeConv,
			SizeFraction: extremeSize,
			Reasoning:    fmt.Sprintf("Overbought: rsi=%.1f composite=%.2f", ind.RSI, score),
		}
	default:
		return domain.Decision{
			Action:     domain.ActionHold,
			Conviction: neutralConv,
			Reasoning:  fmt.Sprintf("Neutral signal: composite=%.2f", score),
		}
	}
}
