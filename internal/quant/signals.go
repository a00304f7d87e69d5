// Package quant calcula el composite score que alimenta cada ciclo de trading.
// Todas las funciones son puras.
package quant

import (
	"math"

	"github.com/alejandrodnm/pmfund/internal/domain"
)

const (
	RSIPeriod        = 14
	MomentumLookback = 252
	VolatilityPeriod = 20
	TradingDays      = 252

	rsiWeight      = 0.4
	momentumWeight = 0.6
)

// Generator implementa ports.SignalGenerator.
type Generator struct{}

func NewGenerator() Generator { return Generator{} }

// Generate calcula RSI, momentum y volatilidad sobre closes (más antiguo primero)
// y los combina en un composite en [-1, 1].
//
//	composite = clip(0.4 × rsiSignal + 0.6 × momentumSignal, -1, 1)
func (Generator) Generate(_ string, closes []float64) domain.Indicators {
	rsi := RSI(closes, RSIPeriod)
	momentum := Momentum(closes, MomentumLookback)
	rsiSignal := RSISignal(rsi)
	momentumSignal := MomentumSignal(momentum)
	return domain.Indicators{
		RSI:            rsi,
		Momentum:       momentum,
		Volatility:     Volatility(closes, VolatilityPeriod),
		RSISignal:      rsiSignal,
		MomentumSignal: momentumSignal,
		Composite:      clip(rsiWeight*rsiSignal+momentumWeight*momentumSignal, -1, 1),
	}
}

// RSI devuelve el Relative Strength Index con medias simples de las últimas
// period variaciones. Sin pérdidas: 100 si hubo ganancias, 50 si no hubo movimiento.
// Series demasiado cortas devuelven 50 (neutral).
func RSI(closes []float64, period int) float64 {
	if period <= 0 || len(closes) < period+1 {
		return 50
	}
	var gain, loss float64
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(period)
	loss /= float64(period)
	if loss == 0 {
		if gain > 0 {
			return 100
		}
		return 50
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}

// Momentum es el retorno simple sobre min(lookback, len-1) períodos.
func Momentum(closes []float64, lookback int) float64 {
	lookback = min(lookback, len(closes)-1)
	if lookback <= 0 {
		return 0
	}
	start := closes[len(closes)-lookback-1]
	if start == 0 {
		return 0
	}
	return (closes[len(closes)-1] - start) / start
}

// Volatility es la desviación estándar muestral de los últimos period retornos
// diarios, anualizada con √252. Con menos retornos usa todos los disponibles.
func Volatility(closes []float64, period int) float64 {
	var returns []float64
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	if len(returns) > period {
		returns = returns[len(returns)-period:]
	}
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var ss float64
	for _, r := range returns {
		ss += (r - mean) * (r - mean)
	}
	return math.Sqrt(ss/float64(len(returns)-1)) * math.Sqrt(TradingDays)
}

// RSISignal mapea el RSI a una señal contraria: sobrevendido compra, sobrecomprado vende.
func RSISignal(rsi float64) float64 {
	switch {
	case rsi < 30:
		return 0.8
	case rsi < 40:
		return 0.4
	case rsi > 70:
		return -0.8
	case rsi > 60:
		return -0.4
	default:
		return 0
	}
}

// MomentumSignal escala el momentum ×10 y lo recorta a [-1, 1].
func MomentumSignal(momentum float64) float64 {
	return clip(momentum*10, -1, 1)
}

func clip(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
