package cycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/pmfund/internal/domain"
)

// fillOutcome is the ledger state after booking one fill.
type fillOutcome struct {
	trade    domain.Trade
	position domain.Position
	cash     float64
	capital  float64
}

// applyFill books a filled order against the agent's ledger. The fill is
// priced at the venue price when reported, else at marketPrice; the fee is
// the venue fee when reported, else notional × FeeRate. Capital is recomputed
// from cash plus every position marked at its latest price.
func (r *Runner) applyFill(
	ctx context.Context,
	agent domain.Agent,
	positions []domain.Position,
	held domain.Position,
	d domain.Decision,
	order domain.OrderResult,
	marketPrice float64,
	now time.Time,
) fillOutcome {
	price := marketPrice
	if order.FilledPrice != nil && *order.FilledPrice > 0 {
		price = *order.FilledPrice
	}
	qty := order.FilledQty
	fee := qty * price * order.FeeRate
	if order.Fee != nil {
		fee = *order.Fee
	}

	trade := domain.Trade{
		AgentID:    agent.ID,
		Symbol:     held.Symbol,
		Side:       d.Side(),
		Price:      price,
		Fee:        fee,
		Venue:      order.Venue,
		Conviction: d.Conviction,
		Reasoning:  d.Reasoning,
		ExecutedAt: now,
	}

	cash := agent.Cash
	position := held
	if trade.Side == domain.SideBuy {
		position = held.ApplyBuy(qty, price)
		cash -= qty*price + fee
	} else {
		var sold float64
		position, sold = held.ApplySell(qty)
		if sold < qty && qty > 0 {
			fee *= sold / qty
		}
		qty = sold
		trade.Fee = fee
		trade.RealizedPnL = domain.RealizedPnL(sold, price, held.AvgCost, fee)
		cash += sold*price - fee
	}
	trade.Quantity = qty

	return fillOutcome{
		trade:    trade,
		position: position,
		cash:     cash,
		capital:  r.markToMarket(ctx, cash, replacePosition(positions, position), held.Symbol, price),
	}
}

// markToMarket prices every open position: the traded symbol at its fill
// price, the rest at a fresh quote, falling back to cost on quote failure.
func (r *Runner) markToMarket(ctx context.Context, cash float64, positions []domain.Position, traded string, price float64) float64 {
	prices := map[string]float64{traded: price}
	for _, p := range positions {
		if _, ok := prices[p.Symbol]; ok {
			continue
		}
		q, err := r.deps.Prices.CurrentPrice(ctx, p.Symbol)
		if err != nil {
			slog.Debug("mark at cost", "agent", p.AgentID, "symbol", p.Symbol, "err", err)
			continue
		}
		prices[p.Symbol] = q
	}
	return domain.MarkToMarket(cash, positions, prices)
}

// replacePosition returns positions with p swapped in, dropping it if closed.
func replacePosition(positions []domain.Position, p domain.Position) []domain.Position {
	out := make([]domain.Position, 0, len(positions)+1)
	for _, existing := range positions {
		if existing.Symbol != p.Symbol {
			out = append(out, existing)
		}
	}
	if !p.Closed() {
		out = append(out, p)
	}
	return out
}
