package market

import "github.com/alejandrodnm/pmfund/internal/domain"

// Watchlists are the default symbols per agent id, used when a seeded agent
// carries no watchlist of its own.
var Watchlists = map[string][]string{
	"atlas":     {"SPY", "QQQ", "TLT", "GLD", "UUP"},
	"council":   {"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA"},
	"drflow":    {"SPY", "AAPL", "TSLA", "NVDA", "META"},
	"insider":   {"AAPL", "MSFT", "GOOGL", "META", "AMZN"},
	"maxpayne":  {"SPY", "VIX", "SQQQ", "UVXY", "SH"},
	"quantking": {"SPY", "QQQ", "IWM", "DIA", "VTI"},
	"asiatiger": {"EWJ", "EWY", "FXI", "EWT", "AAXJ"},
	"momentum":  {"QQQ", "NVDA", "AAPL", "MSFT", "META"},
	"sentinel":  {"VIX", "TLT", "GLD", "UVXY", "SPY"},
	"voxpopuli": {"GME", "AMC", "BBBY", "SPY", "TSLA"},

	"satoshi":      {"BTC-USD", "ETH-USD", "SOL-USD", "XRP-USD", "DOGE-USD"},
	"defi_whale":   {"ETH-USD", "SOL-USD", "BNB-USD", "ADA-USD", "DOGE-USD"},
	"crypto_quant": {"BTC-USD", "ETH-USD", "SOL-USD", "XRP-USD", "BNB-USD"},
	"moon_hunter":  {"SOL-USD", "ADA-USD", "DOGE-USD", "XRP-USD", "BNB-USD"},
	"bear_guard":   {"BTC-USD", "ETH-USD", "SOL-USD", "BNB-USD", "XRP-USD"},
}

// WatchlistFor returns the agent's own watchlist, then the default for its id,
// then a single broad-market symbol for its asset class.
func WatchlistFor(agent domain.Agent) []string {
	if len(agent.Watchlist) > 0 {
		return agent.Watchlist
	}
	if wl, ok := Watchlists[agent.ID]; ok {
		return wl
	}
	if agent.AssetClass == domain.AssetCrypto {
		return []string{"BTC-USD"}
	}
	return []string{"SPY"}
}
