package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/pmfund/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.TickReporter escribiendo en la terminal.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un reporter que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un reporter para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Report imprime el tick en el modo configurado.
func (c *Console) Report(_ context.Context, r domain.TickReport) error {
	if len(r.Results) == 0 {
		fmt.Fprintf(c.out, "[%s][%s] no active agents\n", r.StartedAt.Format("15:04:05"), r.Book)
		return nil
	}
	c.printCompact(r)
	if c.table {
		c.printTable(r)
	}
	return nil
}

// printCompact imprime lo esencial en una línea.
func (c *Console) printCompact(r domain.TickReport) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s][%s] %d agents → exec:%d hold:%d skip:%d risk:%d rej:%d err:%d | NAV $%.2f (%+.2f%%)",
		r.StartedAt.Format("15:04:05"), r.Book, len(r.Results),
		r.Count(domain.StatusExecuted),
		r.Count(domain.StatusHold),
		r.Count(domain.StatusSkipped),
		r.Count(domain.StatusRiskBlocked),
		r.Count(domain.StatusRejected),
		r.Count(domain.StatusError),
		r.NAV.NAV, r.NAV.PeriodReturn*100,
	)

	shown := 0
	for _, res := range r.Results {
		if shown >= 3 {
			break
		}
		if !res.Executed() {
			continue
		}
		fmt.Fprintf(&sb, " | %s %s %s %.4g@%.2f", res.AgentID, res.Action, res.Symbol, res.Quantity, res.Price)
		shown++
	}
	fmt.Fprintln(c.out, sb.String())
}

// printTable imprime un ciclo por fila.
func (c *Console) printTable(r domain.TickReport) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Agent", "Symbol", "Venue", "Status", "Action", "Conv", "Qty", "Price", "Capital", "Reason")

	for _, res := range r.Results {
		venue := string(res.Venue)
		if res.Live {
			venue += "*"
		}
		qty, price := "-", "-"
		if res.Executed() {
			qty = fmt.Sprintf("%.4g", res.Quantity)
			price = fmt.Sprintf("$%.2f", res.Price)
		}
		table.Append(
			res.AgentID,
			res.Symbol,
			venue,
			string(res.Status),
			string(res.Action),
			fmt.Sprintf("%.2f", res.Conviction),
			qty,
			price,
			fmt.Sprintf("$%.2f", res.Capital),
			truncate(res.Reason, 40),
		)
	}
	table.Render()
	fmt.Fprintln(c.out, "  * = live venue")
}

// PrintLedger imprime el histórico de NAV, los últimos trades y señales.
func (c *Console) PrintLedger(book string, navs []domain.NAVRecord, trades []domain.Trade, signals []domain.Signal) {
	fmt.Fprintf(c.out, "\n=== %s NAV (latest %d) ===\n", strings.ToUpper(book), len(navs))
	if len(navs) == 0 {
		fmt.Fprintln(c.out, "  No NAV snapshots yet.")
	} else {
		tbl := tablewriter.NewWriter(c.out)
		tbl.Header("Recorded", "NAV", "Return")
		for _, n := range navs {
			tbl.Append(
				n.RecordedAt.Format(time.DateTime),
				fmt.Sprintf("$%.2f", n.NAV),
				fmt.Sprintf("%+.3f%%", n.PeriodReturn*100),
			)
		}
		tbl.Render()
	}

	if len(trades) > 0 {
		fmt.Fprintf(c.out, "\n=== RECENT TRADES ===\n")
		tbl := tablewriter.NewWriter(c.out)
		tbl.Header("Executed", "Agent", "Side", "Symbol", "Qty", "Price", "Fee", "Realized", "Venue")
		for _, t := range trades {
			realized := "-"
			if t.Side == domain.SideSell {
				realized = fmt.Sprintf("$%.2f", t.RealizedPnL)
			}
			tbl.Append(
				t.ExecutedAt.Format(time.DateTime),
				t.AgentID,
				string(t.Side),
				t.Symbol,
				fmt.Sprintf("%.4g", t.Quantity),
				fmt.Sprintf("$%.2f", t.Price),
				fmt.Sprintf("$%.2f", t.Fee),
				realized,
				string(t.Venue),
			)
		}
		tbl.Render()
	}

	if len(signals) > 0 {
		fmt.Fprintf(c.out, "\n=== RECENT SIGNALS ===\n")
		tbl := tablewriter.NewWriter(c.out)
		tbl.Header("Created", "Agent", "Symbol", "Composite", "RSI", "Momentum", "Vol")
		for _, s := range signals {
			tbl.Append(
				s.CreatedAt.Format(time.DateTime),
				s.AgentID,
				s.Symbol,
				fmt.Sprintf("%+.3f", s.Value),
				fmt.Sprintf("%.1f", s.Snapshot.RSI),
				fmt.Sprintf("%+.2f%%", s.Snapshot.Momentum*100),
				fmt.Sprintf("%.2f", s.Snapshot.Volatility),
			)
		}
		tbl.Render()
	}
	fmt.Fprintln(c.out)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
