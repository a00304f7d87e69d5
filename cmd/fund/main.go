package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/pmfund/config"
	"github.com/alejandrodnm/pmfund/internal/adapters/broker"
	"github.com/alejandrodnm/pmfund/internal/adapters/llm"
	"github.com/alejandrodnm/pmfund/internal/adapters/market"
	"github.com/alejandrodnm/pmfund/internal/adapters/notify"
	"github.com/alejandrodnm/pmfund/internal/adapters/storage"
	"github.com/alejandrodnm/pmfund/internal/application/cycle"
	"github.com/alejandrodnm/pmfund/internal/application/scheduler"
	"github.com/alejandrodnm/pmfund/internal/domain"
	"github.com/alejandrodnm/pmfund/internal/ports"
	"github.com/alejandrodnm/pmfund/internal/quant"
	"github.com/alejandrodnm/pmfund/internal/risk"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	bookEquities = "equities"
	bookCrypto   = "crypto"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one tick per book and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print one row per cycle (default: compact 1-line)")
	ledger := flag.Bool("ledger", false, "print NAV history, recent trades and signals, then exit")
	pause := flag.String("pause", "", "deactivate an agent by id and exit")
	resume := flag.String("resume", "", "reactivate an agent by id and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	closeLog := setupLogger(cfg.Log)
	defer closeLog()

	slog.Info("pmfund starting",
		"config", *configPath,
		"agents", len(cfg.Agents),
		"equities_interval", cfg.Schedulers.Equities.Interval(),
		"crypto_interval", cfg.Schedulers.Crypto.Interval(),
		"once", *once,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, options{
		once:   *once,
		table:  *table,
		ledger: *ledger,
		pause:  *pause,
		resume: *resume,
	}); err != nil {
		slog.Error("pmfund exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("pmfund stopped cleanly")
}

type options struct {
	once, table, ledger bool
	pause, resume       string
}

func run(ctx context.Context, cfg *config.Config, opts options) error {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	seeds := cfg.SeedAgents()
	for i := range seeds {
		seeds[i].Watchlist = market.WatchlistFor(seeds[i])
	}
	if err := store.SeedAgents(ctx, seeds); err != nil {
		return err
	}

	switch {
	case opts.pause != "":
		return setActive(ctx, store, opts.pause, false)
	case opts.resume != "":
		return setActive(ctx, store, opts.resume, true)
	case opts.ledger:
		return printLedger(ctx, store)
	}

	router := buildRouter(cfg)
	logVenues(router)
	runner := buildRunner(cfg, store, router)
	console := notify.NewConsole(opts.table)

	books := []struct {
		name  string
		class domain.AssetClass
		sched config.SchedulerConfig
	}{
		{bookEquities, domain.AssetEquity, cfg.Schedulers.Equities},
		{bookCrypto, domain.AssetCrypto, cfg.Schedulers.Crypto},
	}

	mux := http.NewServeMux()
	var (
		schedulers []*scheduler.Scheduler
		hubs       []*notify.Hub
	)
	for _, b := range books {
		if !b.sched.On() {
			slog.Info("scheduler disabled", "book", b.name)
			continue
		}
		hub := notify.NewHub(b.name, cfg.Events.Buffer)
		hubs = append(hubs, hub)
		mux.Handle("/ws/"+b.name, hub)
		schedulers = append(schedulers,
			scheduler.New(b.name, b.name, b.class, runner, store, hub, scheduler.WithReporter(console)))
	}
	defer func() {
		for _, h := range hubs {
			h.Close()
		}
	}()

	if opts.once {
		for _, s := range schedulers {
			if _, err := s.RunTick(ctx); err != nil {
				slog.Error("tick failed", "scheduler", s.Name(), "err", err)
			}
		}
		return nil
	}

	var srv *http.Server
	if cfg.Events.Addr != "" {
		srv = &http.Server{Addr: cfg.Events.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			slog.Info("event stream listening", "addr", cfg.Events.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("event server failed", "err", err)
			}
		}()
	}

	intervals := map[string]time.Duration{
		bookEquities: cfg.Schedulers.Equities.Interval(),
		bookCrypto:   cfg.Schedulers.Crypto.Interval(),
	}
	for _, s := range schedulers {
		s.Start(intervals[s.Name()])
	}

	<-ctx.Done()
	slog.Info("shutting down")

	for _, s := range schedulers {
		s.Stop()
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("event server shutdown", "err", err)
		}
	}
	return nil
}

func buildRouter(cfg *config.Config) *broker.Router {
	return broker.NewRouter(broker.Credentials{
		KIS: broker.KISConfig{
			AppKey:    cfg.Venues.KIS.AppKey,
			AppSecret: cfg.Venues.KIS.AppSecret,
			AccountNo: cfg.Venues.KIS.AccountNo,
			Mock:      cfg.Venues.KIS.Mock,
			BaseURL:   cfg.Venues.KIS.BaseURL,
		},
		Bybit: broker.BybitConfig{
			APIKey:    cfg.Venues.Bybit.APIKey,
			APISecret: cfg.Venues.Bybit.APISecret,
			Testnet:   cfg.Venues.Bybit.Testnet,
			BaseURL:   cfg.Venues.Bybit.BaseURL,
		},
		Alpaca: broker.AlpacaConfig{
			APIKey:    cfg.Venues.Alpaca.APIKey,
			SecretKey: cfg.Venues.Alpaca.SecretKey,
			BaseURL:   cfg.Venues.Alpaca.BaseURL,
		},
		SimFeeRate: cfg.Venues.SimFeeRate,
	})
}

// logVenues deja constancia de qué venues mueven capital real.
func logVenues(router *broker.Router) {
	for venue, b := range router.Brokers() {
		slog.Info("venue ready", "venue", venue, "live", b.IsLive())
	}
}

func buildRunner(cfg *config.Config, store ports.Storage, router ports.BrokerRouter) *cycle.Runner {
	// proveedores sin cliente caen en la regla local
	providers := map[string]ports.DecisionProvider{}
	if cfg.LLM.APIKey != "" {
		claude := llm.NewAnthropic(llm.Config{APIKey: cfg.LLM.APIKey, Model: cfg.LLM.Model, BaseURL: cfg.LLM.BaseURL})
		providers["claude"] = claude
		providers["anthropic"] = claude
	} else {
		slog.Info("no LLM key, every agent decides with the local rule")
	}

	var opts []cycle.Option
	if cfg.Fund.Seed != 0 {
		opts = append(opts, cycle.WithSeed(cfg.Fund.Seed))
	}

	return cycle.NewRunner(cycle.Config{
		MinConviction:     cfg.Fund.MinConviction,
		MinHistory:        cfg.Fund.MinHistory,
		HistoryDays:       cfg.Fund.HistoryDays,
		MaxParallelCycles: cfg.Fund.MaxParallelCycles,
	}, cycle.Deps{
		Store:     store,
		Router:    router,
		Prices:    market.NewSimulated(cfg.Market.Seed),
		Signals:   quant.NewGenerator(),
		Providers: providers,
		Guard: risk.NewGuard(risk.Config{
			PositionLimit:        cfg.Risk.PositionLimit,
			MaxDailyLoss:         cfg.Risk.MaxDailyLoss,
			MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		}),
	}, opts...)
}

func setActive(ctx context.Context, store ports.Storage, id string, active bool) error {
	if err := store.SetAgentActive(ctx, id, active); err != nil {
		return err
	}
	slog.Info("agent updated", "agent", id, "active", active)
	return nil
}

func printLedger(ctx context.Context, store ports.Storage) error {
	console := notify.NewConsole(true)
	trades, err := store.RecentTrades(ctx, 20)
	if err != nil {
		return err
	}
	signals, err := store.RecentSignals(ctx, 20)
	if err != nil {
		return err
	}
	for i, book := range []string{bookEquities, bookCrypto} {
		navs, err := store.NAVHistory(ctx, book, 10)
		if err != nil {
			return err
		}
		// trades y señales solo una vez, tras el último libro
		if i == 0 {
			console.PrintLedger(book, navs, nil, nil)
			continue
		}
		console.PrintLedger(book, navs, trades, signals)
	}
	return nil
}

// setupLogger configura slog. Con log.file los logs van también a un archivo
// rotado por lumberjack. Devuelve el cierre del archivo.
func setupLogger(cfg config.LogConfig) func() {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closeFn = func() { _ = rotator.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	return closeFn
}
