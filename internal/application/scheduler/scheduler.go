// Package scheduler drives periodic ticks: load the active agents of one asset
// class, run their cycles concurrently, then snapshot the book's NAV.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/pmfund/internal/domain"
	"github.com/alejandrodnm/pmfund/internal/ports"
	"github.com/google/uuid"
)

// CycleRunner es la interfaz mínima que el scheduler necesita del orquestador.
type CycleRunner interface {
	RunAll(ctx context.Context, agents []domain.Agent) []domain.CycleResult
}

// Status es la foto del ciclo de vida de un scheduler.
type Status struct {
	Name       string        `json:"name"`
	Running    bool          `json:"running"`
	Interval   time.Duration `json:"interval"`
	LastError  string        `json:"last_error,omitempty"`
	Ticks      int           `json:"ticks"`
	LastTickAt time.Time     `json:"last_tick_at,omitzero"`
}

// Scheduler ejecuta ticks periódicos para un libro. Stopped → Running → Stopped.
type Scheduler struct {
	name     string
	book     string
	class    domain.AssetClass
	runner   CycleRunner
	store    ports.Storage
	events   ports.EventPublisher
	reporter ports.TickReporter
	now      func() time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
	ticks    int
	lastErr  error
	lastTick time.Time

	// tickMu serializa ticks manuales y periódicos: un NAV por tick, nunca intercalado.
	tickMu sync.Mutex
}

// Option configura un Scheduler.
type Option func(*Scheduler)

// WithReporter añade un reporter que recibe cada tick terminado.
func WithReporter(r ports.TickReporter) Option {
	return func(s *Scheduler) { s.reporter = r }
}

// WithClock sustituye el reloj (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New crea un Scheduler parado. events puede ser nil.
func New(
	name, book string,
	class domain.AssetClass,
	runner CycleRunner,
	store ports.Storage,
	events ports.EventPublisher,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		name:   name,
		book:   book,
		class:  class,
		runner: runner,
		store:  store,
		events: events,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Name devuelve el nombre del scheduler.
func (s *Scheduler) Name() string { return s.name }

// Start arranca el loop periódico. Si ya está corriendo no hace nada y
// devuelve false junto al intervalo vigente.
func (s *Scheduler) Start(interval time.Duration) (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false, s.interval
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.interval = interval
	go s.loop(ctx, interval, s.done)

	slog.Info("scheduler started", "scheduler", s.name, "book", s.book, "interval", interval)
	return true, interval
}

// Stop cancela el loop y espera a que termine el tick en curso, que no se
// interrumpe. Es seguro llamarlo sin haber arrancado.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("scheduler stopped", "scheduler", s.name)
}

// Status devuelve el estado actual. LastError es el último error de tick
// conocido: un tick correcto posterior no lo borra.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Name:       s.name,
		Running:    s.cancel != nil,
		Interval:   s.interval,
		Ticks:      s.ticks,
		LastTickAt: s.lastTick,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			// un tick empezado termina aunque llegue Stop
			if _, err := s.RunTick(context.WithoutCancel(ctx)); err != nil {
				slog.Error("tick failed", "scheduler", s.name, "err", err)
			}
		}
	}
}

// RunTick ejecuta un tick completo de forma síncrona: agentes activos →
// ciclos concurrentes → barrera → un único snapshot de NAV → eventos.
func (s *Scheduler) RunTick(ctx context.Context) (domain.TickReport, error) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	report, err := s.tick(ctx)

	s.mu.Lock()
	s.ticks++
	s.lastTick = report.StartedAt
	if err != nil {
		s.lastErr = err
	}
	s.mu.Unlock()
	return report, err
}

func (s *Scheduler) tick(ctx context.Context) (domain.TickReport, error) {
	report := domain.TickReport{
		TickID:    uuid.NewString(),
		Book:      s.book,
		Class:     s.class,
		StartedAt: s.now().UTC(),
	}
	start := time.Now()

	agents, err := s.store.ActiveAgents(ctx, s.class)
	if err != nil {
		return report, fmt.Errorf("scheduler.tick: load agents: %w", err)
	}

	report.Results = s.runner.RunAll(ctx, agents)

	nav := 0.0
	for _, res := range report.Results {
		nav += res.Capital
	}
	report.NAV, err = s.store.RecordNAV(ctx, s.book, nav)
	report.Duration = time.Since(start)
	if err != nil {
		return report, fmt.Errorf("scheduler.tick: record nav: %w", err)
	}

	s.publish(report)
	if s.reporter != nil {
		if err := s.reporter.Report(ctx, report); err != nil {
			slog.Warn("reporter error", "scheduler", s.name, "err", err)
		}
	}

	slog.Info("tick complete",
		"scheduler", s.name,
		"tick", report.TickID,
		"agents", len(agents),
		"executed", report.Count(domain.StatusExecuted),
		"errors", report.Count(domain.StatusError),
		"nav", fmt.Sprintf("%.2f", report.NAV.NAV),
		"return", fmt.Sprintf("%.4f", report.NAV.PeriodReturn),
		"duration", report.Duration.Round(time.Millisecond),
	)
	return report, nil
}

func (s *Scheduler) publish(report domain.TickReport) {
	if s.events == nil {
		return
	}
	at := s.now().UTC()
	for _, res := range report.Results {
		s.events.Publish(ports.Event{Type: ports.EventCycle, Book: s.book, TickID: report.TickID, At: at, Payload: res})
	}
	s.events.Publish(ports.Event{
		Type:   ports.EventTick,
		Book:   s.book,
		TickID: report.TickID,
		At:     at,
		Payload: map[string]any{
			"agents":        len(report.Results),
			"executed":      report.Count(domain.StatusExecuted),
			"errors":        report.Count(domain.StatusError),
			"nav":           report.NAV.NAV,
			"period_return": report.NAV.PeriodReturn,
			"duration_ms":   report.Duration.Milliseconds(),
		},
	})
}
