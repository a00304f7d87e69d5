package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/pmfund/internal/domain"
)

// Event types fanned out to live subscribers.
const (
	EventCycle = "cycle"
	EventTick  = "tick"
)

// Event is one message fanned out to live subscribers of a scheduler.
type Event struct {
	Type    string    `json:"type"`
	Book    string    `json:"book"`
	TickID  string    `json:"tick_id"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// EventPublisher delivers events without blocking the publisher.
type EventPublisher interface {
	Publish(ev Event)
}

// TickReporter renders a finished tick for operators.
type TickReporter interface {
	Report(ctx context.Context, report domain.TickReport) error
}
