package domain

import "time"

// CycleState is a step of the per-agent trading cycle.
type CycleState string

const (
	StateStart          CycleState = "start"
	StateSignalComputed CycleState = "signal_computed"
	StateDecided        CycleState = "decided"
	StateSkipped        CycleState = "skipped"
	StateRiskBlocked    CycleState = "risk_blocked"
	StateOrderAttempted CycleState = "order_attempted"
	StateSettled        CycleState = "settled"
)

// CycleStatus is the terminal outcome reported to callers.
type CycleStatus string

const (
	StatusExecuted    CycleStatus = "executed"
	StatusHold        CycleStatus = "hold"
	StatusSkipped     CycleStatus = "skipped"
	StatusRiskBlocked CycleStatus = "risk_blocked"
	StatusRejected    CycleStatus = "rejected"
	StatusError       CycleStatus = "error"
)

// CycleResult is the structured outcome of one agent cycle.
type CycleResult struct {
	AgentID    string
	Symbol     string
	Status     CycleStatus
	Reason     string
	Path       []CycleState // states visited, ending in StateSettled
	Action     Action
	Conviction float64
	Composite  float64
	Quantity   float64
	Price      float64
	Fee        float64
	Capital    float64 // post-cycle capital
	Live       bool
	Venue      Venue
	Duration   time.Duration
}

// Executed reports whether a trade was booked.
func (r CycleResult) Executed() bool {
	return r.Status == StatusExecuted
}

// Last returns the last state before settlement.
func (r CycleResult) Last() CycleState {
	for i := len(r.Path) - 1; i >= 0; i-- {
		if r.Path[i] != StateSettled {
			return r.Path[i]
		}
	}
	return StateStart
}

// TickReport summarises one scheduler tick: every agent's outcome and the
// NAV snapshot taken after all of them settled.
type TickReport struct {
	TickID    string
	Book      string
	Class     AssetClass
	StartedAt time.Time
	Duration  time.Duration
	Results   []CycleResult
	NAV       NAVRecord
}

// Count returns how many cycles settled with status.
func (r TickReport) Count(status CycleStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}
