package domain

import "errors"

var (
	// ErrInsufficientData skips a cycle without persisting anything.
	ErrInsufficientData = errors.New("insufficient price history")
	// ErrRiskBlocked prefixes the persisted reason of a guard denial.
	ErrRiskBlocked    = errors.New("blocked by risk guard")
	ErrBrokerRejected = errors.New("order rejected by venue")
	ErrTransport      = errors.New("venue transport failure")
	ErrAgentNotFound  = errors.New("agent not found")
)
