package domain

// LedgerChange is the unit of work of one agent cycle. The orchestrator stages
// every write here and hands it to storage in a single commit; a cycle that
// fails before commit simply drops it.
type LedgerChange struct {
	AgentID string

	Signal   *Signal
	Decision *DecisionRecord
	Trade    *Trade

	// Position is written when non-nil; a closed position is deleted.
	Position *Position

	// Cash and Capital are written when UpdateCapital is set.
	UpdateCapital bool
	Cash          float64
	Capital       float64
}

// Empty reports whether there is nothing to commit.
func (c *LedgerChange) Empty() bool {
	return c == nil || (c.Signal == nil && c.Decision == nil && c.Trade == nil &&
		c.Position == nil && !c.UpdateCapital)
}
