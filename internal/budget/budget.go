// Package budget implements the Budget Gate: the daily-spend precondition
// consulted before a new turn may begin.
package budget

import (
	"context"
	"fmt"

	"github.com/chatgate/chatgate/internal/core"
)

// CostReader is the read side of the Cost Log the gate needs.
type CostReader interface {
	SumToday(ctx context.Context) (float64, error)
}

// Gate compares today's logged spend against a configured daily cap. The
// cap accepts a race with concurrent in-flight turns by design: the
// invariant is that new turns cannot *begin* past the cap, not that
// in-flight turns honor it exactly.
type Gate struct {
	costLog CostReader
	capUSD  float64
}

// New builds a Gate. A zero or negative capUSD disables the gate entirely
// (every call to Check succeeds).
func New(costLog CostReader, capUSD float64) *Gate {
	return &Gate{costLog: costLog, capUSD: capUSD}
}

// Check returns core.ErrBudgetExceeded if today's spend is at or past the
// daily cap. A non-positive cap means no limit is configured.
func (g *Gate) Check(ctx context.Context) error {
	if g.capUSD <= 0 {
		return nil
	}
	today, err := g.costLog.SumToday(ctx)
	if err != nil {
		return fmt.Errorf("budget gate: %w", err)
	}
	if today >= g.capUSD {
		return fmt.Errorf("daily budget of $%.2f reached: %w", g.capUSD, core.ErrBudgetExceeded)
	}
	return nil
}
