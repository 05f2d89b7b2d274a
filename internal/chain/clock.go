package chain

import (
	"context"
	"sync/atomic"
)

// The ledger core requires a monotonically increasing global clock supplied
// by the host chain. Implementations return the current block height; the
// service reads it once per call and reuses the value for every timestamp
// written by that call.

// LogicalClock is an in-process height source for tests and single-node
// deployments. Each read advances the height by one, mirroring a chain that
// mines one block per call.
type LogicalClock struct {
	height atomic.Uint64
}

// NewLogicalClock creates a logical clock starting at the given height.
func NewLogicalClock(start uint64) *LogicalClock {
	clock := &LogicalClock{}
	if start > 0 {
		clock.height.Store(start - 1)
	}
	return clock
}

// Height returns the next height. Values are strictly increasing.
func (c *LogicalClock) Height(_ context.Context) (uint64, error) {
	return c.height.Add(1), nil
}
