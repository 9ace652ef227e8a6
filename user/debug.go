package user

import (
	"context"
	"fmt"

	"github.com/binp-dev/tornado/registry"
)

// Debug watches the registry's reset-stats trigger variable and
// republishes a signal for the dispatcher's writer task to forward as
// StatsReset, every time the trigger is set to a nonzero value.
// Grounded on Rust app/user/src/device/debug.rs.
type Debug struct {
	variable registry.Variable[uint32]
	ch       chan struct{}
}

// DebugHandle is the signal the dispatcher's writer task receives from.
type DebugHandle = <-chan struct{}

// NewDebug creates the debug-trigger path over variable.
func NewDebug(variable registry.Variable[uint32]) (*Debug, DebugHandle) {
	ch := make(chan struct{}, 1)
	return &Debug{variable: variable, ch: ch}, ch
}

// Run blocks waiting for registry updates, filtering out zero values
// (the trigger's "reset" state), and emits one signal per nonzero
// update.
func (d *Debug) Run(ctx context.Context) error {
	for {
		g, err := d.variable.Wait(ctx)
		if err != nil {
			return fmt.Errorf("user: debug wait: %w", err)
		}
		v := g.Read()
		g.Accept()
		if v == 0 {
			continue
		}
		select {
		case d.ch <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
