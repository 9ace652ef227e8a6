package user

import (
	"context"
	"fmt"

	"github.com/binp-dev/tornado/protocol"
	"github.com/binp-dev/tornado/registry"
)

const (
	doutBufferSize = 8
	dinBufferSize  = 64
)

// Dout watches a registry scalar variable for discrete-output updates
// and republishes them on a bounded channel for the dispatcher's writer
// task to forward as DoUpdate frames. Grounded on Rust
// app/user/src/device/dio.rs's Dout/DoutHandle.
type Dout struct {
	variable registry.Variable[uint32]
	ch       chan protocol.Do
}

// DoutHandle is the channel the dispatcher's writer task receives from.
type DoutHandle = <-chan protocol.Do

// NewDout creates the discrete-output path over variable.
func NewDout(variable registry.Variable[uint32]) (*Dout, DoutHandle) {
	ch := make(chan protocol.Do, doutBufferSize)
	return &Dout{variable: variable, ch: ch}, ch
}

// Run blocks waiting for registry updates and republishes each one,
// send-blocking if the dispatcher's writer task has fallen behind.
func (d *Dout) Run(ctx context.Context) error {
	for {
		g, err := d.variable.Wait(ctx)
		if err != nil {
			return fmt.Errorf("user: dout wait: %w", err)
		}
		value := protocol.Do(g.Read())
		g.Accept()
		if err := value.Validate(); err != nil {
			return fmt.Errorf("user: dout value: %w", err)
		}
		select {
		case d.ch <- value:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Din receives DiUpdate values from the dispatcher's reader task over a
// bounded channel and writes them into the registry. Grounded on Rust
// app/user/src/device/dio.rs's Din/DinHandle.
type Din struct {
	variable registry.Variable[uint32]
	ch       chan protocol.Di
}

// DinHandle is the channel the dispatcher's reader task sends into,
// send-blocking per spec §4.3's "forward value to DiDriver (bounded
// channel, send-blocking)".
type DinHandle = chan<- protocol.Di

// NewDin creates the discrete-input path over variable.
func NewDin(variable registry.Variable[uint32]) (*Din, DinHandle) {
	ch := make(chan protocol.Di, dinBufferSize)
	return &Din{variable: variable, ch: ch}, ch
}

// Run blocks receiving values from the dispatcher and writes each one
// into the registry variable.
func (d *Din) Run(ctx context.Context) error {
	for {
		var value protocol.Di
		select {
		case value = <-d.ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		g, err := d.variable.Request(ctx)
		if err != nil {
			return fmt.Errorf("user: din request: %w", err)
		}
		if err := g.Write(uint32(value)); err != nil {
			return fmt.Errorf("user: din write: %w", err)
		}
	}
}
