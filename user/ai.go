package user

import (
	"context"
	"fmt"

	"github.com/binp-dev/tornado/internal/logging"
	"github.com/binp-dev/tornado/protocol"
	"github.com/binp-dev/tornado/registry"
	"github.com/binp-dev/tornado/ring"
)

// statsSink is the subset of *tornado.Statistics the user package
// writes to; a local interface avoids an import cycle with the root
// package, which wires Ao/Ai/Dout/Din together with a concrete
// *Statistics in device.go.
type statsSink interface {
	ReportAiLostFull(n uint64)
}

// aiChannel is a single-producer/single-consumer ring with a coalescing
// "new data" signal, letting Ai.Run block until enough points have
// arrived instead of polling. The ring package itself stays MCU-focused
// (see ring/ring.go's doc comment); this wrapper is user-package-local.
type aiChannel struct {
	buf    *ring.Buffer[protocol.Uv]
	notify chan struct{}
}

func newAiChannel(capacity int) *aiChannel {
	return &aiChannel{buf: ring.New[protocol.Uv](capacity), notify: make(chan struct{}, 1)}
}

func (c *aiChannel) push(v protocol.Uv) bool {
	ok := c.buf.Push(v)
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return ok
}

func (c *aiChannel) waitOccupied(ctx context.Context, n int) error {
	for c.buf.Len() < n {
		select {
		case <-c.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Ai drains one ADC channel's ring into its registry waveform variable,
// MaxLen points at a time, converting raw Uv samples to volts and
// dropping Sep markers. Grounded on Rust app/user/src/device/ai.rs's
// Ai/AiHandle, one instance per ADC channel (the dispatcher owns an
// array of these, matching the Rust `[AiHandle; AI_COUNT]`).
type Ai struct {
	channel *aiChannel
	output  registry.Variable[float64]
	maxLen  int
	stats   statsSink
	logger  *logging.Logger
}

// NewAi creates the AI path for one channel, sized to twice the
// registry variable's max length so a slow consumer tolerates one full
// extra MaxLen batch before dropping samples. output is an array-typed
// registry variable of float64 elements (spec §6's `Variable<[f64]>`),
// written wholesale each round via WriteFrom.
func NewAi(output registry.Variable[float64], stats statsSink, logger *logging.Logger) *Ai {
	if logger == nil {
		logger = logging.Default()
	}
	maxLen := output.MaxLen()
	return &Ai{
		channel: newAiChannel(maxLen * 2),
		output:  output,
		maxLen:  maxLen,
		stats:   stats,
		logger:  logger,
	}
}

// Push feeds raw per-channel samples from an incoming AiData frame,
// reporting ai_lost_full for any sample the ring could not hold.
func (a *Ai) Push(points []protocol.Uv) {
	pushed := 0
	for _, v := range points {
		if a.channel.push(v) {
			pushed++
		}
	}
	if dropped := len(points) - pushed; dropped > 0 {
		a.stats.ReportAiLostFull(uint64(dropped))
	}
}

// Run waits for a full MaxLen batch, converts it to volts (Sep markers
// are dropped, matching the original's "support separation" TODO being
// unimplemented upstream), and writes it into the registry variable.
func (a *Ai) Run(ctx context.Context) error {
	raw := make([]protocol.Uv, a.maxLen)
	for {
		if err := a.channel.waitOccupied(ctx, a.maxLen); err != nil {
			return err
		}
		if n := a.channel.buf.PopInto(raw); n != a.maxLen {
			return fmt.Errorf("user: ai: short pop (%d of %d)", n, a.maxLen)
		}
		volts := make([]float64, 0, a.maxLen)
		for _, v := range raw {
			if protocol.IsSep(v) {
				continue
			}
			volts = append(volts, protocol.UvToVolt(v))
		}
		g, err := a.output.Request(ctx)
		if err != nil {
			return fmt.Errorf("user: ai request: %w", err)
		}
		if err := g.WriteFrom(volts); err != nil {
			return fmt.Errorf("user: ai write: %w", err)
		}
	}
}
