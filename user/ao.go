package user

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/binp-dev/tornado/buffer"
	"github.com/binp-dev/tornado/internal/logging"
	"github.com/binp-dev/tornado/protocol"
	"github.com/binp-dev/tornado/registry"
)

// DacWriteCount is the handoff between the dispatcher's reader task
// (which learns how many points the MCU can currently accept via
// AoRequest) and the writer task's AO data pump (which spends that
// budget one AoData frame at a time). Grounded on the Rust
// RpmsgReader/RpmsgWriter split's shared `ao_write_count` async atomic
// (app/user/src/device/dispatch.rs).
type DacWriteCount struct {
	n      atomic.Uint64
	notify chan struct{}
}

// NewDacWriteCount creates a zeroed counter.
func NewDacWriteCount() *DacWriteCount {
	return &DacWriteCount{notify: make(chan struct{}, 1)}
}

// Add increments the budget by n points.
func (c *DacWriteCount) Add(n uint64) {
	c.n.Add(n)
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// WaitNonZero blocks until the budget is nonzero, or ctx is done.
func (c *DacWriteCount) WaitNonZero(ctx context.Context) error {
	for c.n.Load() == 0 {
		select {
		case <-c.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// TakeAll atomically zeroes the counter and returns its previous value.
func (c *DacWriteCount) TakeAll() uint64 { return c.n.Swap(0) }

// Restore adds back whatever a data-pump round did not spend, so a
// future AoRequest is not required to finish draining it.
func (c *DacWriteCount) Restore(n uint64) {
	if n > 0 {
		c.n.Add(n)
	}
}

// IsZero reports whether the counter currently holds no budget.
func (c *DacWriteCount) IsZero() bool { return c.n.Load() == 0 }

// Ao drives the user-side AO waveform path: copying the registry's
// next-waveform array variable into a double buffer whenever it
// updates (saturating volts to Uv), and optionally tracking a
// registry-driven cyclic-playback toggle. Grounded on Rust
// app/user/src/device/ao.rs's Ao/NextReader.
type Ao struct {
	nextVar  registry.Variable[[]float64]
	writer   *buffer.Writer[protocol.Uv]
	cycleVar registry.Variable[uint32]
	readyVar registry.Variable[uint32]
	handle   *AoHandle
	logger   *logging.Logger

	cycleUpdates registry.Stream[uint32]
}

// AoHandle is what the dispatcher's writer task pumps from: a read
// stream over the double buffer, the outstanding write-count budget,
// and the stream of AoAdd correction updates.
type AoHandle struct {
	Stream     *buffer.ReadStream[protocol.Uv]
	WriteCount *DacWriteCount
	AddUpdates registry.Stream[float64]

	cyclic atomic.Bool
}

// Cyclic reports the handle's current cyclic-playback setting; the
// dispatcher's data pump applies it to Stream.Cyclic before packing
// each AoData frame, since Stream itself is only ever touched by that
// one goroutine.
func (h *AoHandle) Cyclic() bool { return h.cyclic.Load() }

// NewAo creates the AO path. addVar carries the scalar correction
// forwarded to the MCU as AoAdd; cycleVar, if non-nil, toggles cyclic
// waveform playback (spec §8 scenario 3's "mode PV"); pass nil to leave
// playback one-shot. readyVar is the back-pressure PV spec §4.2 requires:
// it is stored 1 whenever the read stream swaps in a freshly published
// buffer (telling the control framework it may push the next waveform)
// and stored 0 just before the next-waveform reader starts refilling the
// buffer it swapped out of, grounded on Rust app/user/src/device/ao.rs's
// `AtomicVariable::new(epics.next_ready)` (`AoModifier::swap` stores 1,
// `NextReader::run` stores 0 before taking the write guard).
func NewAo(
	nextVar registry.Variable[[]float64],
	addVar registry.Variable[float64],
	cycleVar registry.Variable[uint32],
	readyVar registry.Variable[uint32],
	logger *logging.Logger,
) (*Ao, *AoHandle) {
	if logger == nil {
		logger = logging.Default()
	}
	reader, writer := buffer.New[protocol.Uv](nextVar.MaxLen())
	handle := &AoHandle{
		Stream:     buffer.NewReadStream(reader),
		WriteCount: NewDacWriteCount(),
		AddUpdates: addVar.Subscribe(),
	}
	ao := &Ao{
		nextVar:  nextVar,
		writer:   writer,
		cycleVar: cycleVar,
		readyVar: readyVar,
		handle:   handle,
		logger:   logger,
	}
	if cycleVar != nil {
		ao.cycleUpdates = cycleVar.Subscribe()
	}
	handle.Stream.OnSwap = func() { ao.setReady(1) }
	ao.setReady(1)
	return ao, handle
}

// setReady stores v into the ready PV, matching the original's
// fire-and-forget atomic store: the Request/Write round trip is not
// expected to block, so a background context is used rather than
// threading ctx through the ReadStream.OnSwap callback signature.
func (a *Ao) setReady(v uint32) {
	if a.readyVar == nil {
		return
	}
	g, err := a.readyVar.Request(context.Background())
	if err != nil {
		a.logger.Warn("ao: failed to request ready variable", "error", err)
		return
	}
	if err := g.Write(v); err != nil {
		a.logger.Warn("ao: failed to write ready variable", "error", err)
	}
}

// Run copies the next-waveform variable into the double buffer every
// time it updates, and (if a cycle variable was configured) mirrors it
// into the handle's cyclic flag. Both loops run until ctx is done or
// either registry wait fails.
func (a *Ao) Run(ctx context.Context) error {
	if a.cycleVar == nil {
		return a.runNextReader(ctx)
	}
	errCh := make(chan error, 2)
	go func() { errCh <- a.runNextReader(ctx) }()
	go func() { errCh <- a.runCycleWatcher(ctx) }()
	err := <-errCh
	if ctx.Err() != nil {
		<-errCh
		return ctx.Err()
	}
	return err
}

func (a *Ao) runNextReader(ctx context.Context) error {
	for {
		g, err := a.nextVar.Wait(ctx)
		if err != nil {
			return fmt.Errorf("user: ao next-waveform wait: %w", err)
		}
		a.setReady(0)
		values := g.Read()
		wg := a.writer.Write()
		for _, v := range values {
			wg.Append(protocol.VoltToUvSaturating(v))
		}
		wg.Release()
		g.Accept()
	}
}

// runCycleWatcher mirrors the cycle PV into the handle's cyclic flag.
// Following the original's AoModifier::cyclic ("self.cycle.load() == 0"),
// playback is cyclic when the PV reads zero and one-shot otherwise.
func (a *Ao) runCycleWatcher(ctx context.Context) error {
	for {
		v, err := a.cycleUpdates.Next(ctx)
		if err != nil {
			return fmt.Errorf("user: ao cycle watcher: %w", err)
		}
		a.handle.cyclic.Store(v == 0)
	}
}
