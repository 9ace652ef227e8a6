package mcu

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/binp-dev/tornado/internal/logging"
	"github.com/binp-dev/tornado/protocol"
	"github.com/binp-dev/tornado/ring"
)

// Handle is the state shared between the control loop and the Mcu-side
// dispatcher's writer task: the discrete I/O latches, the DAC enable flag
// and correction bias, and the "ready" notification the writer blocks on.
// Grounded on Rust mcu/user/src/tasks/control.rs's ControlHandle.
type Handle struct {
	readySem chan struct{}

	dacEnabled atomic.Bool
	doValue    atomic.Uint32
	doChanged  atomic.Bool
	diValue    atomic.Uint32
	diChanged  atomic.Bool
	aoAdd      atomic.Int32

	dacNotifyEvery int
	adcNotifyEvery int
}

// NewHandle creates a Handle whose "ready" notification fires every
// dacNotifyEvery DAC ticks or adcNotifyEvery ADC ticks (the protocol's
// per-frame point-count constants), whichever comes first.
func NewHandle(dacNotifyEvery, adcNotifyEvery int) *Handle {
	return &Handle{
		readySem:       make(chan struct{}, 1),
		dacNotifyEvery: dacNotifyEvery,
		adcNotifyEvery: adcNotifyEvery,
	}
}

// SetDacEnable enables or disables DAC output generation.
func (h *Handle) SetDacEnable(enabled bool) { h.dacEnabled.Store(enabled) }

// DacEnabled reports the current DAC enable state.
func (h *Handle) DacEnabled() bool { return h.dacEnabled.Load() }

// SetDO latches a new discrete output vector to be written on the next
// tick.
func (h *Handle) SetDO(v protocol.Do) {
	h.doValue.Store(uint32(v))
	h.doChanged.Store(true)
}

// SetAoAdd updates the correction value added to every DAC sample.
func (h *Handle) SetAoAdd(v protocol.Uv) { h.aoAdd.Store(int32(v)) }

// signalReady performs a non-blocking "try give" of the ready semaphore.
func (h *Handle) signalReady() {
	select {
	case h.readySem <- struct{}{}:
	default:
	}
}

// WaitReady blocks until the control loop has signalled readiness, ctx is
// done, or timeout elapses.
func (h *Handle) WaitReady(ctx context.Context, timeout time.Duration) error {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-h.readySem:
		return nil
	case <-wctx.Done():
		return wctx.Err()
	}
}

// TakeDI returns the last observed discrete input vector and clears the
// changed flag, reporting false if it has not changed since the last call.
func (h *Handle) TakeDI() (protocol.Di, bool) {
	if h.diChanged.CompareAndSwap(true, false) {
		return protocol.Di(h.diValue.Load()), true
	}
	return 0, false
}

func (h *Handle) takeDOIfChanged() (protocol.Do, bool) {
	if h.doChanged.CompareAndSwap(true, false) {
		return protocol.Do(h.doValue.Load()), true
	}
	return 0, false
}

// updateDI stores newDi and reports whether it differs from the
// previously stored value, per spec's "only when the input value changed"
// rule (avoids redundant DiUpdate frames).
func (h *Handle) updateDI(newDi protocol.Di) bool {
	old := protocol.Di(h.diValue.Swap(uint32(newDi)))
	if old != newDi {
		h.diChanged.Store(true)
		return true
	}
	return false
}

// Control is the Mcu sample-rate control loop: the highest-priority task
// on the Mcu side, performing one full hardware exchange per tick.
// Grounded on Rust mcu/user/src/tasks/control.rs's Control::task_main and
// the teacher's queue.Runner.ioLoop (OS-thread pinning, select-driven
// cancellation).
type Control struct {
	skifio  Skifio
	aoRing  *ring.Buffer[protocol.Uv]
	aiRing  *ring.Buffer[protocol.AiFrame]
	handle  *Handle
	stats   statsSink
	logger  *logging.Logger
	hwWait  time.Duration
	lastDac protocol.Uv
	lastAi  protocol.AiFrame

	dacTickCount int
	aiTickCount  int
}

// statsSink is the subset of *tornado.Statistics the control loop writes
// to; expressed as an interface here to avoid an import cycle (tornado
// wires the control loop together with a concrete *Statistics in
// device.go).
type statsSink interface {
	ReportAoLostEmpty(n uint64)
	ReportAoLostFull(n uint64)
	ReportAiLostFull(n uint64)
	ReportCrcError()
	ReportReqExceed(n uint64)
	ReportIocDrop()
	RecordDacSample(v protocol.Uv)
	RecordAdcSample(ch int, v protocol.Uv)
	Reset()
}

// NewControl creates the control loop driving skifio, exchanging points
// with aoRing/aiRing and synchronizing with the dispatcher via handle.
func NewControl(skifio Skifio, aoRing *ring.Buffer[protocol.Uv], aiRing *ring.Buffer[protocol.AiFrame], handle *Handle, stats statsSink, hwWait time.Duration, logger *logging.Logger) *Control {
	if logger == nil {
		logger = logging.Default()
	}
	return &Control{
		skifio: skifio,
		aoRing: aoRing,
		aiRing: aiRing,
		handle: handle,
		stats:  stats,
		hwWait: hwWait,
		logger: logger,
	}
}

// Run drives one tick per loop iteration until ctx is done or a fatal
// hardware error occurs. It pins itself to its OS thread, following the
// teacher's ioLoop pattern for latency-sensitive hardware-facing loops.
func (c *Control) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.tick(ctx); err != nil {
			return err
		}
	}
}

func (c *Control) tick(ctx context.Context) error {
	// 1. Apply current enable flag to the DAC hardware latch.
	c.skifio.SetDacEnable(c.handle.DacEnabled())

	// 2. Block (bounded) waiting for hardware-ready.
	wctx, cancel := context.WithTimeout(ctx, c.hwWait)
	err := c.skifio.WaitReady(wctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("skifio wait_ready timed out, retrying")
		return nil
	}

	ready := false

	// 3. Write DO if it changed.
	if v, changed := c.handle.takeDOIfChanged(); changed {
		c.skifio.WriteDO(v)
	}

	// 4. Read DI; mark ready if it changed.
	if c.handle.updateDI(c.skifio.ReadDI()) {
		ready = true
	}

	// 5. AO source.
	dac := c.lastDac
	if c.handle.DacEnabled() {
		popped := false
		for {
			v, ok := c.aoRing.Pop()
			if !ok {
				break
			}
			if protocol.IsSep(v) {
				continue
			}
			dac = v
			popped = true
			break
		}
		if !popped {
			c.stats.ReportAoLostEmpty(1)
		}
	}
	c.dacTickCount++
	if c.dacTickCount >= c.handle.dacNotifyEvery {
		c.dacTickCount = 0
		ready = true
	}
	c.lastDac = dac
	dac = protocol.ClampUv(int64(dac) + int64(protocol.Uv(c.handle.aoAdd.Load())))
	c.stats.RecordDacSample(dac)

	// 6. Transfer.
	in, err := c.skifio.Transfer(ctx, XferOut{Dac: dac})
	ai := in.Ai
	if err != nil {
		if errors.Is(err, ErrCRCMismatch) {
			c.stats.ReportCrcError()
			ai = c.lastAi
		} else if ctx.Err() != nil {
			return ctx.Err()
		} else {
			return err
		}
	}
	for ch, v := range ai {
		ai[ch] = protocol.CollapseSep(v)
	}
	c.lastAi = ai
	for ch, v := range ai {
		c.stats.RecordAdcSample(ch, v)
	}

	// 7. Push ais into the AI ring.
	if !c.aiRing.Push(ai) {
		c.stats.ReportAiLostFull(1)
	}

	// 8. Increment ai tick count.
	c.aiTickCount++
	if c.aiTickCount >= c.handle.adcNotifyEvery {
		c.aiTickCount = 0
		ready = true
	}

	// 9. Signal the dispatcher's ready semaphore.
	if ready {
		c.handle.signalReady()
	}

	return nil
}
