package user

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/binp-dev/tornado/internal/logging"
	"github.com/binp-dev/tornado/protocol"
	"github.com/binp-dev/tornado/ring"
	"github.com/binp-dev/tornado/transport"
)

// Dispatcher multiplexes the User-side AO double-buffer stream, the DO/
// AoAdd/debug registry events, and the Mcu-side DI/AoRequest/AiData traffic
// over a single transport.Channel. It runs one reader goroutine decoding
// McuMsg frames and a writer side composed of five independently
// scheduled sub-activities sharing one channel-writer mutex. Grounded on
// the Rust app/user/src/device/dispatch.rs Reader/Writer split (the
// `try_join_all` of keep-alive/stats/do/ao-add/ao-data tasks) and the
// teacher's mutex-guarded-writer composition for concurrent goroutines
// sharing one channel.
type Dispatcher struct {
	channel transport.Channel

	ai   []*Ai // one per ADC channel
	din  DinHandle
	dout DoutHandle
	dbg  DebugHandle
	ao   *AoHandle

	logger *logging.Logger

	keepAlivePeriod time.Duration

	writeMu sync.Mutex
}

// NewDispatcher creates a Dispatcher over channel. ai must have exactly
// protocol.ADCCount entries, one per analog input channel, in channel
// order.
func NewDispatcher(
	channel transport.Channel,
	ai []*Ai,
	din DinHandle,
	dout DoutHandle,
	dbg DebugHandle,
	ao *AoHandle,
	keepAlivePeriod time.Duration,
	logger *logging.Logger,
) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		channel:         channel,
		ai:              ai,
		din:             din,
		dout:            dout,
		dbg:             dbg,
		ao:              ao,
		logger:          logger,
		keepAlivePeriod: keepAlivePeriod,
	}
}

// Run starts the reader task and the writer task's five sub-activities,
// blocking until ctx is done or any of them returns, whichever happens
// first. Cancellation closes the underlying channel so a blocked
// Read/Write unblocks immediately, following the same cancel-by-close
// pattern as the Mcu-side Dispatcher.
func (d *Dispatcher) Run(ctx context.Context) error {
	closeOnDone := make(chan struct{})
	defer close(closeOnDone)
	go func() {
		select {
		case <-ctx.Done():
			d.channel.Close()
		case <-closeOnDone:
		}
	}()

	errCh := make(chan error, 2)
	go func() { errCh <- d.runReader(ctx) }()
	go func() { errCh <- d.runWriter(ctx) }()

	err := <-errCh
	if ctx.Err() != nil {
		<-errCh
		return ctx.Err()
	}
	return err
}

// runReader repeatedly decodes one McuMsg frame and dispatches it. Per
// spec §4.3, a protocol Error frame is fatal and unrecoverable from the
// User side's perspective, so it panics rather than returning; any other
// read failure (EOF, connection reset, or a malformed frame) propagates
// as an ordinary error for Run/the caller to classify.
func (d *Dispatcher) runReader(ctx context.Context) error {
	for {
		msg, err := protocol.DecodeMcuMsg(d.channel)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("user: dispatcher: read mcu message: %w", err)
		}

		switch m := msg.(type) {
		case protocol.McuDiUpdate:
			select {
			case d.din <- protocol.Di(m.Value):
			case <-ctx.Done():
				return ctx.Err()
			}
		case protocol.McuAoRequest:
			d.ao.WriteCount.Add(uint64(m.Count))
		case protocol.McuAiData:
			d.pushAi(m.Frames)
		case protocol.McuError:
			panic(fmt.Sprintf("user: dispatcher: mcu reported fatal error %d: %s", m.Code, m.Message))
		case protocol.McuDebug:
			d.logger.Infof("mcu debug: %s", string(m.Message))
		default:
			return fmt.Errorf("user: dispatcher: unexpected mcu message %T", msg)
		}
	}
}

// pushAi demultiplexes a batch of simultaneous-sample AiFrame values into
// their per-channel destinations, reusing a pooled scratch slice rather
// than allocating one per channel per frame.
func (d *Dispatcher) pushAi(frames []protocol.AiFrame) {
	if len(d.ai) == 0 || len(frames) == 0 {
		return
	}
	scratch := ring.GetAiBuffer()
	defer ring.PutAiBuffer(scratch)

	for ch, channel := range d.ai {
		col := scratch[:0]
		for _, f := range frames {
			col = append(col, f[ch])
		}
		channel.Push(col)
	}
}

// runWriter composes the five writer sub-activities described in spec
// §4.3: a child context ties their lifetimes together so that one
// sub-activity failing (other than by ctx cancellation) tears down the
// rest instead of leaking goroutines.
func (d *Dispatcher) runWriter(ctx context.Context) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	activities := []func(context.Context) error{
		d.runKeepAlive,
		d.runStatsReset,
		d.runDoUpdate,
		d.runAoAdd,
		d.runAoPump,
	}
	errCh := make(chan error, len(activities))
	for _, activity := range activities {
		activity := activity
		go func() { errCh <- activity(wctx) }()
	}

	err := <-errCh
	cancel()
	for i := 1; i < len(activities); i++ {
		<-errCh
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// writeApp serializes one AppMsg write under the shared channel mutex.
// Every sub-activity, the AO data pump included, holds it only for the
// encode and write of one frame; the pump packs its points into the
// frame before taking the mutex.
func (d *Dispatcher) writeApp(msg protocol.AppMsg) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	return protocol.EncodeAppMsg(d.channel, msg)
}

// runKeepAlive is the sole liveness signal in either direction: it fires
// unconditionally every keepAlivePeriod regardless of what else is
// happening on the channel.
func (d *Dispatcher) runKeepAlive(ctx context.Context) error {
	ticker := time.NewTicker(d.keepAlivePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := d.writeApp(protocol.AppKeepAlive{}); err != nil {
				return fmt.Errorf("user: dispatcher: write keep-alive: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runStatsReset forwards every Debug-variable trigger event as a
// StatsReset frame.
func (d *Dispatcher) runStatsReset(ctx context.Context) error {
	for {
		select {
		case <-d.dbg:
			if err := d.writeApp(protocol.AppStatsReset{}); err != nil {
				return fmt.Errorf("user: dispatcher: write stats reset: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runDoUpdate forwards every DO-channel event as a DoUpdate frame.
func (d *Dispatcher) runDoUpdate(ctx context.Context) error {
	for {
		select {
		case v := <-d.dout:
			if err := d.writeApp(protocol.AppDoUpdate{Value: v}); err != nil {
				return fmt.Errorf("user: dispatcher: write do update: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runAoAdd forwards every registry update to the AO correction variable
// as an AoAdd frame, converting volts to Uv with saturating arithmetic.
func (d *Dispatcher) runAoAdd(ctx context.Context) error {
	for {
		v, err := d.ao.AddUpdates.Next(ctx)
		if err != nil {
			return fmt.Errorf("user: dispatcher: ao-add updates: %w", err)
		}
		uv := protocol.VoltToUvSaturating(v)
		if err := d.writeApp(protocol.AppAoAdd{Value: uv}); err != nil {
			return fmt.Errorf("user: dispatcher: write ao-add: %w", err)
		}
	}
}

// runAoPump is the crux sub-activity (spec §4.3 item 5): it waits until
// both the MCU has granted write budget and the waveform stream has data
// ready, packs one AoData frame up to AoMsgMaxPoints points, and restores
// any unspent budget so a future request completes it.
func (d *Dispatcher) runAoPump(ctx context.Context) error {
	for {
		if err := d.ao.WriteCount.WaitNonZero(ctx); err != nil {
			return err
		}

		d.ao.Stream.Cyclic = d.ao.Cyclic()
		if !d.ao.Stream.HasDataNow() {
			if err := d.ao.Stream.WaitReady(ctx); err != nil {
				return err
			}
			d.ao.Stream.Cyclic = d.ao.Cyclic()
		}

		count := d.ao.WriteCount.TakeAll()
		if count == 0 {
			continue
		}

		buf := ring.GetAoBuffer()
		for uint64(len(buf)) < count && len(buf) < protocol.AoMsgMaxPoints {
			v, ok := d.ao.Stream.Next()
			if !ok {
				break
			}
			buf = append(buf, v)
		}
		spent := uint64(len(buf))

		if spent > 0 {
			err := d.writeApp(protocol.AppAoData{Points: buf})
			ring.PutAoBuffer(buf)
			if err != nil {
				return fmt.Errorf("user: dispatcher: write ao data: %w", err)
			}
		} else {
			ring.PutAoBuffer(buf)
		}

		if spent < count {
			d.ao.WriteCount.Restore(count - spent)
		}
	}
}
