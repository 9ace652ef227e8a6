package mcu

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/binp-dev/tornado/internal/logging"
	"github.com/binp-dev/tornado/protocol"
	"github.com/binp-dev/tornado/ring"
	"github.com/binp-dev/tornado/transport"
)

// dispatchCommon is shared between a Dispatcher's reader and writer
// goroutines: whether the User-side peer is currently considered alive,
// and how many AO points it has been told it may send but has not yet
// delivered.
type dispatchCommon struct {
	alive       atomic.Bool
	aoRequested atomic.Uint64
}

// Dispatcher multiplexes the Mcu control loop's AO/AI rings and the
// Handle's DI/DO/AoAdd/DacEnable state over a length-framed
// transport.Channel. It runs one reader goroutine decoding AppMsg
// frames and one writer goroutine encoding McuMsg frames, grounded on
// the Rust mcu/user/src/tasks/rpmsg.rs RpmsgReader/RpmsgWriter split
// (a shared "is IOC alive" flag plus an AO-points-requested counter
// reconciled between the two sides).
type Dispatcher struct {
	channel transport.Channel
	aoRing  *ring.Buffer[protocol.Uv]
	aiRing  *ring.Buffer[protocol.AiFrame]
	handle  *Handle
	stats   statsSink
	logger  *logging.Logger

	keepAliveMaxDelay time.Duration
	writerWait        time.Duration

	common dispatchCommon
}

// NewDispatcher creates a Dispatcher over channel. keepAliveMaxDelay
// bounds how long the reader will wait for a message before declaring
// the peer dead; writerWait bounds how long the writer blocks on
// Handle.WaitReady before logging and retrying.
func NewDispatcher(
	channel transport.Channel,
	aoRing *ring.Buffer[protocol.Uv],
	aiRing *ring.Buffer[protocol.AiFrame],
	handle *Handle,
	stats statsSink,
	keepAliveMaxDelay, writerWait time.Duration,
	logger *logging.Logger,
) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		channel:           channel,
		aoRing:            aoRing,
		aiRing:            aiRing,
		handle:            handle,
		stats:             stats,
		logger:            logger,
		keepAliveMaxDelay: keepAliveMaxDelay,
		writerWait:        writerWait,
	}
}

// Run starts the reader and writer loops and blocks until ctx is done
// or either loop returns, whichever happens first. Cancellation closes
// the underlying channel so a blocked Read/Write unblocks immediately,
// following the same cancel-by-close pattern as transport.TCPListener.Accept.
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

func (d *Dispatcher) runReader(ctx context.Context) error {
	for {
		if d.keepAliveMaxDelay > 0 {
			if err := d.channel.SetReadDeadline(time.Now().Add(d.keepAliveMaxDelay)); err != nil {
				return fmt.Errorf("mcu: dispatcher: set read deadline: %w", err)
			}
		}

		msg, err := protocol.DecodeAppMsg(d.channel)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isTimeout(err) {
				if d.common.alive.Load() {
					d.logger.Warn("keep-alive timeout reached, peer connection considered dead")
					d.disconnect()
				}
				continue
			}
			return fmt.Errorf("mcu: dispatcher: read app message: %w", err)
		}

		if !d.common.alive.Load() {
			d.connect()
		}

		switch m := msg.(type) {
		case protocol.AppKeepAlive:
		case protocol.AppDoUpdate:
			d.handle.SetDO(m.Value)
		case protocol.AppAoState:
			d.handle.SetDacEnable(m.Enable)
		case protocol.AppAoData:
			d.writeAo(m.Points)
		case protocol.AppAoAdd:
			d.handle.SetAoAdd(m.Value)
		case protocol.AppStatsReset:
			d.logger.Info("resetting statistics")
			d.stats.Reset()
		default:
			return fmt.Errorf("mcu: dispatcher: unexpected app message %T", msg)
		}
	}
}

func (d *Dispatcher) connect() {
	d.common.aoRequested.Store(0)
	d.handle.SetDacEnable(true)
	d.common.alive.Store(true)
	d.handle.signalReady()
	d.logger.Info("peer connected")
}

func (d *Dispatcher) disconnect() {
	d.common.alive.Store(false)
	d.handle.SetDacEnable(false)
	d.stats.ReportIocDrop()
	d.logger.Info("peer disconnected")
}

// writeAo pushes received AO points into the ring and reconciles the
// outstanding-request counter, reporting the two distinct overflow
// cases the ring and the flow control can independently hit: the ring
// was full (ReportAoLostFull), or the peer sent more than it was told
// it could (ReportReqExceed).
func (d *Dispatcher) writeAo(points []protocol.Uv) {
	pushed := d.aoRing.PushSlice(points)
	if len(points) > pushed {
		d.stats.ReportAoLostFull(uint64(len(points) - pushed))
	}

	need := uint64(len(points))
	requested := d.common.aoRequested.Load()
	if requested < need {
		d.stats.ReportReqExceed(need - requested)
		need = requested
	}
	if need > 0 {
		d.common.aoRequested.Add(^uint64(need - 1)) // atomic subtract, wraps like fetch_sub
	}
}

func (d *Dispatcher) runWriter(ctx context.Context) error {
	for {
		if err := d.handle.WaitReady(ctx, d.writerWait); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Warn("dispatcher writer wait_ready timed out, retrying")
			continue
		}

		if d.common.alive.Load() {
			if err := d.sendDI(); err != nil {
				return err
			}
			if err := d.sendAis(); err != nil {
				return err
			}
			if err := d.sendAoRequest(); err != nil {
				return err
			}
		} else {
			d.discardAis()
		}
	}
}

func (d *Dispatcher) sendDI() error {
	v, ok := d.handle.TakeDI()
	if !ok {
		return nil
	}
	if err := protocol.EncodeMcuMsg(d.channel, protocol.McuDiUpdate{Value: v}); err != nil {
		return fmt.Errorf("mcu: dispatcher: write di update: %w", err)
	}
	return nil
}

// sendAis drains the AI ring in full protocol.AiMsgMaxPoints batches,
// the largest frame the wire format allows, leaving any remainder
// (fewer than one batch) for the next tick.
func (d *Dispatcher) sendAis() error {
	const batch = protocol.AiMsgMaxPoints
	for d.aiRing.Len() >= batch {
		frames := make([]protocol.AiFrame, batch)
		n := d.aiRing.PopInto(frames)
		if n != batch {
			return fmt.Errorf("mcu: dispatcher: short ai pop (%d of %d)", n, batch)
		}
		if err := protocol.EncodeMcuMsg(d.channel, protocol.McuAiData{Frames: frames}); err != nil {
			return fmt.Errorf("mcu: dispatcher: write ai data: %w", err)
		}
	}
	return nil
}

// sendAoRequest asks the peer for as many more AO points as currently
// fit the ring's vacancy minus what is already outstanding, rounded
// down to a multiple of protocol.AoMsgMaxPoints so every AoData reply
// can be a single full frame.
func (d *Dispatcher) sendAoRequest() error {
	const size = uint64(protocol.AoMsgMaxPoints)
	vacant := uint64(d.aoRing.Vacant())
	requested := d.common.aoRequested.Load()
	var raw uint64
	if requested <= vacant {
		raw = vacant - requested
	}
	if raw < size {
		return nil
	}
	count := (raw / size) * size
	d.common.aoRequested.Add(count)
	if err := protocol.EncodeMcuMsg(d.channel, protocol.McuAoRequest{Count: uint32(count)}); err != nil {
		return fmt.Errorf("mcu: dispatcher: write ao request: %w", err)
	}
	return nil
}

// discardAis drops whole AiMsgMaxPoints-sized chunks from the AI ring
// while the peer is disconnected, so the ring does not overflow during
// an outage without holding onto samples nobody will ever read.
func (d *Dispatcher) discardAis() {
	const batch = protocol.AiMsgMaxPoints
	n := d.aiRing.Len()
	d.aiRing.Skip((n / batch) * batch)
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
