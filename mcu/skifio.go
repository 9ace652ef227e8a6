// Package mcu implements the Mcu-side endpoint: the sample-rate control
// loop driving the SkifIO card (or a fake stand-in) and the dispatcher
// multiplexing that loop's traffic over the wire protocol.
package mcu

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/binp-dev/tornado/protocol"
)

// XferOut is the outgoing half of one hardware exchange: the DAC sample
// for this tick.
type XferOut struct{ Dac protocol.Uv }

// XferIn is the incoming half of one hardware exchange: one ADC sample per
// channel.
type XferIn struct{ Ai protocol.AiFrame }

// ErrCRCMismatch is returned by Transfer when the hardware link reports a
// checksum failure on the returned frame; the caller substitutes the
// previous sample and counts the event rather than treating it as fatal.
var ErrCRCMismatch = errors.New("mcu: crc mismatch on transfer")

// Skifio is the hardware contract the control loop drives, matching spec
// §9's "Fake vs real back-end" note: wait_ready, transfer, read_di,
// write_do, subscribe_di, and DAC enable get/set. The control loop is
// written entirely against this interface and does not know which backend
// is live, following the teacher's Backend/DiscardBackend split (one
// required surface, real vs in-memory implementations behind it).
type Skifio interface {
	// WaitReady blocks until the hardware signals it is ready for the
	// next transfer, or ctx is done.
	WaitReady(ctx context.Context) error
	// Transfer performs one full-duplex hardware exchange.
	Transfer(ctx context.Context, out XferOut) (XferIn, error)
	// ReadDI returns the current discrete input vector.
	ReadDI() protocol.Di
	// WriteDO latches a new discrete output vector.
	WriteDO(value protocol.Do)
	// SubscribeDI registers a callback invoked whenever the discrete
	// input vector changes out of band (hardware interrupt on a real
	// backend; unused by the fake backend's poll-driven loop).
	SubscribeDI(cb func(protocol.Di))
	// SetDacEnable enables or disables DAC output generation.
	SetDacEnable(enabled bool)
	// DacEnabled reports the last value passed to SetDacEnable.
	DacEnabled() bool
	// Close releases any underlying hardware resource.
	Close() error
}

// FakeSkifio is an in-memory Skifio for host-side integration tests. It
// paces WaitReady with a ticker so callers see a realistic tick rate, and
// feeds the discrete output vector back into the discrete input vector,
// matching spec §8 scenario 6's fake-backend DO/DI loopback.
type FakeSkifio struct {
	mu         sync.Mutex
	ticker     *time.Ticker
	do         protocol.Do
	dacEnabled bool
	diSubs     []func(protocol.Di)

	// NextAi, if set, is returned verbatim as the next Transfer's AI
	// frame instead of the DAC-loopback default; tests use this to drive
	// specific ADC sequences.
	NextAi *protocol.AiFrame
}

// NewFakeSkifio creates a fake backend ticking at period.
func NewFakeSkifio(period time.Duration) *FakeSkifio {
	return &FakeSkifio{ticker: time.NewTicker(period)}
}

func (f *FakeSkifio) WaitReady(ctx context.Context) error {
	select {
	case <-f.ticker.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FakeSkifio) Transfer(ctx context.Context, out XferOut) (XferIn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NextAi != nil {
		frame := *f.NextAi
		return XferIn{Ai: frame}, nil
	}
	var frame protocol.AiFrame
	frame[0] = out.Dac
	return XferIn{Ai: frame}, nil
}

func (f *FakeSkifio) ReadDI() protocol.Di {
	f.mu.Lock()
	defer f.mu.Unlock()
	return protocol.Di(f.do)
}

func (f *FakeSkifio) WriteDO(value protocol.Do) {
	f.mu.Lock()
	f.do = value
	di := protocol.Di(value)
	subs := append([]func(protocol.Di){}, f.diSubs...)
	f.mu.Unlock()
	for _, cb := range subs {
		cb(di)
	}
}

func (f *FakeSkifio) SubscribeDI(cb func(protocol.Di)) {
	f.mu.Lock()
	f.diSubs = append(f.diSubs, cb)
	f.mu.Unlock()
}

func (f *FakeSkifio) SetDacEnable(enabled bool) {
	f.mu.Lock()
	f.dacEnabled = enabled
	f.mu.Unlock()
}

func (f *FakeSkifio) DacEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dacEnabled
}

func (f *FakeSkifio) Close() error {
	f.ticker.Stop()
	return nil
}

var _ Skifio = (*FakeSkifio)(nil)
