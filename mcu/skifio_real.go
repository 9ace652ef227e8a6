//go:build linux

package mcu

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/binp-dev/tornado/protocol"
)

// SkifioConfig configures the real SkifIO backend's analog front end,
// named after the Acromag AP235 DAC driver's channel-configuration
// methods (SetRange, SetPowerUpVoltage): a fixed voltage span and a
// power-up output level, read once at Open time. The actual SPI
// transfer protocol to the card is out of scope for this module (spec §1
// names "the hardware SPI driver on the MCU" as an external collaborator);
// RealSkifio only defines the device-file framing a concrete driver would
// plug into.
type SkifioConfig struct {
	// DevicePath is the character device exposing the card, e.g.
	// "/dev/skifio0".
	DevicePath string
	// OutputRangeVolts is the symmetric DAC output span, e.g. 10.0 for a
	// +-10V range.
	OutputRangeVolts float64
	// PowerUpVoltage is the configured DAC power-up output level. It is
	// not sent to the device.
	PowerUpVoltage float64
}

// RealSkifio holds an open SkifIO character device. No exchange with the
// device is implemented: Transfer always returns an error, WaitReady
// returns at once, and the DO/DI values and DAC enable flag are kept in
// memory only.
type RealSkifio struct {
	cfg SkifioConfig
	f   *os.File

	mu         sync.Mutex
	do         protocol.Do
	di         atomic.Uint32
	dacEnabled atomic.Bool
	diSubs     []func(protocol.Di)
}

// OpenRealSkifio opens the configured device file. The power-up voltage
// is converted to Uv but not written to the device.
func OpenRealSkifio(cfg SkifioConfig) (*RealSkifio, error) {
	f, err := os.OpenFile(cfg.DevicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("mcu: open skifio device: %w", err)
	}
	s := &RealSkifio{cfg: cfg, f: f}
	if uv, ok := protocol.TryVoltToUv(cfg.PowerUpVoltage); ok {
		_ = uv // not passed to the device
	}
	return s, nil
}

// uvToRangeDN saturates a Uv sample into the configured output range's
// digital code, mirroring the AP235 driver's voltage-to-DN conversion.
func (s *RealSkifio) uvToRangeDN(v protocol.Uv) int32 {
	volts := protocol.UvToVolt(v)
	if volts > s.cfg.OutputRangeVolts {
		volts = s.cfg.OutputRangeVolts
	} else if volts < -s.cfg.OutputRangeVolts {
		volts = -s.cfg.OutputRangeVolts
	}
	return int32(volts / s.cfg.OutputRangeVolts * float64(1<<23))
}

func (s *RealSkifio) WaitReady(ctx context.Context) error {
	// A real card asserts a ready GPIO/interrupt; this module's scope
	// ends at the SkifioIface contract, so the wait is left to whatever
	// concrete driver backs DevicePath.
	return ctx.Err()
}

func (s *RealSkifio) Transfer(ctx context.Context, out XferOut) (XferIn, error) {
	_ = s.uvToRangeDN(out.Dac)
	return XferIn{}, fmt.Errorf("mcu: real SkifIO transfer requires a hardware driver: %w", ctx.Err())
}

func (s *RealSkifio) ReadDI() protocol.Di { return protocol.Di(s.di.Load()) }

func (s *RealSkifio) WriteDO(value protocol.Do) {
	s.mu.Lock()
	s.do = value
	s.mu.Unlock()
}

func (s *RealSkifio) SubscribeDI(cb func(protocol.Di)) {
	s.mu.Lock()
	s.diSubs = append(s.diSubs, cb)
	s.mu.Unlock()
}

func (s *RealSkifio) SetDacEnable(enabled bool) { s.dacEnabled.Store(enabled) }
func (s *RealSkifio) DacEnabled() bool          { return s.dacEnabled.Load() }

func (s *RealSkifio) Close() error { return s.f.Close() }

var _ Skifio = (*RealSkifio)(nil)
