package tornado

import "time"

// Config holds every tunable named in the configuration table: sample
// timing, frame-size and ring-capacity limits, and keep-alive timing.
// Following the teacher's DeviceParams/DefaultParams pattern: a plain
// struct with a constructor supplying sane defaults, no env/CLI parsing
// inside the core.
type Config struct {
	// SamplePeriod is the Mcu control loop's nominal per-tick period.
	SamplePeriod time.Duration
	// KeepAlivePeriod is how often the User-side writer emits KeepAlive.
	KeepAlivePeriod time.Duration
	// KeepAliveMaxDelay is the Mcu-side reader's read timeout before it
	// declares the peer dead.
	KeepAliveMaxDelay time.Duration

	// MaxAppMsgLen and MaxMcuMsgLen bound the encoded size of a single
	// frame in each direction.
	MaxAppMsgLen int
	MaxMcuMsgLen int

	// ADCCount is the number of simultaneous analog input channels.
	ADCCount int

	// AOBufferLen and AIBufferLen size the Mcu-side SPSC rings.
	AOBufferLen int
	AIBufferLen int

	// HardwareReadyTimeout bounds each control-loop wait for the SkifIO
	// card to signal it is ready for the next transfer.
	HardwareReadyTimeout time.Duration
	// WriterAllocTimeout bounds how long the Mcu-side dispatcher writer
	// waits for the control loop's ready signal before logging and
	// waiting again.
	WriterAllocTimeout time.Duration
}

// DefaultConfig returns the configuration implied by spec §6 and §4's
// constants.
func DefaultConfig() Config {
	return Config{
		SamplePeriod:      100 * time.Microsecond,
		KeepAlivePeriod:   100 * time.Millisecond,
		KeepAliveMaxDelay: 200 * time.Millisecond,

		MaxAppMsgLen: 496,
		MaxMcuMsgLen: 496,
		ADCCount:     6,

		AOBufferLen: 4096,
		AIBufferLen: 4096,

		HardwareReadyTimeout: time.Second,
		WriterAllocTimeout:   time.Second,
	}
}
