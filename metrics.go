package tornado

import (
	"sync/atomic"
	"time"

	"github.com/binp-dev/tornado/protocol"
)

// Statistics tracks the running counters named throughout spec §3-§8:
// ring over/underflow on both the DAC and ADC paths, protocol-level CRC
// and flow-control violations, and IOC (peer) connection drops. It also
// tracks a running last-value per DAC/ADC channel, a feature present in
// the original implementation's diagnostic path but dropped from the
// distilled spec; exposed here via DacValue/AdcValues.
type Statistics struct {
	// AoLostEmpty counts samples the Mcu control loop could not pop from
	// the DAC ring because it was empty (the point source fell behind).
	AoLostEmpty atomic.Uint64
	// AoLostFull counts DAC points the Mcu-side dispatcher's writeAo path
	// could not push into the ring because it was full.
	AoLostFull atomic.Uint64
	// AiLostFull counts ADC samples the Mcu control loop could not push
	// into the ADC ring because it was full (the dispatcher fell behind),
	// and, on the User side, samples a per-channel Ai ring could not hold.
	AiLostFull atomic.Uint64
	// CrcErrorCount counts transfer frames rejected by the hardware link
	// due to a checksum mismatch.
	CrcErrorCount atomic.Uint64
	// ReqExceed counts AO points delivered by AoData batches beyond what
	// had been requested via prior AoRequests.
	ReqExceed atomic.Uint64
	// IocDropCount counts keep-alive-timeout-driven peer disconnects.
	IocDropCount atomic.Uint64

	dacLast atomic.Int32
	adcLast [protocol.ADCCount]atomic.Int32

	startTime atomic.Int64
}

// NewStatistics creates a Statistics instance with its start time set to
// now.
func NewStatistics() *Statistics {
	s := &Statistics{}
	s.startTime.Store(time.Now().UnixNano())
	return s
}

// ReportAoLostEmpty records n DAC samples lost to an empty ring.
func (s *Statistics) ReportAoLostEmpty(n uint64) { s.AoLostEmpty.Add(n) }

// ReportAoLostFull records n DAC points dropped because the ring was full.
func (s *Statistics) ReportAoLostFull(n uint64) { s.AoLostFull.Add(n) }

// ReportAiLostFull records n ADC samples dropped because the ring was
// full.
func (s *Statistics) ReportAiLostFull(n uint64) { s.AiLostFull.Add(n) }

// ReportCrcError records a single transfer CRC failure.
func (s *Statistics) ReportCrcError() { s.CrcErrorCount.Add(1) }

// ReportReqExceed records n points received beyond what was requested.
func (s *Statistics) ReportReqExceed(n uint64) { s.ReqExceed.Add(n) }

// ReportIocDrop records a peer disconnect.
func (s *Statistics) ReportIocDrop() { s.IocDropCount.Add(1) }

// RecordDacSample stores the most recently written DAC value.
func (s *Statistics) RecordDacSample(v protocol.Uv) { s.dacLast.Store(int32(v)) }

// RecordAdcSample stores the most recently read value for ADC channel ch.
func (s *Statistics) RecordAdcSample(ch int, v protocol.Uv) { s.adcLast[ch].Store(int32(v)) }

// DacValue returns the most recently recorded DAC sample.
func (s *Statistics) DacValue() protocol.Uv { return protocol.Uv(s.dacLast.Load()) }

// AdcValues returns the most recently recorded sample for each ADC
// channel.
func (s *Statistics) AdcValues() [protocol.ADCCount]protocol.Uv {
	var out [protocol.ADCCount]protocol.Uv
	for i := range out {
		out[i] = protocol.Uv(s.adcLast[i].Load())
	}
	return out
}

// Snapshot is a point-in-time copy of a Statistics instance's counters.
type Snapshot struct {
	AoLostEmpty   uint64
	AoLostFull    uint64
	AiLostFull    uint64
	CrcErrorCount uint64
	ReqExceed     uint64
	IocDropCount  uint64
	DacValue      protocol.Uv
	AdcValues     [protocol.ADCCount]protocol.Uv
	UptimeNs      uint64
}

// Snapshot copies out the current counters.
func (s *Statistics) Snapshot() Snapshot {
	return Snapshot{
		AoLostEmpty:   s.AoLostEmpty.Load(),
		AoLostFull:    s.AoLostFull.Load(),
		AiLostFull:    s.AiLostFull.Load(),
		CrcErrorCount: s.CrcErrorCount.Load(),
		ReqExceed:     s.ReqExceed.Load(),
		IocDropCount:  s.IocDropCount.Load(),
		DacValue:      s.DacValue(),
		AdcValues:     s.AdcValues(),
		UptimeNs:      uint64(time.Now().UnixNano() - s.startTime.Load()),
	}
}

// Reset zeroes every counter and restarts the uptime clock. Called when a
// StatsReset message arrives on the wire.
func (s *Statistics) Reset() {
	s.AoLostEmpty.Store(0)
	s.AoLostFull.Store(0)
	s.AiLostFull.Store(0)
	s.CrcErrorCount.Store(0)
	s.ReqExceed.Store(0)
	s.IocDropCount.Store(0)
	s.startTime.Store(time.Now().UnixNano())
}

// Observer receives statistics events as they happen, for pluggable
// external reporting (e.g. forwarding into the registry's Debug variables).
type Observer interface {
	ObserveAoLostEmpty(n uint64)
	ObserveAoLostFull(n uint64)
	ObserveAiLostFull(n uint64)
	ObserveCrcError()
	ObserveReqExceed(n uint64)
	ObserveIocDrop()
}

// NoOpObserver discards every event.
type NoOpObserver struct{}

func (NoOpObserver) ObserveAoLostEmpty(uint64) {}
func (NoOpObserver) ObserveAoLostFull(uint64)  {}
func (NoOpObserver) ObserveAiLostFull(uint64)  {}
func (NoOpObserver) ObserveCrcError()          {}
func (NoOpObserver) ObserveReqExceed(uint64)   {}
func (NoOpObserver) ObserveIocDrop()           {}

// StatisticsObserver implements Observer by recording into a Statistics
// instance.
type StatisticsObserver struct{ stats *Statistics }

// NewStatisticsObserver creates an observer that records into stats.
func NewStatisticsObserver(stats *Statistics) *StatisticsObserver {
	return &StatisticsObserver{stats: stats}
}

func (o *StatisticsObserver) ObserveAoLostEmpty(n uint64) { o.stats.ReportAoLostEmpty(n) }
func (o *StatisticsObserver) ObserveAoLostFull(n uint64)  { o.stats.ReportAoLostFull(n) }
func (o *StatisticsObserver) ObserveAiLostFull(n uint64)  { o.stats.ReportAiLostFull(n) }
func (o *StatisticsObserver) ObserveCrcError()            { o.stats.ReportCrcError() }
func (o *StatisticsObserver) ObserveReqExceed(n uint64)   { o.stats.ReportReqExceed(n) }
func (o *StatisticsObserver) ObserveIocDrop()             { o.stats.ReportIocDrop() }

var _ Observer = (*StatisticsObserver)(nil)
var _ Observer = NoOpObserver{}
