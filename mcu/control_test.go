package mcu

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/binp-dev/tornado/protocol"
	"github.com/binp-dev/tornado/ring"
)

type controlStats struct {
	aoLostEmpty atomic.Uint64
	aoLostFull  atomic.Uint64
	aiLostFull  atomic.Uint64
	crcErrors   atomic.Uint64
	dacSamples  atomic.Int64
}

func (s *controlStats) ReportAoLostEmpty(n uint64)        { s.aoLostEmpty.Add(n) }
func (s *controlStats) ReportAoLostFull(n uint64)         { s.aoLostFull.Add(n) }
func (s *controlStats) ReportAiLostFull(n uint64)         { s.aiLostFull.Add(n) }
func (s *controlStats) ReportCrcError()                   { s.crcErrors.Add(1) }
func (s *controlStats) ReportReqExceed(uint64)            {}
func (s *controlStats) ReportIocDrop()                    {}
func (s *controlStats) RecordDacSample(v protocol.Uv)     { s.dacSamples.Add(1) }
func (s *controlStats) RecordAdcSample(int, protocol.Uv)  {}
func (s *controlStats) Reset()                            {}

func newTestControl(t *testing.T) (*Control, *FakeSkifio, *Handle, *ring.Buffer[protocol.Uv], *ring.Buffer[protocol.AiFrame], *controlStats) {
	t.Helper()
	skifio := NewFakeSkifio(time.Millisecond)
	t.Cleanup(func() { skifio.Close() })

	aoRing := ring.New[protocol.Uv](protocol.AoMsgMaxPoints * 4)
	aiRing := ring.New[protocol.AiFrame](protocol.AiMsgMaxPoints * 4)
	handle := NewHandle(protocol.AoMsgMaxPoints, protocol.AiMsgMaxPoints)
	stats := &controlStats{}
	control := NewControl(skifio, aoRing, aiRing, handle, stats, time.Second, nil)
	return control, skifio, handle, aoRing, aiRing, stats
}

func TestControlPushesEverySampleIntoAiRing(t *testing.T) {
	control, _, handle, _, aiRing, _ := newTestControl(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go control.Run(ctx)

	require.Eventually(t, func() bool {
		return aiRing.Len() > 0
	}, time.Second, time.Millisecond)

	_ = handle
	cancel()
}

// FakeSkifio.Transfer echoes out.Dac into the AI frame's channel 0 when
// NextAi is unset, so the AO ring's effect on the DAC sample is observable
// without reaching into Control's unexported, goroutine-owned state.
func TestControlPopsAoRingWhenDacEnabled(t *testing.T) {
	control, _, handle, aoRing, aiRing, _ := newTestControl(t)
	handle.SetDacEnable(true)
	aoRing.Push(protocol.Uv(4242))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go control.Run(ctx)

	require.Eventually(t, func() bool {
		v, ok := aiRing.Pop()
		return ok && v[0] == protocol.Uv(4242)
	}, time.Second, time.Millisecond)

	cancel()
}

func TestControlSkipsSeparatorSamples(t *testing.T) {
	control, _, handle, aoRing, aiRing, _ := newTestControl(t)
	handle.SetDacEnable(true)
	aoRing.Push(protocol.Sep)
	aoRing.Push(protocol.Uv(99))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go control.Run(ctx)

	require.Eventually(t, func() bool {
		v, ok := aiRing.Pop()
		return ok && v[0] == protocol.Uv(99)
	}, time.Second, time.Millisecond)

	cancel()
}

func TestControlReportsAoLostEmptyWhenRingDrained(t *testing.T) {
	control, _, handle, _, _, stats := newTestControl(t)
	handle.SetDacEnable(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go control.Run(ctx)

	require.Eventually(t, func() bool {
		return stats.aoLostEmpty.Load() > 0
	}, time.Second, time.Millisecond)

	cancel()
}

func TestControlFeedsFakeAiFrameIntoRing(t *testing.T) {
	control, skifio, _, _, aiRing, _ := newTestControl(t)

	var frame protocol.AiFrame
	frame[0] = 777
	skifio.NextAi = &frame

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go control.Run(ctx)

	require.Eventually(t, func() bool {
		v, ok := aiRing.Pop()
		return ok && v[0] == 777
	}, time.Second, time.Millisecond)

	cancel()
}

// A hardware sample equal to the Sep sentinel must be collapsed before it
// reaches the AI ring, mirroring the AO side's separator handling so a
// reader can never mistake a real ADC reading for a waveform gap.
func TestControlCollapsesSepInAiFrame(t *testing.T) {
	control, skifio, _, _, aiRing, _ := newTestControl(t)

	var frame protocol.AiFrame
	frame[0] = protocol.Sep
	skifio.NextAi = &frame

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go control.Run(ctx)

	require.Eventually(t, func() bool {
		v, ok := aiRing.Pop()
		return ok && v[0] == protocol.MinUv
	}, time.Second, time.Millisecond)

	cancel()
}

func TestControlSignalsReadyOnDiChange(t *testing.T) {
	control, skifio, handle, _, _, _ := newTestControl(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go control.Run(ctx)

	skifio.WriteDO(protocol.Do(0x3))

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, handle.WaitReady(waitCtx, time.Second))

	cancel()
}
