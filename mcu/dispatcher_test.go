package mcu

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/binp-dev/tornado/protocol"
	"github.com/binp-dev/tornado/ring"
)

type fakeStats struct {
	ioc       struct{ n int }
	aoLostFull atomic.Uint64
	reqExceed  atomic.Uint64
}

func (f *fakeStats) ReportAoLostEmpty(uint64)         {}
func (f *fakeStats) ReportAoLostFull(n uint64)         { f.aoLostFull.Add(n) }
func (f *fakeStats) ReportAiLostFull(uint64)           {}
func (f *fakeStats) ReportCrcError()                   {}
func (f *fakeStats) ReportReqExceed(n uint64)           { f.reqExceed.Add(n) }
func (f *fakeStats) ReportIocDrop()                    { f.ioc.n++ }
func (f *fakeStats) RecordDacSample(protocol.Uv)       {}
func (f *fakeStats) RecordAdcSample(int, protocol.Uv)  {}
func (f *fakeStats) Reset()                            {}

func newTestDispatcher(t *testing.T) (*Dispatcher, net.Conn, *Handle, *ring.Buffer[protocol.Uv], *ring.Buffer[protocol.AiFrame]) {
	t.Helper()
	userSide, mcuSide := net.Pipe()
	t.Cleanup(func() { userSide.Close() })

	aoRing := ring.New[protocol.Uv](protocol.AoMsgMaxPoints * 4)
	aiRing := ring.New[protocol.AiFrame](protocol.AiMsgMaxPoints * 4)
	handle := NewHandle(protocol.AoMsgMaxPoints, protocol.AiMsgMaxPoints)
	d := NewDispatcher(mcuSide, aoRing, aiRing, handle, &fakeStats{}, 200*time.Millisecond, 50*time.Millisecond, nil)
	return d, userSide, handle, aoRing, aiRing
}

func TestDispatcherConnectOnFirstMessage(t *testing.T) {
	d, userSide, _, _, _ := newTestDispatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.NoError(t, protocol.EncodeAppMsg(userSide, protocol.AppKeepAlive{}))
	require.Eventually(t, func() bool { return d.common.alive.Load() }, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestDispatcherDoUpdateReachesHandle(t *testing.T) {
	d, userSide, handle, _, _ := newTestDispatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.NoError(t, protocol.EncodeAppMsg(userSide, protocol.AppDoUpdate{Value: 0x05}))
	require.Eventually(t, func() bool {
		v, changed := handle.takeDOIfChanged()
		return changed && v == 0x05
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestDispatcherSendsDiUpdateOnChange(t *testing.T) {
	d, userSide, handle, _, _ := newTestDispatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.NoError(t, protocol.EncodeAppMsg(userSide, protocol.AppKeepAlive{}))
	require.Eventually(t, func() bool { return d.common.alive.Load() }, time.Second, time.Millisecond)

	// The connect-triggered wake only drains whatever is ready at that
	// instant (an AoRequest, since the AO ring starts empty); the DI
	// change needs its own explicit wake.
	userSide.SetReadDeadline(time.Now().Add(time.Second))
	_, err := protocol.DecodeMcuMsg(userSide)
	require.NoError(t, err)

	handle.updateDI(protocol.Di(0x03))
	handle.signalReady()

	userSide.SetReadDeadline(time.Now().Add(time.Second))
	msg, err := protocol.DecodeMcuMsg(userSide)
	require.NoError(t, err)
	di, ok := msg.(protocol.McuDiUpdate)
	require.True(t, ok)
	require.Equal(t, protocol.Di(0x03), di.Value)

	cancel()
	<-done
}

func TestDispatcherAoRequestAndAoData(t *testing.T) {
	d, userSide, _, aoRing, _ := newTestDispatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.NoError(t, protocol.EncodeAppMsg(userSide, protocol.AppKeepAlive{}))

	userSide.SetReadDeadline(time.Now().Add(time.Second))
	msg, err := protocol.DecodeMcuMsg(userSide)
	require.NoError(t, err)
	req, ok := msg.(protocol.McuAoRequest)
	require.True(t, ok)
	require.True(t, req.Count > 0)
	require.Zero(t, req.Count%protocol.AoMsgMaxPoints)

	points := make([]protocol.Uv, protocol.AoMsgMaxPoints)
	for i := range points {
		points[i] = protocol.Uv(i)
	}
	require.NoError(t, protocol.EncodeAppMsg(userSide, protocol.AppAoData{Points: points}))

	require.Eventually(t, func() bool { return aoRing.Len() == protocol.AoMsgMaxPoints }, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestDispatcherDisconnectOnKeepAliveTimeout(t *testing.T) {
	d, userSide, _, _, _ := newTestDispatcher(t)
	d.keepAliveMaxDelay = 30 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.NoError(t, protocol.EncodeAppMsg(userSide, protocol.AppKeepAlive{}))
	require.Eventually(t, func() bool { return d.common.alive.Load() }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return !d.common.alive.Load() }, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestDispatcherDiscardsAiWhilePeerDead(t *testing.T) {
	d, userSide, handle, _, aiRing := newTestDispatcher(t)
	_ = userSide

	for i := 0; i < protocol.AiMsgMaxPoints*2+3; i++ {
		aiRing.Push(protocol.AiFrame{})
	}
	// The writer only acts on a ready signal, which the control loop
	// normally gives; there is no control loop in this rig.
	handle.signalReady()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return aiRing.Len() < protocol.AiMsgMaxPoints }, time.Second, time.Millisecond)

	cancel()
	<-done
}
