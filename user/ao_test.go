package user

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/binp-dev/tornado/protocol"
	"github.com/binp-dev/tornado/registry"
)

func TestAoConvertsVoltsToUvOnPush(t *testing.T) {
	nextVar := registry.NewMockVariable[[]float64](nil, 8)
	addVar := registry.NewMockVariable[float64](0, 1)
	ao, handle := NewAo(nextVar, addVar, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ao.Run(ctx)

	nextVar.Push([]float64{0, 1e-3, -1e-3})

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, handle.Stream.WaitReady(waitCtx))

	want := []protocol.Uv{
		protocol.VoltToUvSaturating(0),
		protocol.VoltToUvSaturating(1e-3),
		protocol.VoltToUvSaturating(-1e-3),
	}
	for _, w := range want {
		v, ok := handle.Stream.Next()
		require.True(t, ok)
		require.Equal(t, w, v)
	}
	_, ok := handle.Stream.Next()
	require.False(t, ok, "stream should be exhausted and non-cyclic by default")
}

func TestAoCycleVariableTogglesCyclicPlayback(t *testing.T) {
	nextVar := registry.NewMockVariable[[]float64](nil, 8)
	addVar := registry.NewMockVariable[float64](0, 1)
	cycleVar := registry.NewMockVariable[uint32](0, 1)
	ao, handle := NewAo(nextVar, addVar, cycleVar, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ao.Run(ctx)

	// Matches the original's AoModifier::cyclic ("self.cycle.load() == 0"):
	// the waveform repeats when the PV reads zero, and plays once
	// otherwise.
	require.False(t, handle.Cyclic())
	cycleVar.Push(0)
	require.Eventually(t, func() bool { return handle.Cyclic() }, time.Second, time.Millisecond)

	nextVar.Push([]float64{1e-3, 2e-3})
	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, handle.Stream.WaitReady(waitCtx))

	handle.Stream.Cyclic = handle.Cyclic()
	var seq []protocol.Uv
	for i := 0; i < 5; i++ {
		v, ok := handle.Stream.Next()
		require.True(t, ok, "cyclic stream must never report exhaustion")
		seq = append(seq, v)
	}
	require.Equal(t, protocol.VoltToUvSaturating(1e-3), seq[0])
	require.Equal(t, protocol.VoltToUvSaturating(2e-3), seq[1])
	require.Equal(t, protocol.VoltToUvSaturating(1e-3), seq[2])
	require.Equal(t, protocol.VoltToUvSaturating(2e-3), seq[3])
	require.Equal(t, protocol.VoltToUvSaturating(1e-3), seq[4])

	cycleVar.Push(1)
	require.Eventually(t, func() bool { return !handle.Cyclic() }, time.Second, time.Millisecond)
}

func TestDacWriteCountRestoreAllowsPartialSpend(t *testing.T) {
	c := NewDacWriteCount()
	require.True(t, c.IsZero())

	c.Add(100)
	require.False(t, c.IsZero())
	require.Equal(t, uint64(100), c.TakeAll())
	require.True(t, c.IsZero())

	c.Restore(40)
	require.Equal(t, uint64(40), c.TakeAll())
}
