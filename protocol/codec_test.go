package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTripApp(t *testing.T, msg AppMsg) AppMsg {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, EncodeAppMsg(&buf, msg))
	got, err := DecodeAppMsg(&buf)
	require.NoError(t, err)
	return got
}

func roundTripMcu(t *testing.T, msg McuMsg) McuMsg {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, EncodeMcuMsg(&buf, msg))
	got, err := DecodeMcuMsg(&buf)
	require.NoError(t, err)
	return got
}

func TestAppMsgRoundTrip(t *testing.T) {
	require.Equal(t, AppKeepAlive{}, roundTripApp(t, AppKeepAlive{}))
	require.Equal(t, AppDoUpdate{Value: 0x0A}, roundTripApp(t, AppDoUpdate{Value: 0x0A}))
	require.Equal(t, AppAoState{Enable: true}, roundTripApp(t, AppAoState{Enable: true}))
	require.Equal(t, AppAoAdd{Value: -12345}, roundTripApp(t, AppAoAdd{Value: -12345}))
	require.Equal(t, AppStatsReset{}, roundTripApp(t, AppStatsReset{}))

	points := make([]Uv, AoMsgMaxPoints)
	for i := range points {
		points[i] = Uv(i - 1000)
	}
	got := roundTripApp(t, AppAoData{Points: points})
	require.Equal(t, AppAoData{Points: points}, got)
}

func TestAppAoDataTooLarge(t *testing.T) {
	points := make([]Uv, AoMsgMaxPoints+1)
	var buf bytes.Buffer
	err := EncodeAppMsg(&buf, AppAoData{Points: points})
	require.ErrorIs(t, err, ErrMsgTooLarge)
}

func TestMcuMsgRoundTrip(t *testing.T) {
	require.Equal(t, McuDiUpdate{Value: 0xFF}, roundTripMcu(t, McuDiUpdate{Value: 0xFF}))
	require.Equal(t, McuAoRequest{Count: 122}, roundTripMcu(t, McuAoRequest{Count: 122}))
	require.Equal(t, McuError{Code: 3, Message: []byte("bad")}, roundTripMcu(t, McuError{Code: 3, Message: []byte("bad")}))
	require.Equal(t, McuDebug{Message: []byte("hello")}, roundTripMcu(t, McuDebug{Message: []byte("hello")}))

	frames := make([]AiFrame, AiMsgMaxPoints)
	for i := range frames {
		for ch := 0; ch < ADCCount; ch++ {
			frames[i][ch] = Uv(i*ADCCount + ch)
		}
	}
	got := roundTripMcu(t, McuAiData{Frames: frames})
	require.Equal(t, McuAiData{Frames: frames}, got)
}

func TestInvalidTag(t *testing.T) {
	_, err := DecodeAppMsg(bytes.NewReader([]byte{0xFF}))
	require.ErrorIs(t, err, ErrInvalidTag)

	_, err = DecodeMcuMsg(bytes.NewReader([]byte{0xFF}))
	require.ErrorIs(t, err, ErrInvalidTag)
}

func TestDoValidate(t *testing.T) {
	require.NoError(t, Do(0x0F).Validate())
	require.Error(t, Do(0x10).Validate())
}

func TestUvConversions(t *testing.T) {
	require.InDelta(t, 1.5, UvToVolt(1_500_000), 1e-9)
	uv, ok := TryVoltToUv(1.5)
	require.True(t, ok)
	require.Equal(t, Uv(1_500_000), uv)

	require.Equal(t, MaxUv, VoltToUvSaturating(1e9))
	require.Equal(t, MinUv, VoltToUvSaturating(-1e9))
}

func TestSep(t *testing.T) {
	require.True(t, IsSep(Sep))
	require.False(t, IsSep(0))
}
