package ring

import (
	"sync"

	"github.com/binp-dev/tornado/protocol"
)

// aoPool and aiPool hold reusable slices sized for exactly one AoData or
// AiData frame, avoiding an allocation on every frame the dispatchers
// build. Adapted from the teacher's size-bucketed sync.Pool, reduced from
// four buckets to the two fixed frame sizes this protocol ever produces.
var (
	aoPool = sync.Pool{New: func() any {
		s := make([]protocol.Uv, 0, protocol.AoMsgMaxPoints)
		return &s
	}}
	aiPool = sync.Pool{New: func() any {
		s := make([]protocol.Uv, 0, protocol.AiMsgMaxPoints*protocol.ADCCount)
		return &s
	}}
)

// GetAoBuffer returns a zero-length slice with capacity for one AoData
// frame's worth of points.
func GetAoBuffer() []protocol.Uv {
	p := aoPool.Get().(*[]protocol.Uv)
	return (*p)[:0]
}

// PutAoBuffer returns buf to the pool for reuse.
func PutAoBuffer(buf []protocol.Uv) {
	buf = buf[:0]
	aoPool.Put(&buf)
}

// GetAiBuffer returns a zero-length slice with capacity for one AiData
// frame's worth of flattened points.
func GetAiBuffer() []protocol.Uv {
	p := aiPool.Get().(*[]protocol.Uv)
	return (*p)[:0]
}

// PutAiBuffer returns buf to the pool for reuse.
func PutAiBuffer(buf []protocol.Uv) {
	buf = buf[:0]
	aiPool.Put(&buf)
}
