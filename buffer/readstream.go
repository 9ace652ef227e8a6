package buffer

import "context"

// ReadStream is a stateful iterator over a Reader's current buffer that
// transparently swaps in the next published buffer when the current one is
// exhausted. When Cyclic is set, exhausting the buffer without a pending
// swap rewinds to the start and repeats it, instead of signalling
// exhaustion; this is the point pipeline's steady-state waveform-repeat
// mode.
type ReadStream[T any] struct {
	reader *Reader[T]
	pos    int

	// Cyclic makes Next repeat the current buffer forever once no fresh
	// one is available, instead of returning false.
	Cyclic bool

	// OnSwap, if set, is invoked synchronously every time Next performs a
	// buffer swap.
	OnSwap func()
}

// NewReadStream wraps r in a ReadStream.
func NewReadStream[T any](r *Reader[T]) *ReadStream[T] {
	return &ReadStream[T]{reader: r}
}

func (s *ReadStream[T]) trySwap() bool {
	if s.reader.TrySwap() {
		if s.OnSwap != nil {
			s.OnSwap()
		}
		return true
	}
	return false
}

// Next returns the next value in the stream, swapping in a freshly
// published buffer (or cycling the current one) as needed. ok is false
// only when the buffer is exhausted, no fresh buffer has been published,
// and Cyclic is false.
func (s *ReadStream[T]) Next() (value T, ok bool) {
	for {
		if s.pos < len(s.reader.buf) {
			v := s.reader.buf[s.pos]
			s.pos++
			return v, true
		}
		if s.trySwap() {
			s.pos = 0
			continue
		}
		if s.Cyclic && len(s.reader.buf) > 0 {
			s.pos = 0
			continue
		}
		var zero T
		return zero, false
	}
}

// WaitReady blocks until a fresh buffer has been published, or ctx is done.
func (s *ReadStream[T]) WaitReady(ctx context.Context) error {
	return s.reader.WaitReady(ctx)
}

// HasDataNow reports whether Next can yield a value without first
// swapping in a new buffer: the current snapshot has unread values, or
// Cyclic is set and the snapshot is non-empty (so it will rewind
// instead of swapping). Callers that want to avoid blocking on
// WaitReady unnecessarily should check this first.
func (s *ReadStream[T]) HasDataNow() bool {
	n := s.reader.Len()
	if n == 0 {
		return false
	}
	return s.pos < n || s.Cyclic
}

// Len reports how many unread values remain in the current buffer, not
// counting any buffer that might be published next.
func (s *ReadStream[T]) Len() int { return s.reader.Len() - s.pos }

// IsEmpty reports whether Len is zero.
func (s *ReadStream[T]) IsEmpty() bool { return s.Len() == 0 }
