// Package transport provides the one duplex byte channel the protocol runs
// over, in its two builds: a TCP socket for testing, and a raw-mode RPMSG
// character device for production. Both implementations satisfy the same
// Channel interface so the dispatchers never know which is underneath.
package transport

import (
	"io"
	"time"
)

// Channel is a duplex byte stream with a settable read deadline, used by
// the Mcu-side dispatcher's reader to implement KEEP_ALIVE_MAX_DELAY
// without a separate timer goroutine per read.
type Channel interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(t time.Time) error
}
