package transport

import (
	"context"
	"net"
	"time"
)

// TCPListener accepts the single Mcu-side peer connection. Accepting again
// after a peer drops is supported, matching spec §8 scenario 5 ("accepts
// the next connection cleanly").
type TCPListener struct {
	ln net.Listener
}

// ListenTCP opens addr for the Mcu side to accept the User side's
// connection, e.g. "localhost:4578".
func ListenTCP(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPListener{ln: ln}, nil
}

// Accept blocks for the next incoming connection, or until ctx is done.
func (l *TCPListener) Accept(ctx context.Context) (Channel, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		resultCh <- result{conn, err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, r.err
		}
		return r.conn, nil
	case <-ctx.Done():
		// Unblock the pending Accept by closing the listener; the caller
		// is expected to stop listening on cancellation.
		l.ln.Close()
		<-resultCh
		return nil, ctx.Err()
	}
}

// Close stops accepting new connections.
func (l *TCPListener) Close() error { return l.ln.Close() }

// DialTCP connects to addr, retrying with retryDelay between attempts
// (e.g. on ECONNREFUSED while the Mcu side is still starting up) until it
// succeeds or ctx is done.
func DialTCP(ctx context.Context, addr string, retryDelay time.Duration) (Channel, error) {
	dialer := net.Dialer{}
	for {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		select {
		case <-time.After(retryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
