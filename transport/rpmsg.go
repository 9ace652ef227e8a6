//go:build linux

package transport

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// rpmsgChannel wraps an RPMSG character device opened in 8-bit-clean raw
// mode, as used in production instead of the TCP transport.
type rpmsgChannel struct {
	f *os.File
}

// OpenRPMSG opens the character device at path (e.g. "/dev/rpmsg_skifio")
// read+write, puts it into raw mode (no line discipline, no echo, no
// signal characters), and returns it as a Channel.
func OpenRPMSG(path string) (Channel, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, err
	}

	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		f.Close()
		return nil, err
	}
	makeRaw(t)
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		f.Close()
		return nil, err
	}

	return &rpmsgChannel{f: f}, nil
}

// makeRaw clears the termios flags per the cfmakeraw(3) specification,
// producing an unbuffered, uncooked, 8-bit-clean stream: no line editing,
// no signal generation, no character translation.
func makeRaw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
}

func (c *rpmsgChannel) Read(p []byte) (int, error)  { return c.f.Read(p) }
func (c *rpmsgChannel) Write(p []byte) (int, error) { return c.f.Write(p) }
func (c *rpmsgChannel) Close() error                { return c.f.Close() }

// SetReadDeadline relies on the runtime's netpoller integration for
// character device file descriptors; on Linux this works for devices that
// support poll(2), which RPMSG character devices do.
func (c *rpmsgChannel) SetReadDeadline(t time.Time) error { return c.f.SetReadDeadline(t) }
