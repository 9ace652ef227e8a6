package tornado

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/binp-dev/tornado/internal/logging"
	"github.com/binp-dev/tornado/mcu"
	"github.com/binp-dev/tornado/protocol"
	"github.com/binp-dev/tornado/registry"
	"github.com/binp-dev/tornado/ring"
	"github.com/binp-dev/tornado/transport"
	"github.com/binp-dev/tornado/user"
)

// UserVariables names every registry variable the User-side device
// consumes, following spec §6's subtype table (scalar f64/u32, array
// [f64]). Ai must have exactly protocol.ADCCount entries, one per analog
// input channel in hardware order. Cycle may be left nil to disable
// registry-driven cyclic playback (spec §9's waveform-mode PV is
// optional).
type UserVariables struct {
	AoNext  registry.Variable[[]float64]
	AoAdd   registry.Variable[float64]
	Cycle   registry.Variable[uint32]
	AoReady registry.Variable[uint32]
	Do      registry.Variable[uint32]
	Di      registry.Variable[uint32]
	Debug   registry.Variable[uint32]
	Ai      []registry.Variable[float64]
}

// Dialer opens a fresh transport.Channel to the Mcu peer, retrying with
// its own backoff policy as transport.DialTCP does; RunUser calls it
// once per connection attempt, including reconnects after a dropped
// peer.
type Dialer func(ctx context.Context) (transport.Channel, error)

// RunUser is the User-side Device::run: it starts the registry-watching
// background components once (they outlive any single connection, mirroring
// the Mcu-side control loop's lifetime relative to its dispatcher) and
// then repeatedly dials and serves one Dispatcher connection at a time,
// redialing on a clean disconnect per spec §8 scenario 5. It returns only
// when ctx is cancelled or a background component fails unexpectedly.
func RunUser(ctx context.Context, dial Dialer, vars UserVariables, cfg Config, stats *Statistics, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Default()
	}
	if len(vars.Ai) != protocol.ADCCount {
		return NewError("device.run_user", CodeInvalidInput, fmt.Sprintf("expected %d AI variables, got %d", protocol.ADCCount, len(vars.Ai)))
	}

	aoComponent, aoHandle := user.NewAo(vars.AoNext, vars.AoAdd, vars.Cycle, vars.AoReady, logger)
	doutComponent, doutHandle := user.NewDout(vars.Do)
	dinComponent, dinHandle := user.NewDin(vars.Di)
	debugComponent, dbgHandle := user.NewDebug(vars.Debug)

	aiComponents := make([]*user.Ai, len(vars.Ai))
	for i, v := range vars.Ai {
		aiComponents[i] = user.NewAi(v, stats, logger)
	}

	background := []func(context.Context) error{
		aoComponent.Run, doutComponent.Run, dinComponent.Run, debugComponent.Run,
	}
	for _, a := range aiComponents {
		background = append(background, a.Run)
	}
	bgErrCh := make(chan error, len(background))
	for _, fn := range background {
		fn := fn
		go func() { bgErrCh <- fn(ctx) }()
	}

	for {
		select {
		case bgErr := <-bgErrCh:
			return classifySessionError(ctx, logger, "user background task", bgErr)
		default:
		}

		channel, err := dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("user: dial: %w", err)
		}

		dispatcher := user.NewDispatcher(channel, aiComponents, dinHandle, doutHandle, dbgHandle, aoHandle, cfg.KeepAlivePeriod, logger)
		err = dispatcher.Run(ctx)
		if cerr := classifySessionError(ctx, logger, "user dispatcher", err); cerr != nil {
			return cerr
		}
	}
}

// RunMcu is the Mcu-side Device::run: it starts the sample-rate control
// loop once against skifio (it runs continuously regardless of whether a
// peer is currently connected) and loops accepting one User-side
// connection at a time from listener, serving each with a fresh
// Dispatcher sharing the control loop's rings and handle. It returns only
// when ctx is cancelled or the control loop fails unexpectedly.
func RunMcu(ctx context.Context, listener *transport.TCPListener, skifio mcu.Skifio, cfg Config, stats *Statistics, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Default()
	}

	handle := mcu.NewHandle(protocol.AoMsgMaxPoints, protocol.AiMsgMaxPoints)
	aoRing := ring.New[protocol.Uv](cfg.AOBufferLen)
	aiRing := ring.New[protocol.AiFrame](cfg.AIBufferLen)
	control := mcu.NewControl(skifio, aoRing, aiRing, handle, stats, cfg.HardwareReadyTimeout, logger)

	controlErrCh := make(chan error, 1)
	go func() { controlErrCh <- control.Run(ctx) }()

	for {
		select {
		case controlErr := <-controlErrCh:
			return classifySessionError(ctx, logger, "mcu control loop", controlErr)
		default:
		}

		channel, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("mcu: accept: %w", err)
		}

		dispatcher := mcu.NewDispatcher(channel, aoRing, aiRing, handle, stats, cfg.KeepAliveMaxDelay, cfg.WriterAllocTimeout, logger)
		err = dispatcher.Run(ctx)
		if cerr := classifySessionError(ctx, logger, "mcu dispatcher", err); cerr != nil {
			return cerr
		}
	}
}

// classifySessionError applies spec §7's error policy to one connection
// session's outcome: context cancellation propagates as-is, a
// disconnect-class error (EOF, reset peer, broken pipe, or a malformed
// frame) is logged and swallowed so the caller's accept/dial loop
// continues, and anything else is an unexpected bug that panics rather
// than silently degrading.
func classifySessionError(ctx context.Context, logger *logging.Logger, component string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if logger == nil {
		logger = logging.Default()
	}
	if isDisconnect(err) {
		logger.Infof("%s: peer disconnected: %v", component, err)
		return nil
	}
	panic(fmt.Sprintf("%s: unexpected fatal error: %v", component, err))
}

// isDisconnect reports whether err represents loss of the peer
// connection or a fatal protocol parse error, both of which spec §7
// classes as Disconnected: a short read at EOF, a closed or reset
// socket, a broken pipe on write, or an invalid/oversized frame.
func isDisconnect(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, protocol.ErrInvalidTag) || errors.Is(err, protocol.ErrInvalidLen) || errors.Is(err, protocol.ErrMsgTooLarge) || errors.Is(err, protocol.ErrInvalidDo) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset")
}
