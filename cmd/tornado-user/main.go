package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tornado "github.com/binp-dev/tornado"
	"github.com/binp-dev/tornado/internal/logging"
	"github.com/binp-dev/tornado/protocol"
	"github.com/binp-dev/tornado/registry"
	"github.com/binp-dev/tornado/transport"
)

// This command has no real process-variable registry to bind against
// (spec §1 leaves that out of scope), so it stands up an in-memory
// registry.MockVariable set per PV for a standalone demo run, the way
// the teacher's cmd/ublk-mem wires a backend.NewMemory demo backend
// instead of a real block device.
func main() {
	var (
		addr    = flag.String("addr", "localhost:7007", "MCU-side TCP address to dial")
		verbose = flag.Bool("v", false, "verbose (debug-level) logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	cfg := tornado.DefaultConfig()
	stats := tornado.NewStatistics()

	vars := tornado.UserVariables{
		AoNext: registry.NewMockVariable[[]float64](nil, protocol.AoMsgMaxPoints*8),
		AoAdd:  registry.NewMockVariable[float64](0, 1),
		Cycle:  registry.NewMockVariable[uint32](0, 1),
		Do:     registry.NewMockVariable[uint32](0, 1),
		Di:     registry.NewMockVariable[uint32](0, 1),
		Debug:  registry.NewMockVariable[uint32](0, 1),
	}
	for i := 0; i < protocol.ADCCount; i++ {
		vars.Ai = append(vars.Ai, registry.NewMockVariable[float64](0, 4))
	}

	dial := func(ctx context.Context) (transport.Channel, error) {
		return transport.DialTCP(ctx, *addr, time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- tornado.RunUser(ctx, dial, vars, cfg, stats, logger) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
		cancel()
	case err := <-runErrCh:
		if err != nil {
			logger.Error("user device stopped with error", "error", err)
			os.Exit(1)
		}
		return
	}

	select {
	case <-runErrCh:
	case <-time.After(time.Second):
		logger.Warn("shutdown timed out, forcing exit")
	}

	snap := stats.Snapshot()
	fmt.Printf("final statistics: %+v\n", snap)
}
