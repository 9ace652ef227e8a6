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
	"github.com/binp-dev/tornado/mcu"
	"github.com/binp-dev/tornado/transport"
)

func main() {
	var (
		addr    = flag.String("addr", ":7007", "TCP address to listen on for the user-side peer")
		device  = flag.String("device", "", "SkifIO character device path; if empty, runs against an in-memory fake")
		tickStr = flag.String("tick", "100us", "in-memory fake sample period, ignored with -device")
		verbose = flag.Bool("v", false, "verbose (debug-level) logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	var skifio mcu.Skifio
	if *device == "" {
		period, err := time.ParseDuration(*tickStr)
		if err != nil {
			logger.Error("invalid -tick duration", "error", err)
			os.Exit(1)
		}
		logger.Info("no -device given, running against an in-memory fake SkifIO", "tick", period)
		skifio = mcu.NewFakeSkifio(period)
	} else {
		real, err := mcu.OpenRealSkifio(mcu.SkifioConfig{DevicePath: *device})
		if err != nil {
			logger.Error("failed to open SkifIO device", "device", *device, "error", err)
			os.Exit(1)
		}
		defer real.Close()
		skifio = real
	}

	listener, err := transport.ListenTCP(*addr)
	if err != nil {
		logger.Error("failed to listen", "addr", *addr, "error", err)
		os.Exit(1)
	}
	defer listener.Close()
	logger.Info("listening for user-side connections", "addr", *addr)

	cfg := tornado.DefaultConfig()
	stats := tornado.NewStatistics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- tornado.RunMcu(ctx, listener, skifio, cfg, stats, logger) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
		cancel()
	case err := <-runErrCh:
		if err != nil {
			logger.Error("mcu device stopped with error", "error", err)
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
