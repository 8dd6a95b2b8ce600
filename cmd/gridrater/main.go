package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridrater/gridrater/pkg/clock"
	"github.com/gridrater/gridrater/pkg/log"
	"github.com/gridrater/gridrater/pkg/server"
	"github.com/gridrater/gridrater/pkg/storage"
	"github.com/gridrater/gridrater/pkg/tariff"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	s := storage.Configured()
	clk := clock.Configured()
	reg := tariff.NewMemoryRegistry()

	// init server
	srv := server.Configured(s, reg, clk)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	// restore previously published tariffs before serving
	if err := srv.LoadContracts(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to load contracts", "error", err)
		os.Exit(1)
	}

	// advance the simulation clock in the background when one is configured
	if sim, ok := clock.Unwrap(clk).(*clock.SimClock); ok {
		go sim.Run(ctx, time.Second)
	}

	// Run will block until context is canceled or error happens
	if err := srv.Run(ctx); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
