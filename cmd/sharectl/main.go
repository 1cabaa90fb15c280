package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/openshare/openshare/cmd/sharectl/commands"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Build metadata, injected via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	// SIGINT/SIGTERM cancel the root context; long-running commands like
	// serve drain on cancellation rather than exiting mid-message.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// setupLogging configures the pre-command global logger; commands that build
// a runtime replace it with the configured one.
func setupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && parsed != zerolog.NoLevel {
		level = parsed
	}
	zerolog.SetGlobalLevel(level)
}
