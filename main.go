package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/go-cubeb/cmd"
	"github.com/tphakala/go-cubeb/internal/buildinfo"
	"github.com/tphakala/go-cubeb/internal/logging"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   = "dev"
	buildDate string
)

func main() {
	logging.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cmd.RootCommand(buildinfo.New(version, buildDate))
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
