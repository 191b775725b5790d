package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/familysavings/golang_services/internal/ledgerctl"
	"github.com/familysavings/golang_services/internal/platform/config"
	"github.com/familysavings/golang_services/internal/platform/logger"
)

func main() {
	cfg, err := config.Load("ledgerctl")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.NewWithWriter(os.Stderr, cfg.LogLevel, "text")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ledgerctl.NewRootCmd(ledgerctl.ConfigOpener(cfg, log)).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
