// Command catalogctl runs administrative catalog operations against the same
// database, cache and asset backend as the server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agrikart/catalog/internal/app"
	"github.com/agrikart/catalog/internal/config"
	"github.com/agrikart/catalog/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCommand(openCatalog, os.Stdout)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// openCatalog builds the coordinator from environment configuration. Logs go
// to stderr so command output stays parseable.
func openCatalog(ctx context.Context, logLevel string) (Catalog, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}

	log := logger.NewWithWriter("catalogctl", logLevel, os.Stderr)
	core, err := app.NewCore(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return core.Service, func() { _ = core.Close(context.Background()) }, nil
}
