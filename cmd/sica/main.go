// Spins up the sica cache server: the framed socket transport, the HTTP surface and, optionally, a Redis port, all
// backed by one cache store.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nobletooth/sica/pkg/cache"
	"github.com/nobletooth/sica/pkg/config"
	"github.com/nobletooth/sica/pkg/port"
	"github.com/nobletooth/sica/pkg/utils"
	"golang.org/x/sync/errgroup"
)

var printVersion = flag.Bool("print_version", false, "Print the version and exit.")

func main() {
	if err := config.InitFlags(); err != nil {
		slog.Error("Invalid configuration.", "error", err)
		os.Exit(2)
	}
	utils.InitLogging()

	if *printVersion {
		slog.Info("Sica build info.", "version", utils.Version, "major", utils.MajorVersion(), "commit", utils.Commit,
			"build", utils.BuildTime)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil {
		slog.Error("Sica server stopped.", "error", err)
		os.Exit(1)
	}
	slog.Info("Sica server stopped.", "uptime", utils.Uptime())
}

// run serves every front end until `ctx` is done or one of them fails. The sweeper is stopped only after every front
// end has returned.
func run(ctx context.Context) error {
	store, err := cache.NewStore(cache.OptionsFromFlags())
	if err != nil {
		return fmt.Errorf("failed to create cache store: %w", err)
	}
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("failed to start cache sweeper: %w", err)
	}
	defer func() {
		store.Stop()
		slog.Info("Cache store stopped.", "store", store.ID(), "stats", store.Stats())
	}()

	dispatcher, err := port.NewDispatcher(store)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return port.RunSocketServer(groupCtx, dispatcher) })
	group.Go(func() error { return port.RunHTTPServer(groupCtx, dispatcher) })
	group.Go(func() error { return port.RunRedisServer(groupCtx, store) })
	return group.Wait()
}
