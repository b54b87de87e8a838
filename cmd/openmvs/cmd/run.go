/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/AdrianIt2306/OpenMVS/pkg/api"
	"github.com/AdrianIt2306/OpenMVS/pkg/config"
	"github.com/AdrianIt2306/OpenMVS/pkg/logging"
	"github.com/AdrianIt2306/OpenMVS/pkg/pipeline"
	"github.com/AdrianIt2306/OpenMVS/pkg/storage"
	"github.com/AdrianIt2306/OpenMVS/pkg/store"
)

// Liveness file names, one per component
const (
	spoolPID = "console_bridge"
	watchPID = "console_watch"
	apiPID   = "api"
)

type task struct {
	pid string
	run func(ctx context.Context) error
}

// runner assembles components from the config and runs them until a
// signal arrives or one of them fails
type runner struct {
	cfg     *config.Config
	catalog *storage.Catalog
	tasks   []task
	closers []func() error
}

func newRunner(cfg *config.Config) *runner {
	return &runner{cfg: cfg}
}

func (r *runner) logger(name string) (*slog.Logger, error) {
	logger, err := container.NewLogger(r.cfg, name)
	if err != nil {
		return nil, fmt.Errorf("logger %s: %w", name, err)
	}
	r.closers = append(r.closers, logger.Close)
	return logger.Logger, nil
}

// openCatalog opens the record catalog. Pebble allows one process per
// catalog, so only the process running the spool pipeline opens it.
func (r *runner) openCatalog() error {
	catalog, err := container.OpenCatalog(r.cfg)
	if err != nil {
		return err
	}
	r.catalog = catalog
	r.closers = append(r.closers, catalog.Close)
	return nil
}

func (r *runner) addSpool() error {
	logger, err := r.logger(logging.BridgeLog)
	if err != nil {
		return err
	}
	var catalog pipeline.Catalog
	if r.catalog != nil {
		catalog = r.catalog
	}
	spool, err := container.NewSpool(r.cfg, catalog, logger)
	if err != nil {
		return err
	}
	r.closers = append(r.closers, spool.Close)
	reader, err := container.NewReader(r.cfg.Spool, pipeline.SpoolName, logger)
	if err != nil {
		return err
	}
	r.tasks = append(r.tasks, task{pid: spoolPID, run: func(ctx context.Context) error {
		return reader.Run(ctx, spool)
	}})
	return nil
}

func (r *runner) addWatch() error {
	logger, err := r.logger(logging.WatchLog)
	if err != nil {
		return err
	}
	watch, err := container.NewWatch(r.cfg, logger)
	if err != nil {
		return err
	}
	reader, err := container.NewReader(r.cfg.Watch, pipeline.WatchName, logger)
	if err != nil {
		return err
	}
	r.tasks = append(r.tasks, task{pid: watchPID, run: func(ctx context.Context) error {
		return reader.Run(ctx, watch)
	}})
	return nil
}

func (r *runner) addServer() error {
	logger, err := r.logger(logging.APILog)
	if err != nil {
		return err
	}
	var catalog api.RecordIndex
	if r.catalog != nil {
		catalog = r.catalog
	}
	server := container.NewServer(r.cfg, catalog, logger)
	r.tasks = append(r.tasks, task{pid: apiPID, run: server.Run})
	return nil
}

// run writes the liveness files and blocks until ctx ends, SIGINT or
// SIGTERM arrives, or a component fails
func (r *runner) run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if r.cfg.Paths.PIDDir != "" {
		for _, t := range r.tasks {
			path, err := store.WritePID(r.cfg.Paths.PIDDir, t.pid)
			if err != nil {
				return err
			}
			defer store.RemovePID(path) //nolint:errcheck
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range r.tasks {
		t := t
		g.Go(func() error {
			if err := t.run(gctx); err != nil {
				return fmt.Errorf("%s: %w", t.pid, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *runner) close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}
