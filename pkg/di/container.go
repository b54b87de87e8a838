// Package di provides dependency injection container
package di

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/AdrianIt2306/OpenMVS/pkg/api"
	"github.com/AdrianIt2306/OpenMVS/pkg/codec"
	"github.com/AdrianIt2306/OpenMVS/pkg/config"
	"github.com/AdrianIt2306/OpenMVS/pkg/logging"
	"github.com/AdrianIt2306/OpenMVS/pkg/metrics"
	"github.com/AdrianIt2306/OpenMVS/pkg/pipeline"
	"github.com/AdrianIt2306/OpenMVS/pkg/storage"
	"github.com/AdrianIt2306/OpenMVS/pkg/store"
	"github.com/AdrianIt2306/OpenMVS/pkg/transport"
)

// SleepFunc waits for d or until ctx ends
type SleepFunc func(ctx context.Context, d time.Duration) error

// Container holds all the dependencies for the application
type Container struct {
	dialer   transport.Dialer
	sleep    SleepFunc
	console  io.Writer
	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

// NewContainer creates a new dependency injection container
func NewContainer() *Container {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Container{
		dialer:   &net.Dialer{},
		sleep:    transport.Sleep,
		console:  os.Stderr,
		registry: registry,
		metrics:  metrics.New(registry),
	}
}

// SetDialer allows overriding how the emulator is reached (for testing)
func (c *Container) SetDialer(dialer transport.Dialer) {
	c.dialer = dialer
}

// SetSleep allows overriding the reconnect wait (for testing)
func (c *Container) SetSleep(sleep SleepFunc) {
	c.sleep = sleep
}

// SetConsole sets where logs are mirrored when console logging is on
func (c *Container) SetConsole(w io.Writer) {
	c.console = w
}

// Registry returns the Prometheus registry shared by every component
func (c *Container) Registry() *prometheus.Registry {
	return c.registry
}

// Metrics returns the pipeline metrics
func (c *Container) Metrics() *metrics.Metrics {
	return c.metrics
}

// NewLogger creates the operational logger for one component
func (c *Container) NewLogger(cfg *config.Config, name string) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	var console io.Writer
	if cfg.Logging.Console {
		console = c.console
	}
	return logging.New(logging.Config{
		Dir:        cfg.Paths.LogDir,
		Name:       name,
		Level:      level,
		MaxSize:    int64(cfg.Logging.MaxSizeMB) * 1024 * 1024,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    console,
	})
}

// NewReader creates the transport reader for one pipeline
func (c *Container) NewReader(t config.Transport, name string, logger *slog.Logger) (*transport.Reader, error) {
	return transport.NewReader(transport.Config{
		Addr:           t.Addr,
		ReadSize:       t.ReadSize,
		RefusedDelay:   t.RefusedDelay,
		ErrorDelay:     t.ErrorDelay,
		ReconnectDelay: t.ReconnectDelay,
		Dialer:         c.dialer,
		Observer:       c.metrics.Transport(name),
		Logger:         logger.With("pipeline", name),
		Sleep:          c.sleep,
	})
}

// OpenCatalog opens the record catalog configured for cfg
func (c *Container) OpenCatalog(cfg *config.Config) (*storage.Catalog, error) {
	return storage.NewCatalog(cfg.Paths.CatalogPath())
}

// NewSpool creates the ingestion pipeline. catalog may be nil.
func (c *Container) NewSpool(cfg *config.Config, catalog pipeline.Catalog, logger *slog.Logger) (*pipeline.Spool, error) {
	mode, err := codec.ParseMode(cfg.Spool.Codec)
	if err != nil {
		return nil, err
	}
	dialect, err := cfg.Dialect.Compile()
	if err != nil {
		return nil, fmt.Errorf("dialect: %w", err)
	}
	return pipeline.NewSpool(pipeline.SpoolConfig{
		OutDir:        cfg.Paths.OutDir,
		Codec:         mode,
		Dialect:       dialect,
		FsyncInterval: cfg.Archive.FsyncInterval,
		BufferSize:    cfg.Archive.BufferSize,
		NoArchive:     !cfg.Archive.Enabled,
		Ready:         store.NewReadyMarker(cfg.Paths.ReadyFilePath()),
		Catalog:       catalog,
		Metrics:       c.metrics,
		Logger:        logger,
	})
}

// NewWatch creates the console watch pipeline
func (c *Container) NewWatch(cfg *config.Config, logger *slog.Logger) (*pipeline.Watch, error) {
	mode, err := codec.ParseMode(cfg.Watch.Codec)
	if err != nil {
		return nil, err
	}
	return pipeline.NewWatch(pipeline.WatchConfig{
		Codec:   mode,
		Metrics: c.metrics,
		Logger:  logger,
	}), nil
}

// NewServer creates the HTTP surface. catalog may be nil.
func (c *Container) NewServer(cfg *config.Config, catalog api.RecordIndex, logger *slog.Logger) *api.Server {
	opts := api.Options{Catalog: catalog, Registry: c.registry}
	return api.NewServer(api.ServerConfig{
		Bind:      cfg.API.Bind,
		Port:      cfg.API.Port,
		APIKey:    cfg.API.APIKey,
		OutDir:    cfg.Paths.OutDir,
		LogDir:    cfg.Paths.LogDir,
		PIDDir:    cfg.Paths.PIDDir,
		ReadyFile: cfg.Paths.ReadyFilePath(),
		WatchLog:  logging.WatchLog,
	}, opts, logger)
}
