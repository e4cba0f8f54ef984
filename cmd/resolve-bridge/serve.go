package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resolve-bridge/internal/commands"
	"resolve-bridge/internal/config"
	"resolve-bridge/internal/journal"
	"resolve-bridge/internal/protocol"
	"resolve-bridge/internal/resolve"
	"resolve-bridge/internal/session"
	"resolve-bridge/internal/tracing"
	"resolve-bridge/internal/watcher"
	"resolve-bridge/internal/worker"
)

const tracingShutdownTimeout = 5 * time.Second

func (a *app) runServe(ctx context.Context, in io.Reader, out io.Writer) error {
	logFile, err := setupLogging(a.cfg.Log)
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Graceful shutdown on signals.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			log.Println("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return a.serve(ctx, in, out)
}

// serve wires the monitor, dispatcher and handlers and runs until the input
// ends, a shutdown command is handled or ctx is cancelled.
func (a *app) serve(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg := a.cfg
	lw := protocol.NewLineWriter(out)

	attacher := resolve.NewGatewayAttacher(cfg.Resolve.Endpoint, cfg.Resolve.DialTimeout, cfg.Resolve.CallTimeout)
	monitor := session.NewMonitor(attacher, lw, session.Config{
		PollInterval:        cfg.Monitor.PollInterval,
		UnavailableInterval: cfg.Monitor.UnavailableInterval,
	})
	defer monitor.Close()

	opts := worker.Options{
		Updates:       monitor.Updates(),
		ShutdownGrace: cfg.Commands.ShutdownGrace,
	}
	svcOpts := commands.Options{Monitor: monitor}

	if cfg.Journal.Enabled {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			log.Printf("command journal disabled: %v", err)
		} else {
			defer j.Close()
			log.Printf("command journal at %s", j.Path())
			opts.Journal = j
			svcOpts.Journal = j
		}
	}

	tp, err := tracing.NewProvider(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		FilePath:     cfg.Tracing.FilePath,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		ServiceName:  "resolve-bridge",
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
		defer scancel()
		if err := tp.Shutdown(sctx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()
	opts.Tracer = tp.Tracer()

	svc := commands.New(svcOpts, commands.SettingsFrom(cfg))
	reg := worker.NewRegistry()
	svc.Register(reg)

	if path := a.v.ConfigFileUsed(); path != "" {
		fileWatch := watcher.New(0, func(string) {
			next, err := config.Reload(a.v)
			if err != nil {
				log.Printf("config reload failed: %v", err)
				return
			}
			svc.Update(commands.SettingsFrom(next))
			log.Printf("config reloaded from %s", path)
		})
		if err := fileWatch.Watch(path); err != nil {
			log.Printf("config hot reload disabled: %v", err)
		}
		defer fileWatch.Shutdown()
	}

	go func() {
		if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("monitor stopped: %v", err)
		}
	}()

	srv := worker.New(reg, session.NewStore(), lw, opts)

	// Serve blocks on reads from in, so it runs apart from the cancellation
	// watch.
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, in) }()

	log.Printf("resolve-bridge %s ready (endpoint %s)", version, cfg.Resolve.Endpoint)
	select {
	case err = <-errCh:
	case <-ctx.Done():
		return nil
	}

	switch {
	case err == nil:
		log.Println("input closed, exiting")
		return nil
	case errors.Is(err, worker.ErrShutdown):
		return nil
	default:
		return err
	}
}
