package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gpsserver/internal/config"
	"gpsserver/internal/logging"
	"gpsserver/internal/plot"
	"gpsserver/internal/server"
	"gpsserver/internal/store"
	"gpsserver/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to YAML config (defaults apply when empty)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logs := logging.NewLogBuffer(cfg.Log.BufferLines)
	logger, err := logging.New(cfg.Log.Level, logs)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logs, logger, nil); err != nil {
		logger.Error("gpsserver failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// run opens the store and serves until ctx is cancelled or a component
// fails. ready, when set, is called with the bound listen address.
func run(ctx context.Context, cfg config.Config, logs *logging.LogBuffer, logger *zap.Logger, ready func(addr string)) error {
	var storeOpts []store.Option
	storeOpts = append(storeOpts, store.WithLogger(logger))
	if !cfg.Store.Lock {
		storeOpts = append(storeOpts, store.WithoutLock())
	}
	st, err := store.Open(cfg.Store.Path, storeOpts...)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	g, gctx := errgroup.WithContext(ctx)

	srvOpts := []server.Option{server.WithLogger(logger)}
	var queue *plot.Queue
	if cfg.Plot.Enable {
		renderer := plot.NewRenderer(cfg.Plot.Dir, cfg.Plot.WidthPx, cfg.Plot.HeightPx)
		queue = plot.NewQueue(st, renderer, logger.Named("plot"))
		srvOpts = append(srvOpts, server.WithNotifier(queue))
		g.Go(func() error { return queue.Run(gctx) })
	}

	srv := server.New(server.Config{
		Addr:          cfg.Listen.Addr,
		MaxConns:      cfg.Listen.MaxConns,
		ReadTimeout:   cfg.Listen.ReadTimeout,
		MaxBatchBytes: cfg.Listen.MaxBatchBytes,
	}, st, srvOpts...)
	g.Go(func() error { return srv.ListenAndServe(gctx) })

	// A bind failure cancels gctx before the listener is ready.
	select {
	case <-srv.Ready():
	case <-gctx.Done():
		return waitGroup(g)
	}

	if cfg.Web.Enable {
		status := web.NewStatus()
		status.SetRecords(st)
		status.SetServerStats(srv.Stats)
		deps := web.Deps{Status: status, Records: st, Logs: logs, Logger: logger.Named("web")}
		if queue != nil {
			status.SetPlotStats(queue.Snapshot)
			deps.PlotDir = cfg.Plot.Dir
		}
		g.Go(func() error { return web.Serve(gctx, cfg.Web.Listen, deps) })
		logger.Info("web api enabled", zap.String("listen", cfg.Web.Listen))
	}

	if ready != nil {
		ready(srv.Addr())
	}

	if err := waitGroup(g); err != nil {
		return err
	}
	logger.Info("gpsserver stopped", zap.Int("records", st.Len()))
	return nil
}

func waitGroup(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
