// Command telegrab runs the task engine: it watches for work enqueued over
// the HTTP ingress and the filesystem watcher, drives it through a worker
// pool, and archives the result as a .cbz file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kmkr/telegrab-go/internal/analytics"
	"github.com/kmkr/telegrab-go/internal/api"
	"github.com/kmkr/telegrab-go/internal/config"
	"github.com/kmkr/telegrab-go/internal/core"
	"github.com/kmkr/telegrab-go/internal/eventbus"
	"github.com/kmkr/telegrab-go/internal/fetcher"
	"github.com/kmkr/telegrab-go/internal/filesystem"
	"github.com/kmkr/telegrab-go/internal/fswatcher"
	"github.com/kmkr/telegrab-go/internal/integrity"
	"github.com/kmkr/telegrab-go/internal/logger"
	"github.com/kmkr/telegrab-go/internal/queue"
	"github.com/kmkr/telegrab-go/internal/security"
	"github.com/kmkr/telegrab-go/internal/shutdown"
	"github.com/kmkr/telegrab-go/internal/storage"
	"github.com/kmkr/telegrab-go/internal/task"
)

// gracefulDrainTimeout bounds how long main waits for in-flight tasks and
// the HTTP server to drain after a shutdown signal before exiting anyway.
const gracefulDrainTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	static, err := config.LoadStatic(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telegrab: load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(os.Stdout, static.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telegrab: init logger: %v\n", err)
		os.Exit(1)
	}

	db, err := storage.Open(static.DatabasePath)
	if err != nil {
		log.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cfg := config.NewConfigManager(db)

	var fetcherOpts []fetcher.Option
	if ua := cfg.GetUserAgent(); ua != "" {
		fetcherOpts = append(fetcherOpts, fetcher.WithUserAgent(ua))
	}
	if limit := cfg.GetBandwidthLimit(); limit > 0 {
		fetcherOpts = append(fetcherOpts, fetcher.WithRateLimit(limit))
	}
	fetch := fetcher.New(fetcherOpts...)

	bus := eventbus.New(log, static.EventBusBufferSize)
	sh := shutdown.New()
	q := queue.New(log, bus)
	stats := analytics.NewStatsManager(db, log)

	deps := &core.Deps{
		Repo:      db,
		Fetcher:   fetch,
		PicDir:    static.PicDir,
		CbzDir:    static.CbzDir,
		Allocator: filesystem.NewAllocator(),
		Verifier:  integrity.NewFileVerifier(),
		Stats:     stats,
		Cfg:       cfg,
	}

	pool := core.NewWorkerPool(static.WorkerCount, q, sh, deps, log)
	cleaner := core.NewAutoCleaner(q, sh, static.AutoCleanupInterval, static.MaxCompletedTasks, log)

	q.Enqueue(task.New(task.KindScanDir, task.Payload{}))

	watcher, err := fswatcher.New(static.CbzDir, q, sh, static.FsWatcherDebounce, log)
	if err != nil {
		log.Error("start filesystem watcher", "error", err)
		os.Exit(1)
	}

	audit := security.NewAuditLogger(log, static.LogPath+".audit")
	defer audit.Close()

	srv := api.NewServer(q, bus, sh, cfg, audit)
	httpServer := &http.Server{Addr: static.IngressAddr, Handler: srv.Router()}

	pool.Start()
	go cleaner.Run()
	go watcher.Run()

	go func() {
		log.Info("ingress listening", "addr", static.IngressAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("ingress server", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining")
	sh.BeginShutdown()
	watcher.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), gracefulDrainTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("ingress shutdown", "error", err)
	}

	if !sh.WaitForQuiescence(gracefulDrainTimeout) {
		log.Warn("shutdown deadline reached with tasks still in flight", "inflight", sh.Inflight())
	}
	pool.Wait()

	log.Info("shutdown complete")
}
