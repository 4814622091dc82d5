// Command quillsync-agent is a self-contained quillsync node for a local
// network: documents and versions live in an embedded bolt database, the
// document channels run on an in-process hub, and the node announces
// itself over mDNS so peers on the LAN can find it.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/grandcat/zeroconf"

	"quillsync/internal/config"
	"quillsync/internal/observability"
	"quillsync/internal/server"
	"quillsync/internal/store/bolt"
	"quillsync/internal/transport"
	"quillsync/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.DefaultLogger.Error("config load failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	logger := observability.NewStandardLogger("quillsync-agent").WithLevel(observability.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := bolt.Open(filepath.Join(cfg.Agent.DataDir, "quillsync.db"))
	if err != nil {
		logger.Error("local store open failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer st.Close()

	gateway := version.NewGateway(st.Documents(), st.Versions(), logger)
	hub := transport.NewHub(logger)
	srv := server.New(st.Documents(), gateway, hub, server.Options{
		Snapshot: version.SchedulerOptions{
			Settle:   cfg.Collab.SnapshotSettle,
			Interval: cfg.Collab.SnapshotInterval,
			Logger:   logger,
		},
		Logger: logger,
	})

	go announce(ctx, logger, cfg.Agent)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Agent.Port),
		Handler: srv.Router(),
	}
	go func() {
		logger.Info("agent starting", map[string]interface{}{"port": cfg.Agent.Port})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("agent failed", map[string]interface{}{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

// announce registers the agent as an mDNS service and logs peers running
// on the same network.
func announce(ctx context.Context, logger observability.Logger, cfg config.AgentConfig) {
	host, _ := os.Hostname()
	instance := fmt.Sprintf("quillsync-%s", host)

	srv, err := zeroconf.Register(instance, cfg.ServiceName, "local.", cfg.Port, []string{"v=1"}, nil)
	if err != nil {
		logger.Warn("mdns registration failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer srv.Shutdown()
	logger.Info("mdns service registered", map[string]interface{}{
		"instance": instance,
		"service":  cfg.ServiceName,
		"port":     cfg.Port,
	})

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		logger.Warn("mdns resolver failed", map[string]interface{}{"error": err.Error()})
		<-ctx.Done()
		return
	}
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			if entry.Instance == instance {
				continue
			}
			logger.Info("discovered peer agent", map[string]interface{}{
				"instance": entry.Instance,
				"port":     entry.Port,
			})
		}
	}()
	if err := resolver.Browse(ctx, cfg.ServiceName, "local.", entries); err != nil {
		logger.Warn("mdns browse failed", map[string]interface{}{"error": err.Error()})
	}

	<-ctx.Done()
}
