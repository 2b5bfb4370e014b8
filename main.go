package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ddevcap/sso-adapter/api"
	"github.com/ddevcap/sso-adapter/audit"
	"github.com/ddevcap/sso-adapter/config"
	"github.com/ddevcap/sso-adapter/forward"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	settings, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	var rules atomic.Pointer[config.RuleSet]
	if err := reloadRules(&rules, settings.ConfigPath); err != nil {
		slog.Error("failed to load rule file", "error", err)
		os.Exit(1)
	}

	auditLog, err := audit.Open(settings.AuditDBPath)
	if err != nil {
		slog.Error("failed to open audit database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = auditLog.Close() }()

	fwd := forward.New()

	h := api.NewRouter(settings, currentRules(&rules), fwd, auditLog)

	srv := &http.Server{
		Addr:              settings.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
	}

	var metricsSrv *http.Server
	if settings.MetricsAddr != "" {
		metricsSrv = &http.Server{
			Addr:              settings.MetricsAddr,
			Handler:           api.NewMetricsHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("metrics listening", "addr", settings.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	// Re-read the rule file on SIGHUP without restarting the process.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			slog.Info("reloading rule file", "path", settings.ConfigPath)
			if err := reloadRules(&rules, settings.ConfigPath); err != nil {
				slog.Error("rule file reload failed, keeping previous rules", "error", err)
			}
		}
	}()

	go func() {
		slog.Info("sso-adapter listening", "addr", settings.ListenAddr, "mode", settings.Mode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")
	signal.Stop(hup)
	close(hup)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			slog.Error("metrics server forced to shutdown", "error", err)
		}
	}
	slog.Info("server stopped")
}

func reloadRules(dst *atomic.Pointer[config.RuleSet], path string) error {
	rules, err := config.LoadRules(path)
	if err != nil {
		return err
	}
	dst.Store(&rules)
	return nil
}

// currentRules adapts the atomic.Pointer into the accessor handler.New
// expects, so every request sees the most recently loaded rule file without
// any request-path locking.
func currentRules(p *atomic.Pointer[config.RuleSet]) func() config.RuleSet {
	return func() config.RuleSet {
		return *p.Load()
	}
}
