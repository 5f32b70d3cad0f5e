// Command scalper runs the intraday options-scalping engine end to end:
// load config, wire every component, start the dashboard and orchestrator,
// and shut down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"scalper/broker"
	"scalper/config"
	"scalper/dashboard"
	"scalper/logging"
	"scalper/orchestrator"
	"scalper/store"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 clean shutdown, 1 startup failure,
// 2 a panic was recovered during the run.
func run() (code int) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 1
	}

	log := logging.New(cfg.Session.DemoMode, "info")

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic, shutting down")
			code = 2
		}
	}()

	gw, err := buildGateway(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("broker gateway setup failed")
		return 1
	}

	db, err := store.Open(storePath())
	if err != nil {
		log.Error().Err(err).Msg("store open failed")
		return 1
	}
	defer db.Close()

	journal, err := store.NewJournal("logs/trades")
	if err != nil {
		log.Error().Err(err).Msg("journal open failed")
		return 1
	}
	defer journal.Close()

	orch := orchestrator.New(cfg, log, orchestrator.Deps{Gateway: gw, DB: db, Journal: journal})

	dashSrv := dashboard.New(dashboard.Sources{
		Trades:   orch.Trades(),
		Risk:     orch.Risk(),
		Bias:     orch.Bias(),
		Adaptive: orch.Adaptive(),
		Alerts:   orch.Alerts(),
		Store:    db,
	}, log, orch.IsRunning)

	var httpSrv *http.Server
	if cfg.Dashboard.Enabled {
		httpSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Dashboard.Port),
			Handler: dashSrv.Handler(),
		}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("dashboard server stopped")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go syncMetricsLoop(ctx, dashSrv, cfg.Instruments.UnderlyingExchange)

	runErr := make(chan error, 1)
	go func() { runErr <- orch.Run(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-runErr:
		if err != nil {
			log.Error().Err(err).Msg("orchestrator run failed")
			return 1
		}
	}

	log.Info().Msg("shutdown signal received, closing positions and exporting state")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	orch.Stop(shutdownCtx)

	if httpSrv != nil {
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	return 0
}

// buildGateway picks the in-memory Demo gateway under DEMO_MODE, or the
// production HTTP client otherwise.
func buildGateway(cfg *config.Config, log zerolog.Logger) (broker.Gateway, error) {
	if cfg.Session.DemoMode {
		return broker.NewDemo(), nil
	}
	return broker.NewHTTPClient(cfg.Broker.BaseURL, cfg.Broker.APIKey, cfg.Broker.ClientCode, cfg.Broker.Password, cfg.Broker.TOTPSecret, log), nil
}

func storePath() string {
	if v := os.Getenv("STORE_PATH"); v != "" {
		return v
	}
	return "logs/scalper.db"
}

func syncMetricsLoop(ctx context.Context, dashSrv *dashboard.Server, exchange string) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dashSrv.SyncMetrics(ctx, exchange)
		}
	}
}
