// Package dashboard implements the Dashboard Aggregator (spec §4.14): a
// copy-on-read snapshot of engine state plus the gin HTTP surface serving
// it. Grounded on api/tactics.go's func (s *Server) handleX(c *gin.Context)
// handler shape and gin.H{...} response construction.
package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"scalper/adaptive"
	"scalper/alerts"
	"scalper/bias"
	"scalper/metrics"
	"scalper/risk"
	"scalper/store"
	"scalper/trademgr"
)

// Sources is every collaborator the Dashboard Aggregator reads from. It
// never mutates any of them — every handler is a read path.
type Sources struct {
	Trades   *trademgr.Manager
	Risk     *risk.Manager
	Bias     *bias.Engine
	Adaptive *adaptive.Controller
	Alerts   *alerts.Bus
	Store    *store.Store
}

// Server is the dashboard's HTTP surface.
type Server struct {
	src     Sources
	log     zerolog.Logger
	engine  *gin.Engine
	startAt time.Time
	running func() bool
}

// New builds a Server wired to src. running reports the orchestrator's
// current lifecycle state for /health.
func New(src Sources, log zerolog.Logger, running func() bool) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{src: src, log: log, engine: gin.New(), startAt: time.Now(), running: running}
	s.routes()
	return s
}

// Handler returns the underlying http.Handler for use with an http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.Use(gin.Recovery())

	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/monitor/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	s.engine.GET("/monitor/status", s.handleMonitorStatus)

	api := s.engine.Group("/api")
	{
		api.GET("/positions", s.handlePositions)
		api.GET("/trades", s.handleTrades)
		api.GET("/risk", s.handleRisk)
		api.GET("/bias", s.handleBias)
		api.GET("/adaptive", s.handleAdaptive)
		api.GET("/alerts", s.handleAlerts)
		api.GET("/portfolio-greeks", s.handlePortfolioGreeks)
	}
}

// handleHealth reports process liveness, exit code 0/1/2 semantics live in
// cmd/scalper, not here — this endpoint only reflects the running flag.
func (s *Server) handleHealth(c *gin.Context) {
	if s.running != nil && !s.running() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "stopped"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"uptime_sec": time.Since(s.startAt).Seconds(),
	})
}

func (s *Server) handleMonitorStatus(c *gin.Context) {
	state := s.src.Risk.State()
	c.JSON(http.StatusOK, gin.H{
		"active_positions": s.src.Trades.ActiveCount(),
		"risk_state":       state,
		"bias":             s.src.Bias.Current(),
	})
}

func (s *Server) handlePositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.src.Trades.Snapshot()})
}

func (s *Server) handleTrades(c *gin.Context) {
	limit := 100
	if s.src.Store != nil {
		trades, err := s.src.Store.Trades(limit)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"trades": trades})
			return
		}
		s.log.Warn().Err(err).Msg("dashboard: falling back to in-memory closed history")
	}
	c.JSON(http.StatusOK, gin.H{"trades": s.src.Trades.ClosedHistory(limit)})
}

func (s *Server) handleRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.src.Risk.State())
}

func (s *Server) handleBias(c *gin.Context) {
	c.JSON(http.StatusOK, s.src.Bias.Current())
}

func (s *Server) handleAdaptive(c *gin.Context) {
	c.JSON(http.StatusOK, s.src.Adaptive.GetStatus(time.Now()))
}

func (s *Server) handleAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"stats":  s.src.Alerts.Stats(),
		"recent": s.src.Alerts.History(100),
	})
}

func (s *Server) handlePortfolioGreeks(c *gin.Context) {
	exchange := c.DefaultQuery("exchange", "NFO")
	g := s.src.Trades.PortfolioGreeks(c.Request.Context(), exchange)
	metrics.NetDelta.Set(g.NetDelta)
	metrics.NetGamma.Set(g.NetGamma)
	metrics.NetTheta.Set(g.NetTheta)
	metrics.NetVega.Set(g.NetVega)
	c.JSON(http.StatusOK, g)
}

// SyncMetrics is called on a background cadence by cmd/scalper's
// syncMetricsLoop to keep the Prometheus gauges fresh even when no
// dashboard request is in flight.
func (s *Server) SyncMetrics(ctx context.Context, exchange string) {
	g := s.src.Trades.PortfolioGreeks(ctx, exchange)
	metrics.NetDelta.Set(g.NetDelta)
	metrics.NetGamma.Set(g.NetGamma)
	metrics.NetTheta.Set(g.NetTheta)
	metrics.NetVega.Set(g.NetVega)

	state := s.src.Risk.State()
	metrics.DailyPnL.Set(state.DailyPnL)
	metrics.TradesToday.Set(float64(state.TradesToday))
	metrics.ActivePositions.Set(float64(s.src.Trades.ActiveCount()))
	metrics.SetKillSwitch(state.KillSwitchActive)
}
