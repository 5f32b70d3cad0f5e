// Package orchestrator implements the Strategy Orchestrator (spec §4.15):
// the lifecycle wiring around every other component — connect the broker
// seam, start the background workers, drive the per-tick pipeline, and
// handle shutdown cleanly, including the end-of-day Adaptive learning
// cycle and state export. Grounded on trader/auto_trader.go's
// Run/Stop/sync.WaitGroup lifecycle, generalized from a continuous crypto
// loop to this spec's tick-driven options loop.
package orchestrator

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"scalper/adaptive"
	"scalper/alerts"
	"scalper/bias"
	"scalper/broker"
	"scalper/config"
	"scalper/entry"
	"scalper/exitengine"
	"scalper/greeks"
	"scalper/metrics"
	"scalper/orders"
	"scalper/risk"
	"scalper/sizing"
	"scalper/smartmoney"
	"scalper/store"
	"scalper/strike"
	"scalper/trademgr"
	"scalper/types"
)

// TickInterval is how often the orchestrator drives one pipeline pass.
const TickInterval = 3 * time.Second

// expiryRefreshInterval matches spec.md's 5-minute expiry-lookup cadence.
const expiryRefreshInterval = 5 * time.Minute

// Orchestrator wires every component and drives the engine's lifecycle.
type Orchestrator struct {
	cfg *config.Config
	log zerolog.Logger

	gw          broker.Gateway
	greeksCache *greeks.Cache
	biasEngine  *bias.Engine
	smartMoney  *smartmoney.Detector
	strikeSel   *strike.Selector
	entryEngine *entry.Engine
	riskMgr     *risk.Manager
	orderMgr    *orders.Manager
	tradeMgr    *trademgr.Manager
	adaptiveCtl *adaptive.Controller
	alertBus    *alerts.Bus
	db          *store.Store
	journal     *store.Journal

	running int32 // atomic 0/1, read by the dashboard's /health

	nearestExpiry time.Time
	expiryMu      sync.RWMutex

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// Deps bundles everything New needs beyond cfg/log, so the wiring at
// cmd/scalper stays a flat list of constructor calls.
type Deps struct {
	Gateway broker.Gateway
	DB      *store.Store
	Journal *store.Journal
}

// New wires every component per spec.md §2's control-flow graph.
func New(cfg *config.Config, log zerolog.Logger, deps Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		log:         log,
		gw:          deps.Gateway,
		db:          deps.DB,
		journal:     deps.Journal,
		greeksCache: greeks.NewCache(deps.Gateway, cfg.Instruments.UnderlyingExchange, cfg.GreeksCache.RefreshInterval, log),
		biasEngine:  bias.NewEngine(),
		smartMoney:  smartmoney.NewDetector(),
		strikeSel:   strike.NewSelector(cfg.Instruments.StrikeInterval),
		entryEngine: entry.NewEngine(entryConfigFrom(cfg)),
		adaptiveCtl: adaptive.NewController(cfg.Adaptive.Enabled),
		alertBus:    alerts.NewBus(),
	}

	o.riskMgr = risk.NewManager(risk.Caps{
		MaxDailyLossAmount: cfg.Risk.MaxDailyLossAmount,
		MaxTradesPerDay:    cfg.Risk.MaxTradesPerDay,
		MaxNetDelta:        cfg.Risk.MaxNetDelta,
		MaxNetGamma:        cfg.Risk.MaxNetGamma,
		MaxNetTheta:        cfg.Risk.MaxNetTheta,
		MaxNetVega:         cfg.Risk.MaxNetVega,
		MaxGrossDelta:      cfg.Risk.MaxGrossDelta,
	})
	o.orderMgr = orders.NewManager(deps.Gateway, cfg.Instruments.UnderlyingExchange, broker.MIS)
	o.tradeMgr = trademgr.NewManager(o.greeksCache, exitengine.NewEngine(exitengine.DefaultConfig()), o.orderMgr, o.adaptiveCtl, o.riskMgr, o.reversalContext, log)

	o.registerAlertHandlers()
	return o
}

func entryConfigFrom(cfg *config.Config) entry.Config {
	ec := entry.DefaultConfig()
	ec.MaxSpreadPercent = cfg.Filters.MaxSpreadPercent
	ec.IdealGammaMin = cfg.Filters.IdealGammaMin
	ec.RejectFlatOIMove = cfg.Filters.RejectFlatOIMove
	ec.RejectIVDrop = cfg.Filters.RejectIVDrop
	ec.RejectSpreadWiden = cfg.Filters.RejectSpreadWiden
	ec.RejectDeltaSpike = cfg.Filters.RejectDeltaSpike
	ec.TrapThreshold = cfg.Filters.TrapProbability
	return ec
}

func (o *Orchestrator) registerAlertHandlers() {
	o.alertBus.Register(alerts.NewLogHandler(o.log))
	if o.cfg.Alerts.WebhookURL != "" {
		o.alertBus.Register(alerts.NewWebhookHandler(o.cfg.Alerts.WebhookURL))
	}
	if o.cfg.Alerts.TelegramAlertsEnabled && o.cfg.Alerts.TelegramBotToken != "" {
		o.alertBus.Register(alerts.NewTelegramHandler(o.cfg.Alerts.TelegramBotToken, o.cfg.Alerts.TelegramChatID))
	}
}

// Alerts exposes the Alert Bus for the dashboard and cmd wiring.
func (o *Orchestrator) Alerts() *alerts.Bus { return o.alertBus }

// Trades exposes the Trade Manager for the dashboard.
func (o *Orchestrator) Trades() *trademgr.Manager { return o.tradeMgr }

// Risk exposes the Risk Manager for the dashboard.
func (o *Orchestrator) Risk() *risk.Manager { return o.riskMgr }

// Bias exposes the Market-State Engine for the dashboard.
func (o *Orchestrator) Bias() *bias.Engine { return o.biasEngine }

// Adaptive exposes the Adaptive Controller for the dashboard.
func (o *Orchestrator) Adaptive() *adaptive.Controller { return o.adaptiveCtl }

// IsRunning reports the lifecycle flag the dashboard's /health reads.
func (o *Orchestrator) IsRunning() bool { return atomic.LoadInt32(&o.running) == 1 }

// Run starts every background worker and blocks, driving the tick loop
// until ctx is cancelled or Stop is called.
func (o *Orchestrator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	atomic.StoreInt32(&o.running, 1)

	if ok, err := o.gw.Login(runCtx); err != nil || !ok {
		atomic.StoreInt32(&o.running, 0)
		if err != nil {
			return err
		}
		return errLoginFailed
	}
	o.gw.StartAutoRefresh(runCtx)
	o.alertBus.Start()
	o.greeksCache.StartBackgroundRefresh(runCtx)
	o.riskMgr.ResetSession()

	o.startExpiryRefresh(runCtx)

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			return nil
		case reason := <-o.riskMgr.EmergencyExit():
			o.handleEmergencyExit(runCtx, reason)
		case <-ticker.C:
			start := time.Now()
			o.tick(runCtx)
			metrics.CycleDuration.Observe(time.Since(start).Seconds())
		}
	}
}

var errLoginFailed = &lifecycleError{"broker login failed"}

type lifecycleError struct{ msg string }

func (e *lifecycleError) Error() string { return e.msg }

// Stop flips the running flag false and exits every open position with
// exit_reason "strategy_stop", then stops the background workers and runs
// the end-of-day Adaptive learning cycle (spec §4.15's shutdown sequence).
func (o *Orchestrator) Stop(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&o.running, 1, 0) {
		return
	}
	o.exitAllPositions(ctx, "strategy_stop")

	o.greeksCache.StopBackgroundRefresh()
	o.gw.StopAutoRefresh()
	o.alertBus.Stop()

	result := o.adaptiveCtl.RunDailyLearning(time.Now())
	o.log.Info().
		Bool("success", result.Success).
		Int("insights", result.InsightsGenerated).
		Int("weights_applied", result.WeightsApplied).
		Msg("daily learning cycle complete")

	o.exportState(time.Now())

	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

func (o *Orchestrator) exitAllPositions(ctx context.Context, reason string) {
	closed := o.tradeMgr.CloseAll(ctx, o.cfg.Instruments.UnderlyingExchange, reason, time.Now())
	for _, t := range closed {
		o.persistOne(t)
	}
}

// persistClosed mirrors every trade this tick closed into the sqlite store
// and the JSON-Lines journal (spec §6.5: both destinations written).
func (o *Orchestrator) persistClosed(results []trademgr.UpdateResult) {
	for _, r := range results {
		if !r.Closed {
			continue
		}
		o.log.Info().Str("trade_id", r.TradeID).Str("trigger", string(r.Snapshot.Trigger)).Msg("trade closed")
		o.persistOne(r.Trade)
	}
}

func (o *Orchestrator) persistOne(t types.Trade) {
	if o.db != nil {
		if err := o.db.SaveTrade(t); err != nil {
			o.log.Error().Err(err).Str("trade_id", t.ID).Msg("store: save trade failed")
		}
	}
	if o.journal != nil {
		if err := o.journal.Append(t, time.Now()); err != nil {
			o.log.Error().Err(err).Str("trade_id", t.ID).Msg("journal: append failed")
		}
	}
}

func (o *Orchestrator) handleEmergencyExit(ctx context.Context, reason string) {
	o.log.Warn().Str("reason", reason).Msg("kill switch tripped, exiting all positions")
	o.alertBus.SendAlert(types.SeverityCritical, "KILL_SWITCH", "Kill switch activated", reason, nil, true)
	o.exitAllPositions(ctx, "kill_switch")
}

func (o *Orchestrator) exportState(now time.Time) {
	status := o.adaptiveCtl.GetStatus(now)
	state := store.AdaptiveState{
		ExportedAt: now,
		Weights:    status.Weights,
		Blocks:     status.Blocks,
		Patterns:   status.Patterns,
	}
	if err := store.ExportAdaptiveState("logs/adaptive", state, now); err != nil {
		o.log.Error().Err(err).Msg("adaptive state export failed")
	}
}

func (o *Orchestrator) startExpiryRefresh(ctx context.Context) {
	o.refreshExpiry(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				o.log.Error().Interface("panic", r).Msg("expiry refresh worker recovered")
			}
		}()
		ticker := time.NewTicker(expiryRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.refreshExpiry(ctx)
			}
		}
	}()
}

func (o *Orchestrator) refreshExpiry(ctx context.Context) {
	expiry, err := o.gw.GetNearestWeeklyExpiry(ctx, o.cfg.Instruments.PrimaryUnderlying)
	if err != nil {
		o.log.Warn().Err(err).Msg("expiry refresh failed, keeping previous value")
		return
	}
	o.expiryMu.Lock()
	o.nearestExpiry = expiry
	o.expiryMu.Unlock()
}

func (o *Orchestrator) minutesToExpiry(now time.Time) float64 {
	o.expiryMu.RLock()
	expiry := o.nearestExpiry
	o.expiryMu.RUnlock()
	if expiry.IsZero() {
		return 9999
	}
	return expiry.Sub(now).Minutes()
}

// tick runs one pass of the control flow: session-window check (outside
// the window only the Trade Manager update runs), kill-switch check, Trade
// Manager update of every active trade, daily trade-count check, then the
// stale-data check on the underlying LTP before the entry path. The entry
// path runs whether or not trades are already active.
func (o *Orchestrator) tick(ctx context.Context) {
	now := time.Now()

	if !o.withinSessionWindow(now) {
		o.persistClosed(o.tradeMgr.Tick(ctx, now, o.cfg.Instruments.UnderlyingExchange, func(t types.Trade) float64 { return o.minutesToExpiry(now) }))
		return
	}

	state := o.riskMgr.State()
	if state.KillSwitchActive {
		return
	}

	o.persistClosed(o.tradeMgr.Tick(ctx, now, o.cfg.Instruments.UnderlyingExchange, func(t types.Trade) float64 { return o.minutesToExpiry(now) }))

	if state.TradesToday >= o.cfg.Risk.MaxTradesPerDay {
		return
	}

	ltp, err := o.gw.GetLTPWithTimestamp(ctx, o.cfg.Instruments.PrimaryUnderlying)
	if err != nil {
		o.log.Warn().Err(err).Msg("underlying LTP fetch failed, skipping this tick's entry path")
		return
	}
	if now.Sub(ltp.Timestamp) > 5*time.Second {
		o.log.Warn().Msg("underlying LTP stale, skipping this tick's entry path")
		return
	}

	o.evaluateEntry(ctx, now, ltp.Price)
}

func (o *Orchestrator) withinSessionWindow(now time.Time) bool {
	start, okStart := parseHHMM(o.cfg.Session.Start)
	end, okEnd := parseHHMM(o.cfg.Session.End)
	if !okStart || !okEnd {
		return true
	}
	h, m, _ := now.Clock()
	mins := h*60 + m
	return mins >= start && mins <= end
}

func parseHHMM(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	return h*60 + m, true
}

// strikeLadderWidth is how many strikes either side of ATM the Strike
// Selector scores, per spec.md §4.5.
const strikeLadderWidth = 3

// candidateQuotes fetches a fresh GreeksSnapshot for every strike on the
// ATM +/- strikeLadderWidth ladder for one option side.
func (o *Orchestrator) candidateQuotes(ctx context.Context, spot float64, optionType types.OptionType) map[float64]types.GreeksSnapshot {
	interval := o.cfg.Instruments.StrikeInterval
	atm := math.Round(spot/interval) * interval
	quotes := make(map[float64]types.GreeksSnapshot, 2*strikeLadderWidth+1)
	for offset := -strikeLadderWidth; offset <= strikeLadderWidth; offset++ {
		k := atm + float64(offset)*interval
		symbol := o.gw.BuildOptionSymbol(o.cfg.Instruments.PrimaryUnderlying, o.expirySnapshot(), k, optionType)
		o.greeksCache.Track(symbol)
		snap, ok := o.greeksCache.Get(ctx, symbol, o.cfg.Instruments.UnderlyingExchange, false)
		if !ok || snap == nil {
			continue
		}
		quotes[k] = *snap
	}
	return quotes
}

// reversalContext resolves the opposite-leg OI and exhaustion inputs the
// Smart Exit Engine's reversal/exhaustion family needs for one active
// trade, reusing the Greeks Cache for both legs rather than opening a new
// broker seam. It reports ok=false until the trade's own leg has a
// current+previous pair cached and the opposite leg has a current snapshot;
// a missing opposite-leg previous is replaced by its current snapshot.
func (o *Orchestrator) reversalContext(ctx context.Context, t types.Trade) (exitengine.ReversalInput, exitengine.ExhaustionInput, bool) {
	exchange := o.cfg.Instruments.UnderlyingExchange

	ownCur, ok := o.greeksCache.Get(ctx, t.Underlying, exchange, false)
	if !ok || ownCur == nil {
		return exitengine.ReversalInput{}, exitengine.ExhaustionInput{}, false
	}
	_, ownPrev := o.greeksCache.Rolling(t.Underlying)
	if ownPrev == nil {
		return exitengine.ReversalInput{}, exitengine.ExhaustionInput{}, false
	}

	oppositeType := types.PutOption
	if t.OptionType == types.PutOption {
		oppositeType = types.CallOption
	}
	oppSymbol := o.gw.BuildOptionSymbol(o.cfg.Instruments.PrimaryUnderlying, t.Expiry, t.Strike, oppositeType)
	o.greeksCache.Track(oppSymbol)
	oppCur, ok := o.greeksCache.Get(ctx, oppSymbol, exchange, false)
	if !ok || oppCur == nil {
		return exitengine.ReversalInput{}, exitengine.ExhaustionInput{}, false
	}
	_, oppPrev := o.greeksCache.Rolling(oppSymbol)
	if oppPrev == nil {
		oppPrev = oppCur
	}

	ceCur, cePrev, peCur, pePrev := ownCur.OI, ownPrev.OI, oppCur.OI, oppPrev.OI
	if t.OptionType == types.PutOption {
		ceCur, cePrev, peCur, pePrev = oppCur.OI, oppPrev.OI, ownCur.OI, ownPrev.OI
	}

	rev := exitengine.ReversalInput{
		OICECurrent:  ceCur,
		OICEPrev:     cePrev,
		OIPECurrent:  peCur,
		OIPEPrev:     pePrev,
		PositionType: t.OptionType,
	}
	exh := exitengine.ExhaustionInput{
		Price:      ownCur.LTP,
		PricePrev:  ownPrev.LTP,
		Delta:      ownCur.Delta,
		DeltaPrev:  ownPrev.Delta,
		Gamma:      ownCur.Gamma,
		GammaPrev:  ownPrev.Gamma,
		Volume:     ownCur.Volume,
		VolumePrev: ownPrev.Volume,
	}
	return rev, exh, true
}

func (o *Orchestrator) evaluateEntry(ctx context.Context, now time.Time, spot float64) {
	optionType := types.CallOption
	if o.biasEngine.Current().State == types.BiasBearish {
		optionType = types.PutOption
	}

	quotes := o.candidateQuotes(ctx, spot, optionType)
	ladder := o.strikeSel.BuildLadder(spot, strikeLadderWidth, quotes)
	best, ok := o.strikeSel.Select(ladder)
	if !ok {
		return
	}
	cur := best.Candidate.Quote

	_, prevSnap := o.greeksCache.Rolling(cur.Symbol)
	prev := cur
	if prevSnap != nil {
		prev = *prevSnap
	}

	bs := o.biasEngine.Update(cur, prev.OI, now)
	if bs.State != types.BiasBullish && bs.State != types.BiasBearish {
		return
	}
	if (bs.State == types.BiasBullish) != (optionType == types.CallOption) {
		return // side flipped mid-evaluation, wait for next tick
	}

	smartEval := o.smartMoney.Evaluate(smartmoney.Sample{
		Key:               cur.Symbol,
		DeltaPrice:        cur.LTP - prev.LTP,
		DeltaOI:           cur.OI - prev.OI,
		DeltaVolume:       cur.Volume - prev.Volume,
		Volume:            cur.Volume,
		RollingMeanVolume: prev.Volume,
		OI:                cur.OI,
		PrevOI:            prev.OI,
		Gamma:             cur.Gamma,
		PrevGamma:         prev.Gamma,
		Theta:             cur.Theta,
		StrikeOffsetATM:   float64(best.Candidate.Offset),
		Delta:             cur.Delta,
		MinutesToExpiry:   o.minutesToExpiry(now),
	}, now, now)

	decision := o.adaptiveCtl.Evaluate(adaptive.SignalInputs{
		Time:           now,
		BiasConfidence: bs.Confidence,
		Gamma:          cur.Gamma,
		Theta:          cur.Theta,
		OIConviction:   smartEval.ConvictionLabel(),
		VIX:            cur.IV,
	}, now)
	if !decision.ShouldTrade {
		return
	}

	ec := o.entryEngine.Evaluate(bs, optionType, best.Candidate.Strike, cur, prev, now, smartEval)
	if ec.Signal == types.NoSignal {
		return
	}

	o.openTrade(ctx, now, cur.Symbol, ec, decision, smartEval.ConvictionLabel())
}

func (o *Orchestrator) openTrade(ctx context.Context, now time.Time, symbol string, ec types.EntryContext, decision types.AdaptiveDecision, oiConviction string) {
	slPrice := ec.EntryPrice * (1 - o.cfg.Risk.HardSLPercentMin/100)
	targetPrice := ec.EntryPrice * (1 + o.cfg.Risk.RiskPerTradeOptimal/100*2)

	delta, gamma, iv := ec.EntryDelta, ec.EntryGamma, ec.EntryIV
	biasConf := ec.Confidence
	sz := sizing.Calculate(sizing.Config{
		RiskPercentMin:   o.cfg.Risk.RiskPerTradeMin,
		RiskPercentMax:   o.cfg.Risk.RiskPerTradeMax,
		HardSLPercentCap: o.cfg.Risk.HardSLPercentExceedSkip,
		LotSize:          o.cfg.Instruments.MinimumLotSize,
		MaxQuantity:      o.cfg.Risk.MaxPositionSize,
		KellyEnabled:     o.cfg.Adaptive.Kelly,
		KellyFraction:    o.cfg.Adaptive.KellyFraction,
	}, sizing.Input{
		EntryPrice:     ec.EntryPrice,
		SLPrice:        slPrice,
		TargetPrice:    targetPrice,
		RiskPercent:    o.cfg.Risk.RiskPerTradeOptimal * decision.RecommendedSize,
		Capital:        o.cfg.Risk.Capital,
		Delta:          &delta,
		Gamma:          &gamma,
		IV:             &iv,
		BiasConfidence: &biasConf,
	})
	if !sz.SizingValid {
		return
	}

	qty := float64(sz.Quantity)
	proposed := o.tradeMgr.PortfolioGreeks(ctx, o.cfg.Instruments.UnderlyingExchange)
	proposed.NetDelta += ec.EntryDelta * qty
	proposed.NetGamma += ec.EntryGamma * qty
	proposed.NetTheta += ec.EntryTheta * qty
	proposed.GrossDelta += math.Abs(ec.EntryDelta) * qty
	if allowed, reason := o.riskMgr.CanTakeTrade(proposed, now); !allowed {
		o.log.Info().Str("reason", reason).Msg("entry blocked by risk manager")
		return
	}

	res := o.orderMgr.SubmitEntry(ctx, symbol, ec.EntryPrice, sz.Quantity)
	if !res.OK {
		o.log.Error().Err(res.Err).Msg("entry order failed")
		return
	}

	bucket := adaptive.SignalInputs{
		Time:           now,
		BiasConfidence: ec.Confidence,
		Gamma:          ec.EntryGamma,
		Theta:          ec.EntryTheta,
		OIConviction:   oiConviction,
		VIX:            ec.EntryIV,
	}.Buckets()

	o.tradeMgr.Open(types.Trade{
		Underlying:      symbol,
		Expiry:          o.expirySnapshot(),
		Strike:          ec.Strike,
		OptionType:      ec.OptionType,
		Quantity:        sz.Quantity,
		EntryPrice:      ec.EntryPrice,
		EntryTime:       now,
		EntryDelta:      ec.EntryDelta,
		EntryGamma:      ec.EntryGamma,
		EntryTheta:      ec.EntryTheta,
		EntryIV:         ec.EntryIV,
		SLPrice:         slPrice,
		TargetPrice:     targetPrice,
		CurrentPrice:    ec.EntryPrice,
		CurrentDelta:    ec.EntryDelta,
		CurrentGamma:    ec.EntryGamma,
		CurrentTheta:    ec.EntryTheta,
		CurrentIV:       ec.EntryIV,
		EntryReasonTags: ec.ReasonTags,
		Status:          types.TradeActive,
		Tuple:           bucket,
	})

	o.alertBus.SendAlert(types.SeverityInfo, "TRADE_OPENED", "New trade opened", symbol, nil, false)
}

func (o *Orchestrator) expirySnapshot() time.Time {
	o.expiryMu.RLock()
	defer o.expiryMu.RUnlock()
	return o.nearestExpiry
}
