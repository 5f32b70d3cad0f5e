// Package config loads the typed, validated process configuration from
// environment variables, replacing the source's getattr(config, name,
// default) lookups with a single struct built once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Broker holds the brokerage login credentials and endpoint.
type Broker struct {
	BaseURL     string
	APIKey      string
	ClientCode  string
	Password    string
	TOTPSecret  string
}

// Instruments describes the tradable universe.
type Instruments struct {
	PrimaryUnderlying string
	UnderlyingExchange string
	MinimumLotSize    int
	StrikeInterval    float64
}

// Session describes the trading window and demo behaviour.
type Session struct {
	Start             string // "HH:MM"
	End               string
	DemoMode          bool
	DemoSkipWebsocket bool
}

// Risk holds position-sizing and portfolio risk caps.
type Risk struct {
	Capital                float64
	RiskPerTradeMin        float64
	RiskPerTradeOptimal    float64
	RiskPerTradeMax        float64
	HardSLPercentMin       float64
	HardSLPercentExceedSkip float64
	MaxDailyLossAmount     float64
	MaxTradesPerDay        int
	MaxPositionSize        int
	MaxNetDelta            float64
	MaxNetGamma            float64
	MaxNetTheta            float64
	MaxNetVega             float64
	MaxGrossDelta          float64
}

// Filters holds the Market-State / Entry rejection thresholds.
type Filters struct {
	BullishDeltaMin   float64
	BearishDeltaMax   float64
	IdealDeltaCall    float64
	IdealDeltaPut     float64
	IdealGammaMin     float64
	MaxSpreadPercent  float64
	RejectFlatOIMove  float64
	RejectIVDrop      float64
	RejectSpreadWiden float64
	RejectDeltaSpike  float64
	IVSafeZoneLow     float64
	IVSafeZoneHigh    float64
	NoTradeGammaFlat  float64
	TrapProbability   float64
}

// GreeksCacheConfig controls the background refresh worker.
type GreeksCacheConfig struct {
	BackgroundRefresh bool
	RefreshInterval   time.Duration
	UseRealGreeksData bool
}

// Adaptive controls the Adaptive Controller's behaviour.
type Adaptive struct {
	Enabled              bool
	Kelly                bool
	KellyFraction        float64
	UseProbabilityWeight bool
	MultilegEnabled      bool
}

// Alerts holds alert-sink wiring.
type Alerts struct {
	WebhookURL           string
	EmailConfig          string
	TelegramBotToken     string
	TelegramChatID       string
	TelegramAlertsEnabled bool
}

// Dashboard controls the HTTP surface.
type Dashboard struct {
	Enabled bool
	Port    int
}

// Config is the single process-wide configuration record. It is built once
// at startup and handed by value/reference to every component constructor;
// no component reads the environment directly after Load returns.
type Config struct {
	Broker      Broker
	Instruments Instruments
	Session     Session
	Risk        Risk
	Filters     Filters
	GreeksCache GreeksCacheConfig
	Adaptive    Adaptive
	Alerts      Alerts
	Dashboard   Dashboard
}

// Load reads a .env file if present (ignored if missing), then builds and
// validates the Config from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Broker: Broker{
			BaseURL:    getString("BROKER_BASE_URL", "https://api.broker.example"),
			APIKey:     os.Getenv("API_KEY"),
			ClientCode: os.Getenv("CLIENT_CODE"),
			Password:   os.Getenv("PASSWORD"),
			TOTPSecret: os.Getenv("TOTP_SECRET"),
		},
		Instruments: Instruments{
			PrimaryUnderlying:  getString("PRIMARY_UNDERLYING", "NIFTY"),
			UnderlyingExchange: getString("UNDERLYING_EXCHANGE", "NSE"),
			MinimumLotSize:     getInt("MINIMUM_LOT_SIZE", 75),
			StrikeInterval:     getFloat("STRIKE_INTERVAL", 50),
		},
		Session: Session{
			Start:             getString("TRADING_SESSION_START", "09:15"),
			End:               getString("TRADING_SESSION_END", "15:30"),
			DemoMode:          getBool("DEMO_MODE", false),
			DemoSkipWebsocket: getBool("DEMO_SKIP_WEBSOCKET", false),
		},
		Risk: Risk{
			Capital:                 getFloat("CAPITAL", 100000),
			RiskPerTradeMin:         getFloat("RISK_PER_TRADE_MIN", 1.0),
			RiskPerTradeOptimal:     getFloat("RISK_PER_TRADE_OPTIMAL", 2.0),
			RiskPerTradeMax:         getFloat("RISK_PER_TRADE_MAX", 3.0),
			HardSLPercentMin:        getFloat("HARD_SL_PERCENT_MIN", 2.0),
			HardSLPercentExceedSkip: getFloat("HARD_SL_PERCENT_EXCEED_SKIP", 10.0),
			MaxDailyLossAmount:      getFloat("MAX_DAILY_LOSS_AMOUNT", 10000),
			MaxTradesPerDay:         getInt("MAX_TRADES_PER_DAY", 6),
			MaxPositionSize:         getInt("MAX_POSITION_SIZE", 1800),
			MaxNetDelta:             getFloat("MAX_NET_DELTA", 500),
			MaxNetGamma:             getFloat("MAX_NET_GAMMA", 50),
			MaxNetTheta:             getFloat("MAX_NET_THETA", 2000),
			MaxNetVega:              getFloat("MAX_NET_VEGA", 2000),
			MaxGrossDelta:           getFloat("MAX_GROSS_DELTA", 800),
		},
		Filters: Filters{
			BullishDeltaMin:   getFloat("BULLISH_DELTA_MIN", 0.45),
			BearishDeltaMax:   getFloat("BEARISH_DELTA_MAX", -0.45),
			IdealDeltaCall:    getFloat("IDEAL_DELTA_CALL", 0.55),
			IdealDeltaPut:     getFloat("IDEAL_DELTA_PUT", -0.55),
			IdealGammaMin:     getFloat("IDEAL_GAMMA_MIN", 0.002),
			MaxSpreadPercent:  getFloat("MAX_SPREAD_PERCENT", 3.0),
			RejectFlatOIMove:  getFloat("REJECT_FLAT_OI_MOVE", 0.3),
			RejectIVDrop:      getFloat("REJECT_IV_DROP", 5.0),
			RejectSpreadWiden: getFloat("REJECT_SPREAD_WIDEN", 2.0),
			RejectDeltaSpike:  getFloat("REJECT_DELTA_SPIKE", 0.2),
			IVSafeZoneLow:     getFloat("IV_SAFE_ZONE_LOW", 15.0),
			IVSafeZoneHigh:    getFloat("IV_SAFE_ZONE_HIGH", 40.0),
			NoTradeGammaFlat:  getFloat("NO_TRADE_GAMMA_FLAT", 0.0005),
			TrapProbability:   getFloat("TRAP_PROBABILITY_THRESHOLD", 0.6),
		},
		GreeksCache: GreeksCacheConfig{
			BackgroundRefresh: getBool("GREEKS_BACKGROUND_REFRESH", true),
			RefreshInterval:   time.Duration(getInt("GREEKS_REFRESH_INTERVAL", 2)) * time.Second,
			UseRealGreeksData: getBool("USE_REAL_GREEKS_DATA", true),
		},
		Adaptive: Adaptive{
			Enabled:              getBool("ADAPTIVE_ENABLED", true),
			Kelly:                getBool("KELLY", false),
			KellyFraction:        getFloat("KELLY_FRACTION", 0.25),
			UseProbabilityWeight: getBool("USE_PROBABILITY_WEIGHTING", true),
			MultilegEnabled:      getBool("MULTILEG_ENABLED", false),
		},
		Alerts: Alerts{
			WebhookURL:            os.Getenv("ALERT_WEBHOOK_URL"),
			EmailConfig:           os.Getenv("ALERT_EMAIL_CONFIG"),
			TelegramBotToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
			TelegramChatID:        os.Getenv("TELEGRAM_CHAT_ID"),
			TelegramAlertsEnabled: getBool("TELEGRAM_ALERTS_ENABLED", false),
		},
		Dashboard: Dashboard{
			Enabled: getBool("DASHBOARD_ENABLED", true),
			Port:    getInt("DASHBOARD_PORT", 8080),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Instruments.MinimumLotSize <= 0 {
		return fmt.Errorf("MINIMUM_LOT_SIZE must be positive")
	}
	if c.Risk.RiskPerTradeMin > c.Risk.RiskPerTradeMax {
		return fmt.Errorf("RISK_PER_TRADE_MIN exceeds RISK_PER_TRADE_MAX")
	}
	if c.Risk.Capital <= 0 {
		return fmt.Errorf("CAPITAL must be positive")
	}
	if !c.Session.DemoMode {
		if c.Broker.APIKey == "" || c.Broker.ClientCode == "" {
			return fmt.Errorf("broker credentials required unless DEMO_MODE=true")
		}
	}
	return nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}
