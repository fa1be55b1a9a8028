package config

import "strings"

// Config is the main configuration carrier.
type Config struct {
	App         AppConfig         `toml:"app"`
	Telegram    TelegramConfig    `toml:"telegram"`
	Interpreter InterpreterConfig `toml:"interpreter"`
	Risk        RiskConfig        `toml:"risk"`
	Dedup       DedupConfig       `toml:"dedup"`
	Dispatch    DispatchConfig    `toml:"dispatch"`
	Broker      BrokerConfig      `toml:"broker"`
	Market      MarketConfig      `toml:"market"`
	Store       StoreConfig       `toml:"store"`
	Ledger      LedgerConfig      `toml:"ledger"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// TelegramConfig describes the listener boundary. Channels not on the
// allow list are dropped before interpretation.
type TelegramConfig struct {
	Enabled            bool     `toml:"enabled"`
	BotToken           string   `toml:"bot_token"`
	Channels           []string `toml:"channels"`
	NotifyChatID       string   `toml:"notify_chat_id"`
	PollTimeoutSeconds int      `toml:"poll_timeout_seconds"`
}

type InterpreterConfig struct {
	APIURL         string   `toml:"api_url"`
	APIKey         string   `toml:"api_key"`
	Models         []string `toml:"models"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
	Temperature    float64  `toml:"temperature"`
}

// RiskConfig carries the validation gates. This section hot-reloads; the
// rest of the file needs a restart.
type RiskConfig struct {
	ConfidenceFloor  float64 `toml:"confidence_floor"`
	MaxNotional      float64 `toml:"max_notional"`
	DailyLossLimit   float64 `toml:"daily_loss_limit"`
	DrawdownCeiling  float64 `toml:"drawdown_ceiling"`
	WorstCaseMovePct float64 `toml:"worst_case_move_pct"`
	AnomalyThreshold float64 `toml:"anomaly_threshold"`
	StalenessSeconds int     `toml:"staleness_seconds"`
	SessionCalendar  string  `toml:"session_calendar"`
}

type DedupConfig struct {
	WindowSeconds  int `toml:"window_seconds"`
	JanitorSeconds int `toml:"janitor_seconds"`
}

type DispatchConfig struct {
	MaxAttempts           int `toml:"max_attempts"`
	BackoffBaseMillis     int `toml:"backoff_base_ms"`
	BackoffCapMillis      int `toml:"backoff_cap_ms"`
	AttemptTimeoutSeconds int `toml:"attempt_timeout_seconds"`
	MaxConcurrent         int `toml:"max_concurrent"`
}

// BrokerConfig selects the execution back end: "paper" runs dry,
// "http" talks to the real order endpoint.
type BrokerConfig struct {
	Mode           string `toml:"mode"`
	APIURL         string `toml:"api_url"`
	APIToken       string `toml:"api_token"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// MarketConfig feeds the volatility anomaly scorer.
type MarketConfig struct {
	Enabled   bool   `toml:"enabled"`
	Interval  string `toml:"interval"`
	Lookback  int    `toml:"lookback"`
	ATRPeriod int    `toml:"atr_period"`
}

type StoreConfig struct {
	DBPath      string `toml:"db_path"`
	AuditDBPath string `toml:"audit_db_path"`
}

type LedgerConfig struct {
	BaseEquity float64 `toml:"base_equity"`
}

// keySet tracks field paths explicitly present in the config file, so
// defaults never clobber deliberate zero values.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault is one field's defaulting rule.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
