package config

import "strings"

const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9982"
	defaultAppLogPath       = "data/logs/teletrade.log"
	defaultInterpreterURL   = "https://openrouter.ai/api/v1"
	defaultInterpreterTmout = 30
	defaultTelegramPoll     = 30
	defaultRiskConfidence   = 0.70
	defaultRiskWorstMove    = 0.05
	defaultRiskStaleness    = 60
	defaultDedupWindow      = 120
	defaultDedupJanitor     = 60
	defaultDispatchAttempts = 3
	defaultDispatchBase     = 200
	defaultDispatchCap      = 5000
	defaultDispatchTimeout  = 10
	defaultDispatchParallel = 4
	defaultBrokerMode       = "paper"
	defaultBrokerTimeout    = 15
	defaultMarketInterval   = "1m"
	defaultMarketLookback   = 120
	defaultMarketATRPeriod  = 14
	defaultStoreDBPath      = "data/db/teletrade.db"
	defaultStoreAuditPath   = "data/db/audit.db"
	defaultLedgerEquity     = 1_000_000
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Telegram.applyDefaults(keys)
	c.Interpreter.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Dedup.applyDefaults(keys)
	c.Dispatch.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Ledger.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (t *TelegramConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("telegram.poll_timeout_seconds", &t.PollTimeoutSeconds, defaultTelegramPoll),
	)
}

func (i *InterpreterConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("interpreter.api_url", &i.APIURL, defaultInterpreterURL),
		intFieldDefault("interpreter.timeout_seconds", &i.TimeoutSeconds, defaultInterpreterTmout),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("risk.confidence_floor", &r.ConfidenceFloor, defaultRiskConfidence),
		floatFieldDefault("risk.worst_case_move_pct", &r.WorstCaseMovePct, defaultRiskWorstMove),
		intFieldDefault("risk.staleness_seconds", &r.StalenessSeconds, defaultRiskStaleness),
	)
}

func (d *DedupConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("dedup.window_seconds", &d.WindowSeconds, defaultDedupWindow),
		intFieldDefault("dedup.janitor_seconds", &d.JanitorSeconds, defaultDedupJanitor),
	)
}

func (d *DispatchConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		intFieldDefault("dispatch.max_attempts", &d.MaxAttempts, defaultDispatchAttempts),
		intFieldDefault("dispatch.backoff_base_ms", &d.BackoffBaseMillis, defaultDispatchBase),
		intFieldDefault("dispatch.backoff_cap_ms", &d.BackoffCapMillis, defaultDispatchCap),
		intFieldDefault("dispatch.attempt_timeout_seconds", &d.AttemptTimeoutSeconds, defaultDispatchTimeout),
		intFieldDefault("dispatch.max_concurrent", &d.MaxConcurrent, defaultDispatchParallel),
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("broker.mode", &b.Mode, defaultBrokerMode),
		intFieldDefault("broker.timeout_seconds", &b.TimeoutSeconds, defaultBrokerTimeout),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("market.interval", &m.Interval, defaultMarketInterval),
		intFieldDefault("market.lookback", &m.Lookback, defaultMarketLookback),
		intFieldDefault("market.atr_period", &m.ATRPeriod, defaultMarketATRPeriod),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("store.db_path", &s.DBPath, defaultStoreDBPath),
		stringFieldDefault("store.audit_db_path", &s.AuditDBPath, defaultStoreAuditPath),
	)
}

func (l *LedgerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("ledger.base_equity", &l.BaseEquity, defaultLedgerEquity),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target <= 0 },
		apply: func() { *target = def },
	}
}
