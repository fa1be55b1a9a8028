package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/herambskanda/teletrade/internal/account"
	"github.com/herambskanda/teletrade/internal/audit"
	"github.com/herambskanda/teletrade/internal/broker"
	"github.com/herambskanda/teletrade/internal/config"
	"github.com/herambskanda/teletrade/internal/dedup"
	"github.com/herambskanda/teletrade/internal/dispatch"
	"github.com/herambskanda/teletrade/internal/interpreter"
	"github.com/herambskanda/teletrade/internal/ledger"
	"github.com/herambskanda/teletrade/internal/logger"
	"github.com/herambskanda/teletrade/internal/marketdata"
	"github.com/herambskanda/teletrade/internal/pipeline"
	"github.com/herambskanda/teletrade/internal/risk"
	"github.com/herambskanda/teletrade/internal/server"
	"github.com/herambskanda/teletrade/internal/store"
	"github.com/herambskanda/teletrade/internal/telegram"
)

// AppBuilder assembles the application from config. Each build step can be
// overridden in tests.
type AppBuilder struct {
	cfg *config.Config

	interpreterFn func(config.InterpreterConfig) (interpreter.Interpreter, error)
	brokerFn      func(config.BrokerConfig) (broker.Client, error)
	trailFn       func(config.StoreConfig) (audit.Trail, error)
	storeFn       func(config.StoreConfig) (*store.Store, error)
	scorerFn      func(config.MarketConfig) risk.Scorer
	accountFn     func(*config.Config) account.Provider
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		interpreterFn: buildInterpreter,
		brokerFn:      buildBroker,
		trailFn:       buildTrail,
		storeFn:       buildStore,
		scorerFn:      buildScorer,
		accountFn:     buildAccount,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	st, err := b.storeFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("opening signal store: %w", err)
	}
	trail, err := b.trailFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("opening audit trail: %w", err)
	}

	led := ledger.New(decimal.NewFromFloat(cfg.Ledger.BaseEquity))
	if err := rehydrateLedger(ctx, led, st); err != nil {
		return nil, err
	}

	calendar, err := loadCalendar(cfg.Risk.SessionCalendar)
	if err != nil {
		return nil, err
	}
	chain := risk.NewChain(riskLimits(cfg.Risk), calendar, b.accountFn(cfg), b.scorerFn(cfg.Market))

	client, err := b.brokerFn(cfg.Broker)
	if err != nil {
		return nil, fmt.Errorf("building broker client: %w", err)
	}
	dispatcher := dispatch.New(client, trail, st, led, dispatch.RetryPolicy{
		MaxAttempts:    cfg.Dispatch.MaxAttempts,
		BackoffBase:    time.Duration(cfg.Dispatch.BackoffBaseMillis) * time.Millisecond,
		BackoffCap:     time.Duration(cfg.Dispatch.BackoffCapMillis) * time.Millisecond,
		AttemptTimeout: time.Duration(cfg.Dispatch.AttemptTimeoutSeconds) * time.Second,
	})

	interp, err := b.interpreterFn(cfg.Interpreter)
	if err != nil {
		return nil, fmt.Errorf("building interpreter: %w", err)
	}

	dedupe := dedup.NewStore()
	pipe := pipeline.New(interp, dedupe, chain, led, trail, dispatcher, st, pipeline.Config{
		DedupWindow:           time.Duration(cfg.Dedup.WindowSeconds) * time.Second,
		MaxConcurrentDispatch: int64(cfg.Dispatch.MaxConcurrent),
	})

	notifier := buildNotifier(cfg.Telegram)
	if notifier != nil {
		pipe.SetNotifier(notifier)
	}

	svc := &service{pipe: pipe, dispatcher: dispatcher, led: led, trail: trail}
	httpSrv, err := server.NewServer(server.ServerConfig{Addr: cfg.App.HTTPAddr, Service: svc})
	if err != nil {
		return nil, fmt.Errorf("building http server: %w", err)
	}

	app := &App{
		cfg:      cfg,
		pipe:     pipe,
		dedupe:   dedupe,
		chain:    chain,
		trail:    trail,
		store:    st,
		httpSrv:  httpSrv,
		notifier: notifier,
	}
	if cfg.Telegram.Enabled {
		app.listener = telegram.NewListener(cfg.Telegram.BotToken, cfg.Telegram.Channels,
			time.Duration(cfg.Telegram.PollTimeoutSeconds)*time.Second, pipe)
	}
	return app, nil
}

func buildInterpreter(cfg config.InterpreterConfig) (interpreter.Interpreter, error) {
	return interpreter.NewClient(interpreter.Config{
		BaseURL:     cfg.APIURL,
		APIKey:      cfg.APIKey,
		Models:      cfg.Models,
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		Temperature: cfg.Temperature,
	})
}

func buildBroker(cfg config.BrokerConfig) (broker.Client, error) {
	switch cfg.Mode {
	case "http":
		return broker.NewHTTPClient(broker.HTTPConfig{
			APIURL:         cfg.APIURL,
			APIToken:       cfg.APIToken,
			TimeoutSeconds: cfg.TimeoutSeconds,
		})
	default:
		logger.Infof("broker: paper mode, orders stay in-process")
		return broker.NewPaper(), nil
	}
}

func buildTrail(cfg config.StoreConfig) (audit.Trail, error) {
	return audit.NewSQLiteTrail(cfg.AuditDBPath)
}

func buildStore(cfg config.StoreConfig) (*store.Store, error) {
	return store.Open(cfg.DBPath)
}

func buildScorer(cfg config.MarketConfig) risk.Scorer {
	if !cfg.Enabled {
		return risk.ConstScorer(0)
	}
	scorer := risk.NewVolatilityScorer(marketdata.NewBinanceSource(marketdata.BinanceConfig{}))
	scorer.Interval = cfg.Interval
	scorer.Lookback = cfg.Lookback
	scorer.ATRPeriod = cfg.ATRPeriod
	return scorer
}

func buildAccount(cfg *config.Config) account.Provider {
	// static margin provider in paper deployments; a real broker account
	// feed slots in behind the same interface
	return account.NewCached(account.StaticProvider{
		Margin: decimal.NewFromFloat(cfg.Ledger.BaseEquity),
	}, 30*time.Second, 5*time.Second)
}

func buildNotifier(cfg config.TelegramConfig) *telegram.Notifier {
	if !cfg.Enabled || cfg.NotifyChatID == "" {
		return nil
	}
	return telegram.NewNotifier(cfg.BotToken, cfg.NotifyChatID)
}

func loadCalendar(path string) (*risk.Calendar, error) {
	if path == "" {
		return risk.DefaultCalendar(), nil
	}
	cal, err := risk.LoadCalendar(path)
	if err != nil {
		return nil, fmt.Errorf("loading session calendar: %w", err)
	}
	return cal, nil
}

func riskLimits(cfg config.RiskConfig) risk.Limits {
	return risk.Limits{
		ConfidenceFloor:  cfg.ConfidenceFloor,
		MaxNotional:      decimal.NewFromFloat(cfg.MaxNotional),
		DailyLossLimit:   decimal.NewFromFloat(cfg.DailyLossLimit),
		DrawdownCeiling:  decimal.NewFromFloat(cfg.DrawdownCeiling),
		WorstCaseMovePct: decimal.NewFromFloat(cfg.WorstCaseMovePct),
		AnomalyThreshold: cfg.AnomalyThreshold,
		StalenessMax:     time.Duration(cfg.StalenessSeconds) * time.Second,
	}
}

// rehydrateLedger seeds positions from orders that filled before the last
// shutdown, so risk checks start from real exposure instead of flat.
func rehydrateLedger(ctx context.Context, led *ledger.Ledger, st *store.Store) error {
	if st == nil {
		return nil
	}
	filled, err := st.ListFilledOrders(ctx)
	if err != nil {
		return fmt.Errorf("listing filled orders for rehydration: %w", err)
	}
	for _, row := range filled {
		qty, err := decimal.NewFromString(row.FilledQty)
		if err != nil || qty.IsZero() {
			continue
		}
		price, err := decimal.NewFromString(row.FillPrice)
		if err != nil {
			continue
		}
		if row.Side == "sell" || row.Side == "exit" {
			qty = qty.Neg()
		}
		led.ApplyFill(ledger.Fill{Symbol: row.Symbol, Quantity: qty, Price: price})
	}
	if len(filled) > 0 {
		// replay seeds positions; the day counters restart fresh
		led.ResetDay(time.Now())
		logger.Infof("ledger: rehydrated positions from %d filled orders", len(filled))
	}
	return nil
}
