package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/herambskanda/teletrade/internal/audit"
	"github.com/herambskanda/teletrade/internal/config"
	"github.com/herambskanda/teletrade/internal/dedup"
	"github.com/herambskanda/teletrade/internal/logger"
	"github.com/herambskanda/teletrade/internal/pipeline"
	"github.com/herambskanda/teletrade/internal/risk"
	"github.com/herambskanda/teletrade/internal/server"
	"github.com/herambskanda/teletrade/internal/store"
	"github.com/herambskanda/teletrade/internal/telegram"
)

// App wires the admission pipeline, the operator HTTP surface and the
// channel listener, and owns their lifecycles.
type App struct {
	cfg      *config.Config
	cfgPath  string
	pipe     *pipeline.Pipeline
	dedupe   *dedup.Store
	chain    *risk.Chain
	trail    audit.Trail
	store    *store.Store
	httpSrv  *server.Server
	listener *telegram.Listener
	notifier *telegram.Notifier
}

// NewApp builds the application from config without starting anything.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// SetConfigPath enables risk-limit hot reload for the given file.
func (a *App) SetConfigPath(path string) { a.cfgPath = path }

// Pipeline exposes the admission pipeline, for replay harnesses and tests.
func (a *App) Pipeline() *pipeline.Pipeline {
	if a == nil {
		return nil
	}
	return a.pipe
}

// Run starts every component and blocks until ctx cancels or a component
// fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	if err := a.pipe.Recover(ctx); err != nil {
		return fmt.Errorf("startup recovery scan: %w", err)
	}

	a.pipe.Start()
	defer a.pipe.Stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		a.dedupe.RunJanitor(ctx, time.Duration(a.cfg.Dedup.JanitorSeconds)*time.Second)
		return nil
	})

	if a.listener != nil {
		group.Go(func() error {
			err := a.listener.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	if a.cfgPath != "" {
		if err := a.watchLimits(ctx); err != nil {
			logger.Warnf("app: risk limit hot reload disabled: %v", err)
		}
	}

	if a.notifier != nil {
		if err := a.notifier.SendText(fmt.Sprintf("teletrade up, env=%s", a.cfg.App.Env)); err != nil {
			logger.Warnf("app: startup notification failed: %v", err)
		}
	}

	logger.Infof("app: running, http on %s", a.httpSrv.Addr())
	err := group.Wait()

	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil {
			logger.Warnf("app: closing store failed: %v", cerr)
		}
	}
	if a.trail != nil {
		if cerr := a.trail.Close(); cerr != nil {
			logger.Warnf("app: closing audit trail failed: %v", cerr)
		}
	}
	return err
}

// watchLimits pushes reloaded risk gates into the running chain. Only the
// risk section takes effect without a restart.
func (a *App) watchLimits(ctx context.Context) error {
	return config.Watch(ctx, a.cfgPath, func(cfg *config.Config) {
		a.chain.SetLimits(riskLimits(cfg.Risk))
		logger.Infof("app: risk limits reloaded")
	})
}
