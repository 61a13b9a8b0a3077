// Package app wires the pipeline, stores, channels, and ops surfaces into
// one runnable service.
package app

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"

	"newsfan/internal/accounting"
	"newsfan/internal/bus"
	"newsfan/internal/config"
	"newsfan/internal/dispatch"
	"newsfan/internal/enrich"
	"newsfan/internal/event"
	"newsfan/internal/eventstore"
	"newsfan/internal/filter"
	"newsfan/internal/janitor"
	"newsfan/internal/pipeline"
	rtsup "newsfan/internal/runtime/supervisor"
	"newsfan/internal/stream"
	"newsfan/internal/subscriber"
	"newsfan/internal/tracker"
	"newsfan/internal/transport/telegram"
	"newsfan/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	acct  accounting.Store
	store eventstore.Store

	registry *subscriber.Registry
	hub      *stream.Hub
	bus      bus.Bus

	engine *filter.Engine
	coord  *dispatch.Coordinator
	trk    *tracker.Tracker
	msrv   *tracker.Server
	pipe   *pipeline.Service
	jan    *janitor.Janitor

	sup     *rtsup.Supervisor
	started bool
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, root := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	acct, err := openAccounting(cfg, root)
	if err != nil {
		return nil, err
	}
	store, err := openEventStore(cfg, root)
	if err != nil {
		_ = acct.Close()
		return nil, err
	}

	b := bus.New()
	registry := subscriber.NewRegistry()
	hub := stream.NewHub(root.With(logx.String("comp", "stream")))

	// Secrets may come from the environment (.env in local runs) instead of
	// the config file.
	tgToken := cfg.Telegram.Token
	if tgToken == "" {
		tgToken = os.Getenv("NEWSFAN_TELEGRAM_TOKEN")
	}
	var direct *telegram.Sender
	if tgToken != "" {
		direct, err = telegram.New(telegram.Config{
			Token:   tgToken,
			Offline: cfg.Telegram.Offline,
		}, root.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = store.Close()
			_ = acct.Close()
			return nil, err
		}
	} else {
		log.Warn("telegram token not set; direct channel disabled")
	}

	fcfg := mapFilterConfig(cfg)
	engine := filter.NewEngine(fcfg, acct, b, root.With(logx.String("comp", "filter")))

	trk := tracker.New(tracker.Config{
		Addr:           cfg.Metrics.Addr,
		RecentTitleCap: fcfg.RecentTitleCap,
	}, acct, prometheus.DefaultRegisterer, root.With(logx.String("comp", "tracker")))

	dcfg, err := mapDispatchConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = acct.Close()
		return nil, err
	}
	coord := dispatch.NewCoordinator(dcfg, hub, senderOrNil(direct), trk, b,
		root.With(logx.String("comp", "dispatch")))

	pcfg, err := mapPipelineConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = acct.Close()
		return nil, err
	}
	enrichToken := cfg.Enrich.Token
	if enrichToken == "" {
		enrichToken = os.Getenv("NEWSFAN_ENRICH_TOKEN")
	}
	pipe := pipeline.New(pcfg, acct, store, enrich.New(enrich.Config{
		Provider: cfg.Enrich.Provider,
		Token:    enrichToken,
		Model:    cfg.Enrich.Model,
		BaseURL:  cfg.Enrich.BaseURL,
	}), engine, coord, registry, b, root.With(logx.String("comp", "pipeline")))

	jan, err := janitor.New(janitor.Config{
		PruneSchedule:    cfg.Janitor.PruneSchedule,
		RolloverSchedule: cfg.Janitor.RolloverSchedule,
		Timezone:         cfg.Janitor.Timezone,
	}, acct, trk.Snapshot, root.With(logx.String("comp", "janitor")))
	if err != nil {
		_ = store.Close()
		_ = acct.Close()
		return nil, err
	}

	a := &App{
		cfgm:     cfgm,
		logs:     logs,
		log:      log,
		acct:     acct,
		store:    store,
		registry: registry,
		hub:      hub,
		bus:      b,
		engine:   engine,
		coord:    coord,
		trk:      trk,
		pipe:     pipe,
		jan:      jan,
	}
	if cfg.Metrics.Addr != "" {
		a.msrv = tracker.NewServer(cfg.Metrics.Addr, trk, prometheus.DefaultGatherer,
			root.With(logx.String("comp", "metrics")))
	}
	return a, nil
}

// Submit hands a raw event to the pipeline. The app's ingest surface.
func (a *App) Submit(raw event.Raw) error { return a.pipe.Submit(raw) }

// Registry exposes subscriber management to the embedding process.
func (a *App) Registry() *subscriber.Registry { return a.registry }

// Hub exposes the broadcast session registry.
func (a *App) Hub() *stream.Hub { return a.hub }

func (a *App) Start(ctx context.Context) error {
	if a.started {
		return errors.New("app: already started")
	}
	a.started = true

	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))

	if err := a.pipe.Start(ctx); err != nil {
		return err
	}
	a.jan.Start()

	a.sup.Go0("tracker.consume", func(sctx context.Context) {
		a.trk.Run(sctx, a.bus)
	})
	if a.msrv != nil {
		a.sup.GoRestart("metrics.server", a.msrv.Run)
	}
	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.sup.Go0("config.apply", a.applyLoop)
	a.sup.Go0("systemd.watchdog", watchdogLoop)

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("newsfan started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.pipe.Stop()
	a.jan.Stop()

	if a.sup != nil {
		a.sup.Cancel()
		wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := a.sup.Wait(wctx); err != nil {
			a.log.Warn("shutdown wait expired", logx.Err(err))
		}
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("event store close failed", logx.Err(err))
	}
	if err := a.acct.Close(); err != nil {
		a.log.Warn("accounting close failed", logx.Err(err))
	}
	a.log.Info("newsfan stopped")
	return a.logs.Close()
}

// applyLoop consumes validated config reloads and applies the hot-swappable
// subset: log level/sinks, filter tunables, dispatch tunables. Everything
// else (drivers, addresses, tokens) needs a restart.
func (a *App) applyLoop(ctx context.Context) {
	updates := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(updates)

	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			changed, attrs := config.SummarizeChange(prev, cfg)
			if len(changed) == 0 {
				continue
			}

			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.engine.Apply(mapFilterConfig(cfg))
			if dcfg, err := mapDispatchConfig(cfg); err == nil {
				a.coord.Apply(dcfg)
			}

			attrs = append(attrs, logx.Any("sections", changed))
			a.log.Info("config applied", attrs...)
			prev = cfg
		}
	}
}

// watchdogLoop pings systemd at half the WatchdogSec interval when one is
// configured; it exits immediately otherwise.
func watchdogLoop(ctx context.Context) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
