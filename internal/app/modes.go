package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/executor"
	"github.com/alanyoungcy/cascadebot/internal/ingest"
	"github.com/alanyoungcy/cascadebot/internal/pipeline"
	"github.com/alanyoungcy/cascadebot/internal/server"
	"github.com/alanyoungcy/cascadebot/internal/server/handler"
	"github.com/alanyoungcy/cascadebot/internal/server/ws"
	"github.com/alanyoungcy/cascadebot/internal/service"
)

const shutdownTimeout = 5 * time.Second

// WatchMode watches pending transactions and sends live contract calls.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode",
		slog.String("contract", deps.ContractAddress.Hex()),
	)
	return a.run(ctx, deps)
}

// DryRunMode runs the full pipeline but only logs the contract calls.
func (a *App) DryRunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting dryrun mode, no transactions will be sent")
	return a.run(ctx, deps)
}

func (a *App) run(ctx context.Context, deps *Dependencies) error {
	dispatcher, events, err := a.buildDispatcher(deps)
	if err != nil {
		return err
	}

	// The event queue outlives the watcher so events from units finishing
	// after shutdown still reach the exporter and notifier.
	evCtx, stopEvents := context.WithCancel(context.WithoutCancel(ctx))
	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		_ = events.Run(evCtx)
	}()
	defer func() {
		stopEvents()
		<-eventsDone
	}()

	g, ctx := errgroup.WithContext(ctx)

	watcher := ingest.NewWatcher(deps.Chain, deps.Chain, dispatcher, deps.Metrics, ingest.Config{
		MaxInFlight:         int64(a.cfg.Dispatch.MaxInFlight),
		UnitTimeout:         a.cfg.Dispatch.UnitTimeout.Duration,
		ResubscribeDelay:    a.cfg.Dispatch.ResubscribeDelay.Duration,
		MaxResubscribeDelay: a.cfg.Dispatch.MaxResubscribeDelay.Duration,
	}, a.logger)
	g.Go(func() error {
		return watcher.Run(ctx)
	})

	if deps.Archiver != nil {
		var audit domain.AuditStore
		if deps.AuditStore != nil {
			audit = deps.AuditStore
		}
		archiver := pipeline.NewArchiver(deps.Archiver, deps.LockManager, audit, a.cfg.Archive.RetentionDays, a.logger)
		g.Go(func() error {
			return archiver.RunLoop(ctx, a.cfg.Archive.Interval.Duration)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	if deps.Notifier.Enabled() {
		msg := fmt.Sprintf("mode=%s contract=%s", a.cfg.Mode, deps.ContractAddress.Hex())
		if err := deps.Notifier.NotifyAll(ctx, "cascadebot started", msg); err != nil {
			a.logger.WarnContext(ctx, "startup notification failed", slog.String("error", err.Error()))
		}
	}

	return g.Wait()
}

// buildDispatcher assembles the dispatcher and its event fan-out. The
// returned EventService must be Run for the exporter and notifier to
// receive events.
func (a *App) buildDispatcher(deps *Dependencies) (*executor.Dispatcher, *service.EventService, error) {
	rules, err := a.cfg.Rules()
	if err != nil {
		return nil, nil, err
	}
	codec, err := a.cfg.Codec()
	if err != nil {
		return nil, nil, err
	}
	policy, err := a.cfg.RoyaltyPolicy()
	if err != nil {
		return nil, nil, err
	}
	gasPrice, err := a.cfg.GasPrice()
	if err != nil {
		return nil, nil, err
	}

	sinks := service.Sinks{
		Bus:      deps.SignalBus,
		Channel:  a.cfg.Redis.EventChannel,
		Log:      deps.EventLog,
		Notifier: deps.Notifier,
	}
	if deps.SignalStore != nil {
		sinks.Signals = deps.SignalStore
	}
	if deps.AuditStore != nil {
		sinks.Audit = deps.AuditStore
	}
	if deps.Kafka != nil {
		sinks.Exporter = deps.Kafka
	}

	events := service.NewEventService(sinks, service.DefaultQueueSize, a.logger)
	return executor.NewDispatcher(executor.Config{
		Rules:    rules,
		Codec:    codec,
		Seen:     deps.Seen,
		Royalty:  policy,
		Contract: deps.Contract,
		GasPrice: gasPrice,
		Events:   events,
		Metrics:  deps.Metrics,

		CallTimeout: a.cfg.Dispatch.CallTimeout.Duration,
	}, a.logger), events, nil
}

// startHTTPServer adds the API server, and the WebSocket hub when Redis is
// wired, to g. The server shuts down when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	checks := map[string]handler.Check{}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis.Ping
	}
	if deps.Postgres != nil {
		checks["postgres"] = deps.Postgres.Ping
	}
	if deps.S3 != nil {
		checks["s3"] = deps.S3.Health
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(checks, a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, deps.Chain.ChainID().Int64(), deps.ContractAddress.Hex(), deps.Metrics),
		Metrics: deps.Metrics.Handler(),
	}
	if deps.SignalStore != nil {
		handlers.Signals = handler.NewSignalHandler(deps.SignalStore, a.logger)
	}
	if deps.EventLog != nil {
		handlers.Events = handler.NewEventHandler(deps.EventLog, a.logger)
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Channel:   a.cfg.Redis.EventChannel,
			Mode:      a.cfg.Mode,
			ChainID:   deps.Chain.ChainID().Int64(),
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
