// Package usecase contains application business logic.
package usecase

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/devreload/internal/domain"
)

// Dispatcher routes accepted changes: code changes restart the application,
// asset changes reload the browsers.
type Dispatcher struct {
	supervisor domain.Supervisor
	reloader   domain.Reloader
	logger     *zap.Logger

	wg     sync.WaitGroup
	fatal  chan error
	failed sync.Once
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(sup domain.Supervisor, reloader domain.Reloader, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		supervisor: sup,
		reloader:   reloader,
		logger:     logger,
		fatal:      make(chan error, 1),
	}
}

// Dispatch acts on one change. Restarts run in the background so the
// caller's loop keeps draining changes; StaticReload runs inline.
func (d *Dispatcher) Dispatch(ctx context.Context, change domain.Change) {
	switch change.Class {
	case domain.ClassCode:
		if change.First {
			d.logger.Info("code changed, restarting server", zap.Stringer("event", change.Event))
		} else {
			d.logger.Info("code changed, restarting server",
				zap.Stringer("event", change.Event),
				zap.Duration("since_last", change.SinceLast))
		}
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.restart(ctx)
		}()

	case domain.ClassAsset:
		d.logger.Debug("asset changed", zap.Stringer("event", change.Event))
		d.reloader.StaticReload(assetPath(change.Event))

	default:
		d.logger.Debug("ignoring change", zap.Stringer("event", change.Event))
	}
}

func (d *Dispatcher) restart(ctx context.Context) {
	err := d.supervisor.Restart(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRestartQueued):
		d.logger.Debug("restart already pending")
	case domain.IsFatal(err):
		d.logger.Error("restart failed", zap.Error(err))
		d.failed.Do(func() { d.fatal <- err })
	default:
		d.logger.Warn("restart failed", zap.Error(err))
	}
}

// Fatal delivers the first error that must terminate the tool.
func (d *Dispatcher) Fatal() <-chan error {
	return d.fatal
}

// Wait blocks until every background restart has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// assetPath is the file a reload should point at. For moves that is the
// destination.
func assetPath(ev domain.WatchEvent) string {
	if ev.Op == domain.OpMoved && ev.Dest != "" {
		return ev.Dest
	}
	return ev.Path
}
