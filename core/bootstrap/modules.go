package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/m3rciful/seerrbot/core/logger"
)

// Module is a background component that lives as long as the bot runs.
type Module interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// ModuleFuncs adapts a pair of functions to Module. Either func may be nil.
type ModuleFuncs struct {
	ModuleName string
	OnStart    func(ctx context.Context) error
	OnStop     func(ctx context.Context) error
}

// Name implements Module.
func (m ModuleFuncs) Name() string { return m.ModuleName }

// Start implements Module.
func (m ModuleFuncs) Start(ctx context.Context) error {
	if m.OnStart == nil {
		return nil
	}
	return m.OnStart(ctx)
}

// Stop implements Module.
func (m ModuleFuncs) Stop(ctx context.Context) error {
	if m.OnStop == nil {
		return nil
	}
	return m.OnStop(ctx)
}

// Modules starts in order and stops in reverse order.
type Modules []Module

// Start starts every module. If one fails, the modules already started are
// stopped again before the error is returned.
func (ms Modules) Start(ctx context.Context) error {
	for i, m := range ms {
		if err := m.Start(ctx); err != nil {
			stopErr := ms[:i].Stop(ctx)
			return errors.Join(fmt.Errorf("bootstrap: start %s: %w", m.Name(), err), stopErr)
		}
		logger.Info(ctx, "app", "module.start", slog.String("status", "ok"), slog.String("name", m.Name()))
	}
	return nil
}

// Stop stops every module in reverse order and joins their errors.
func (ms Modules) Stop(ctx context.Context) error {
	var errs []error
	for i := len(ms) - 1; i >= 0; i-- {
		m := ms[i]
		err := m.Stop(ctx)
		logger.Info(ctx, "app", "module.stop", slog.String("status", logger.Status(err)), slog.String("name", m.Name()))
		if err != nil {
			errs = append(errs, fmt.Errorf("bootstrap: stop %s: %w", m.Name(), err))
		}
	}
	return errors.Join(errs...)
}
