// Package runner opens the application for one-shot commands.
package runner

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/leafscan/leafscan/internal/app"
	"github.com/leafscan/leafscan/internal/buildinfo"
	"github.com/leafscan/leafscan/internal/conf"
	"github.com/leafscan/leafscan/internal/errors"
)

// CloseTimeout bounds the final flush of a one-shot command.
const CloseTimeout = 30 * time.Second

// Run starts the application, calls fn and closes it again. An interrupt
// cancels fn, which ends backend retries; the close still flushes.
func Run(ctx context.Context, settings *conf.Settings, opts app.Options, fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, settings, buildinfo.Current(), opts)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CloseTimeout)
		defer cancel()
		return errors.Join(err, a.Close(closeCtx))
	}

	runErr := fn(ctx, a)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CloseTimeout)
	defer cancel()
	return errors.Join(runErr, a.Close(closeCtx))
}
