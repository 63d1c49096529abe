package serve

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/leafscan/leafscan/internal/app"
	"github.com/leafscan/leafscan/internal/buildinfo"
	"github.com/leafscan/leafscan/internal/conf"
	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/logger"
	"github.com/leafscan/leafscan/internal/telemetry"
)

// shutdownTimeout bounds flushing the outbox writes and the HTTP server on exit.
const shutdownTimeout = 30 * time.Second

// Command creates the serve command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run sync engines, the pending queue and the local HTTP API",
		Long: "Open the local database, start the sync engines and the pending scan queue, " +
			"probe connectivity and serve the HTTP API until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings)
		},
	}

	cmd.Flags().String("listen", "", "Listen address of the HTTP API")
	if err := viper.BindPFlag("http.listen", cmd.Flags().Lookup("listen")); err != nil {
		panic(err)
	}
	return cmd
}

func run(parent context.Context, settings *conf.Settings) error {
	log := logger.Global().Module("serve")
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	build := buildinfo.Current()
	deviceID, err := telemetry.LoadOrCreateDeviceID(settings.Storage.Dir)
	if err != nil {
		log.Warn("cannot load device id", logger.Error(err))
	}
	build.DeviceID = deviceID
	if err := telemetry.Init(telemetry.Options{
		Settings:    settings.Telemetry,
		Environment: settings.Environment,
		Release:     build.GetVersion(),
		DeviceID:    deviceID,
	}); err != nil {
		log.Warn("telemetry disabled", logger.Error(err))
	}
	defer telemetry.Flush(2 * time.Second)

	a, err := app.New(ctx, settings, build, app.Options{Serve: true})
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(err, a.Close(closeCtx))
	}
	log.Info("leafscan running",
		logger.String("version", build.GetVersion()),
		logger.String("environment", settings.Environment),
		logger.String("listen", settings.HTTP.Listen))

	<-ctx.Done()
	log.Info("shutdown signal received")

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return a.Close(closeCtx)
}
