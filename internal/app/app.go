// Package app assembles the stores, persistence, sync engines, the pending
// queue and the optional HTTP API from the settings.
package app

import (
	"context"
	"time"

	"github.com/leafscan/leafscan/internal/api"
	"github.com/leafscan/leafscan/internal/buildinfo"
	"github.com/leafscan/leafscan/internal/conf"
	"github.com/leafscan/leafscan/internal/connectivity"
	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/httpclient"
	"github.com/leafscan/leafscan/internal/logger"
	"github.com/leafscan/leafscan/internal/mqtt"
	"github.com/leafscan/leafscan/internal/notification"
	"github.com/leafscan/leafscan/internal/observability"
	"github.com/leafscan/leafscan/internal/pending"
	"github.com/leafscan/leafscan/internal/persistence"
	"github.com/leafscan/leafscan/internal/remote"
	"github.com/leafscan/leafscan/internal/remote/rest"
	"github.com/leafscan/leafscan/internal/remote/sqlstore"
	"github.com/leafscan/leafscan/internal/scan"
	"github.com/leafscan/leafscan/internal/store"
	"github.com/leafscan/leafscan/internal/syncengine"
	"github.com/leafscan/leafscan/internal/trash"
)

// Options selects the optional parts.
type Options struct {
	// Serve adds the background puller, the connectivity prober and the
	// HTTP API.
	Serve bool
	// Backend replaces the backend built from the settings.
	Backend remote.Backend
	// Processor replaces the classifier client built from the settings.
	Processor pending.Processor
}

// App is one assembled instance. Start runs the components in dependency
// order; Close stops them in reverse and releases the database.
type App struct {
	Settings *conf.Settings
	Build    *buildinfo.Context
	Metrics  *observability.Metrics
	Store    *store.Context
	Adapter  *persistence.Adapter
	Writer   *persistence.Writer
	Backend  remote.Backend
	Sync     *syncengine.Registry
	Puller   *syncengine.Puller
	Queue    *pending.Queue
	Scans    *scan.Service
	Trash    *trash.Manager
	API      *api.Server

	notifier *notification.Dispatcher
	mqtt     *notification.MQTTProvider
	log      logger.Logger
}

// New builds the application. Nothing runs until Start.
func New(ctx context.Context, settings *conf.Settings, build *buildinfo.Context, opts Options) (app *App, err error) {
	a := &App{
		Settings: settings,
		Build:    build,
		Store:    store.NewContext(),
		log:      logger.Global().Module("app"),
	}
	defer func() {
		if err != nil {
			a.release()
		}
	}()

	if a.Metrics, err = observability.NewMetrics(); err != nil {
		return nil, errors.New(err).Component("app").Category(errors.CategoryConfiguration).Build()
	}

	a.Adapter, err = persistence.Open(ctx, persistence.Config{
		Dir:           settings.Storage.Dir,
		Name:          settings.DatabaseName(),
		SchemaVersion: settings.Storage.SchemaVersion,
		MinFreeBytes:  settings.Storage.MinFreeBytes,
		BusyTimeout:   settings.Storage.BusyTimeout,
		Metrics:       a.Metrics.Storage,
	})
	if err != nil {
		return nil, err
	}
	if a.Adapter.WasReset() {
		a.log.Warn("local database was reset for a new schema version",
			logger.String("path", a.Adapter.Path()),
			logger.Int("version", a.Adapter.Version()))
	}
	a.Writer = persistence.NewWriter(a.Adapter)
	if err := persistence.MirrorAll(a.Store, a.Adapter, a.Writer); err != nil {
		return nil, err
	}

	a.Backend = opts.Backend
	if a.Backend == nil {
		if a.Backend, err = newBackend(&settings.Remote); err != nil {
			return nil, err
		}
	}
	a.Sync = syncengine.NewRegistry(a.Store, a.Backend, a.Adapter, a.Writer, syncengine.Options{
		UserID:     settings.UserID,
		RetryDelay: settings.Remote.RetryDelay,
		Metrics:    a.Metrics.Sync,
	})
	if err := a.Sync.Register(a.Store); err != nil {
		return nil, err
	}
	a.Trash = trash.NewManager(a.Store, trash.WritersFrom(a.Sync))

	if err := a.buildQueue(opts.Processor); err != nil {
		return nil, err
	}

	if opts.Serve {
		if err := a.buildServe(); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func newBackend(r *conf.RemoteSettings) (remote.Backend, error) {
	if r.Backend == conf.BackendSQL {
		b, err := sqlstore.Open(sqlstore.Config{Driver: r.Driver, DSN: r.DSN, Migrate: r.Migrate})
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	b, err := rest.New(rest.Config{BaseURL: r.BaseURL, APIKey: r.APIKey, Timeout: r.Timeout})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// buildQueue wires the classifier, the scan service, the notifiers and the
// pending queue. Without a classifier endpoint there is no queue.
func (a *App) buildQueue(processor pending.Processor) error {
	s := a.Settings
	if processor == nil {
		if s.Scan.Endpoint == "" {
			a.log.Info("no scan endpoint configured, pending queue disabled")
			return nil
		}
		hc := httpclient.DefaultConfig()
		hc.DefaultTimeout = s.Scan.Timeout
		client, err := scan.NewClient(httpclient.New(&hc), s.Scan.Endpoint)
		if err != nil {
			return err
		}
		processor = client
	}

	a.Scans = scan.NewService(processor, nil, a.Store.Trees, scan.WritersFrom(a.Sync), s.Scan.Timeout)
	if err := a.buildNotifier(); err != nil {
		return err
	}

	cfg := pending.Config{
		Items:      a.Store.Pending,
		Adapter:    a.Adapter,
		Writer:     a.Writer,
		Processor:  processor,
		Saver:      a.Scans,
		Interval:   s.Scan.DrainDelay,
		AutoCommit: s.Scan.AutoCommit,
		CacheTTL:   s.Scan.CacheTTL,
		Metrics:    a.Metrics.Queue,
	}
	if a.notifier != nil {
		cfg.Notifier = pending.DispatchNotifier{Sender: a.notifier}
	}
	q, err := pending.New(cfg)
	if err != nil {
		return err
	}
	a.Queue = q
	a.Scans.SetQueue(q)
	return a.Store.Register("pending.queue", q)
}

func (a *App) buildNotifier() error {
	n := a.Settings.Notify
	var providers []notification.Provider
	if n.Log {
		providers = append(providers, notification.NewLogProvider())
	}
	if n.MQTT.Enabled {
		cfg := mqtt.DefaultConfig()
		cfg.Broker = n.MQTT.Broker
		if n.MQTT.ClientID != "" {
			cfg.ClientID = n.MQTT.ClientID
		}
		cfg.Username = n.MQTT.Username
		cfg.Password = n.MQTT.Password
		a.mqtt = notification.NewMQTTProvider(mqtt.NewClient(cfg), n.MQTT.Topic)
		providers = append(providers, a.mqtt)
	}
	if len(n.URLs) > 0 {
		p, err := notification.NewShoutrrrProvider(n.URLs, 10*time.Second)
		if err != nil {
			return err
		}
		providers = append(providers, p)
	}
	if len(providers) > 0 {
		a.notifier = notification.NewDispatcher(a.Metrics.Queue, providers...)
	}
	return nil
}

func (a *App) buildServe() error {
	s := a.Settings
	a.Puller = syncengine.NewPuller(a.Sync, s.Remote.SyncInterval)
	if err := a.Store.Register("sync.puller", a.Puller); err != nil {
		return err
	}
	if url := s.ProbeURL(); url != "" {
		prober, err := connectivity.NewProber(httpclient.New(nil), url, s.Connectivity.Interval, a.setOnline)
		if err != nil {
			return err
		}
		if err := a.Store.Register("connectivity.prober", prober); err != nil {
			return err
		}
	}

	opts := []api.ServerOption{
		api.WithTrash(a.Trash),
		api.WithSync(a.Sync),
		api.WithMetrics(a.Metrics),
		api.WithBuildInfo(a.Build),
	}
	if a.Queue != nil {
		opts = append(opts, api.WithQueue(a.Queue), api.WithScanService(a.Scans))
	}
	a.API = api.New(s.HTTP.Listen, s.UserID, a.Store, opts...)
	return a.Store.Register("api", a.API)
}

// setOnline fans a connectivity report out to the puller and the queue.
func (a *App) setOnline(online bool) {
	a.Puller.SetOnline(online)
	if a.Queue != nil {
		a.Queue.SetOnline(online)
	}
}

// Start hydrates the stores and starts every component.
func (a *App) Start(ctx context.Context) error {
	return a.Store.Init(ctx)
}

// Close stops the components, flushing durable writes, and closes the
// database and the backend.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Store.Running() {
		errs = append(errs, a.Store.Dispose(ctx))
	}
	errs = append(errs, a.release())
	return errors.Join(errs...)
}

func (a *App) release() error {
	var errs []error
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.Backend != nil {
		errs = append(errs, a.Backend.Close())
	}
	if a.Adapter != nil {
		errs = append(errs, a.Adapter.Close())
	}
	return errors.Join(errs...)
}
