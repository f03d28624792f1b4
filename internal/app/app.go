// Package app wires configuration, storage, fetchers, and the HTTP
// surface into runnable commands.
package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"taowatcher/internal/alerting"
	"taowatcher/internal/api"
	"taowatcher/internal/config"
	"taowatcher/internal/fetcher"
	"taowatcher/internal/history"
	"taowatcher/internal/hub"
	"taowatcher/internal/metrics"
	"taowatcher/internal/scheduler"
	"taowatcher/internal/service"
	"taowatcher/internal/storage"
	"taowatcher/internal/tracker"
)

func init() {
	// API consumers expect numeric JSON values, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// App aggregates configuration and shared dependencies for the CLI
// commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newTaostats() *fetcher.Taostats {
	return fetcher.NewTaostats(fetcher.TaostatsOptions{
		BaseURL:          a.Config.Taostats.BaseURL,
		APIKey:           a.Config.Taostats.APIKey,
		Timeout:          a.Config.Taostats.RequestTimeout,
		HistoryTimeout:   a.Config.Taostats.HistoryTimeout,
		HistoryPageLimit: a.Config.Taostats.HistoryPageLimit,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	var channels []alerting.Notifier
	if a.Config.Alerting.Desktop {
		channels = append(channels, alerting.NewDesktopNotifier(a.Logger))
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		channels = append(channels, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	if len(channels) == 0 {
		return alerting.NewLogNotifier(a.Logger)
	}
	return alerting.NewMultiNotifier(channels...)
}

func (a *App) openArchive(ctx context.Context) (*storage.Archive, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	archive, err := storage.NewArchive(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return archive, archive.Close, nil
}

// Run executes the long-running monitoring service and its HTTP
// surface until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	files := storage.NewFiles(a.Config.Data.Dir, a.Logger)
	settings := files.LoadSettings()
	// Config-level API key seeds the settings document on first run.
	if settings.APIKey == "" && a.Config.Taostats.APIKey != "" {
		settings.APIKey = a.Config.Taostats.APIKey
	}

	store := history.NewStore(files, a.Logger)
	store.Load()
	a.Logger.Info().
		Int("samples", store.SampleCount()).
		Int("cache_records", len(store.Cache())).
		Msg("state restored from disk")

	archive, closeArchive, err := a.openArchive(ctx)
	if err != nil {
		return err
	}
	if archive == nil {
		a.Logger.Info().Msg("database.dsn not configured; long-term archive disabled")
	}
	if closeArchive != nil {
		defer closeArchive()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	taostats := a.newTaostats()
	if settings.APIKey != "" {
		taostats.SetAPIKey(settings.APIKey)
	}
	coingecko := fetcher.NewCoingecko(fetcher.CoingeckoOptions{
		BaseURL: a.Config.Coingecko.BaseURL,
		Timeout: a.Config.Coingecko.RequestTimeout,
	}, a.Logger)

	h := hub.New(a.Logger)
	h.OnCountChange = func(count int) { m.WSClients.Set(float64(count)) }

	var sampleArchive storage.SampleArchive
	if archive != nil {
		sampleArchive = archive
	}

	svc := service.New(service.Options{
		Stats:    taostats,
		Subnets:  taostats,
		Rate:     coingecko,
		LongTerm: taostats,
		History:  store,
		Files:    files,
		Archive:  sampleArchive,
		Hub:      h,
		Notifier: a.newNotifier(),
		Metrics:  m,
		Settings: settings,

		USDRefreshInterval:   a.Config.Monitor.USDRefreshInterval,
		CacheRefreshInterval: a.Config.Monitor.CacheRefreshInterval,
		RetentionHours:       a.Config.Monitor.RetentionHours,

		OnAPIKeyChange: taostats.SetAPIKey,
	}, tracker.New(), a.Logger)

	server := &http.Server{
		Addr:         a.Config.Server.ListenAddr,
		Handler:      api.NewServer(svc, h, registry, a.Logger).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sched := scheduler.New(scheduler.Options{
		Interval:     svc.PollInterval,
		StartupDelay: a.Config.Monitor.StartupDelay,
	}, a.Logger)

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx, svc.Tick); err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error().Err(err).Msg("scheduler terminated with error")
		}
	}()

	a.Logger.Info().Msg("monitoring service started")

	select {
	case err := <-serverErr:
		cancel()
		<-schedDone
		return err
	case <-ctx.Done():
	}

	a.Logger.Info().Msg("shutting down")
	<-schedDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("http server shutdown failed")
	}

	if err := store.Persist(); err != nil {
		a.Logger.Error().Err(err).Msg("final history persist failed")
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
