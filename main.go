package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mealcue/internal/api"
	"mealcue/internal/assetcache"
	"mealcue/internal/config"
	"mealcue/internal/database"
	"mealcue/internal/dispatch"
	"mealcue/internal/logger"
	"mealcue/internal/permission"
	"mealcue/internal/protocol"
	"mealcue/internal/push"
	"mealcue/internal/router"
	"mealcue/internal/scheduler"
	"mealcue/internal/signaling"
	"mealcue/internal/workers"
)

const workerTimeout = 10 * time.Minute

func main() {
	logBuffer := logger.NewBuffer()
	logger.New("mealcue", "info", logBuffer)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	lg := logger.New("mealcue", cfg.LogLevel, logBuffer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, lg, logBuffer); err != nil {
		lg.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config, lg zerolog.Logger, logBuffer *logger.Buffer) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	appURL, err := url.Parse(cfg.AppOrigin)
	if err != nil {
		return err
	}

	db, err := database.NewDB(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	lg.Info().Str("driver", db.Driver()).Msg("database ready")

	// The hub needs the pipeline and the pipeline posts through the hub;
	// posters are attached once the hub exists.
	gate := permission.NewGate(db, nil, lg)
	tray := push.NewTray(nil)

	surfaces := []push.Surface{tray}
	var opener signaling.Opener
	pushEnabled := false
	if cfg.FirebaseCredentialsPath != "" {
		fcm, err := push.NewFirebaseService(ctx, cfg.FirebaseCredentialsPath, db, lg)
		if err != nil {
			lg.Warn().Err(err).Msg("firebase unavailable, web push disabled")
		} else {
			surfaces = append(surfaces, fcm)
			opener = fcm
			pushEnabled = true
			lg.Info().Msg("firebase initialized")
		}
	}

	presenter := push.NewPresenter(gate, push.Options{
		Icon:     cfg.NotificationIcon,
		Badge:    cfg.NotificationBadge,
		URL:      appURL.String(),
		PrepLead: cfg.PrepLead(),
	}, lg, surfaces...)

	dispatcher := dispatch.New(dispatch.RealClock, lg)
	tracker := router.NewTracker(db, lg)
	sched := scheduler.New(db, dispatcher, presenter, tracker, scheduler.Options{
		PrepLead:      cfg.PrepLead(),
		RestoreWindow: cfg.RestoreWindow,
		Location:      loc,
	}, lg)

	hub := signaling.NewHub(opener, lg)
	gate.SetPoster(hub)
	tray.SetPoster(hub)

	actions := router.New(hub, presenter, tracker, appURL, lg)
	hub.Bind(signaling.Services{
		Scheduler:     sched,
		Notifications: tray,
		Closer:        presenter,
		Gate:          gate,
		Router:        actions,
	})

	network, err := assetcache.NewNetwork(cfg.StaticDir, cfg.UpstreamURL)
	if err != nil {
		return err
	}
	cache := assetcache.New(network, cfg.CachePrefix, cfg.CacheManifest, func(ctx context.Context, name string) {
		hub.Broadcast(ctx, protocol.CacheActivated{Type: protocol.TypeCacheActivated, Cache: name})
	}, lg)
	if _, err := cache.Install(ctx); err != nil {
		lg.Warn().Err(err).Msg("app shell not cached, serving from network")
	} else if _, err := cache.Activate(ctx); err != nil {
		lg.Warn().Err(err).Msg("cache activation failed")
	}

	restored, err := sched.Restore(ctx)
	if err != nil {
		lg.Error().Err(err).Msg("failed to restore reminders")
	}

	wm := workers.NewWorkerManager(workerTimeout, lg)
	wm.RegisterWorker(workers.NewRolloverWorker(db, sched, cfg.RolloverInterval, lg))
	wm.RegisterWorker(workers.NewPruneWorker(db, tracker, cfg.ReminderRetention, cfg.PruneInterval, lg))
	wm.Start(ctx)
	defer wm.Stop()

	server := api.NewServer(api.Deps{
		Store:         db,
		Scheduler:     sched,
		Notifications: tray,
		Hub:           hub,
		Pending:       dispatcher,
		Logs:          logBuffer,
		Workers:       wm,
		Cache:         cache,
		PushEnabled:   pushEnabled,
	}, lg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info().Str("port", cfg.Port).Int("restored", restored).Msg("server ready")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	lg.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Error().Err(err).Msg("graceful shutdown failed")
	}

	// timers stop; stored reminders stay for Restore on the next start
	n := dispatcher.CancelAll()
	lg.Info().Int("timers", n).Msg("pending timers stopped")
	return nil
}
