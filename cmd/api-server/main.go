package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/neuroclinic/scheduling/internal/api"
	"github.com/neuroclinic/scheduling/internal/appointment"
	"github.com/neuroclinic/scheduling/internal/audit"
	"github.com/neuroclinic/scheduling/internal/availability"
	"github.com/neuroclinic/scheduling/internal/config"
	"github.com/neuroclinic/scheduling/internal/db"
	"github.com/neuroclinic/scheduling/internal/logger"
	"github.com/neuroclinic/scheduling/internal/notify"
	redisclient "github.com/neuroclinic/scheduling/internal/redis"
	"github.com/neuroclinic/scheduling/internal/slots"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log := logger.New(cfg.Env, "api-server")
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	// Wiring
	slotCache, err := slots.NewCache(cfg.SlotCacheSize)
	if err != nil {
		log.Fatal().Err(err).Msg("slot cache init error")
	}

	auditRec := audit.NewPgRecorder(pgPool)
	locker := redisclient.NewRedisProviderLocker(rdb, cfg.LockTTL)

	availRepo := availability.NewPgRepository(pgPool)
	availSvc := availability.NewService(availRepo, auditRec, slotCache, log)

	apptRepo := appointment.NewPgRepository(pgPool)
	apptSvc := appointment.NewService(apptRepo, locker, auditRec, slotCache, log)

	generator := slots.NewGenerator(availRepo, apptRepo, slotCache, log)

	// Outbox dispatcher. Dev senders only log; real transports plug in here.
	templates := notify.NewTemplateEngine()
	email := &notify.LogEmailSender{Println: func(s string) { log.Info().Msg(s) }}
	sms := &notify.LogSMSSender{Println: func(s string) { log.Info().Msg(s) }}
	dispatcher := notify.NewDispatcher(apptRepo, email, sms, templates, cfg.NotifyTimeout, log)
	go dispatcher.Run(rootCtx, cfg.OutboxInterval)

	router := api.NewRouter(api.RouterConfig{
		Appointments: apptSvc,
		Availability: availSvc,
		Slots:        generator,
		SlotMinutes:  cfg.SlotMinutes,
		PgPool:       pgPool,
		Redis:        rdb,
		Logger:       log,
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown error")
	}
}
