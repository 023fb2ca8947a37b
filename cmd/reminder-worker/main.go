package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/neuroclinic/scheduling/internal/config"
	"github.com/neuroclinic/scheduling/internal/db"
	"github.com/neuroclinic/scheduling/internal/logger"
	"github.com/neuroclinic/scheduling/internal/notify"
	"github.com/neuroclinic/scheduling/internal/reminder"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log := logger.New(cfg.Env, "reminder-worker")
	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.ReminderInterval).
		Msg("reminder-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	repo := reminder.NewPgRepository(pgPool)
	templates := notify.NewTemplateEngine()
	email := &notify.LogEmailSender{Println: func(s string) { log.Info().Msg(s) }}
	sms := &notify.LogSMSSender{Println: func(s string) { log.Info().Msg(s) }}

	sched := reminder.NewScheduler(repo, email, sms, templates,
		cfg.ReminderLeads, cfg.ReminderWindow, cfg.NotifyTimeout, log)

	// Run once at startup
	runOnce(rootCtx, sched, log)

	ticker := time.NewTicker(cfg.ReminderInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping reminder worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, sched, log)
		}
	}
}

func runOnce(ctx context.Context, sched *reminder.Scheduler, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	now := time.Now()
	start := now

	if err := sched.RunReminderPass(runCtx, now); err != nil {
		log.Error().Err(err).Msg("reminder pass error")
	}
	if err := sched.RunFollowUpPass(runCtx, now); err != nil {
		log.Error().Err(err).Msg("follow-up pass error")
	}

	log.Info().Dur("elapsed", time.Since(start)).Msg("reminder run complete")
}
