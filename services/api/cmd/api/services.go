package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/palqo/palqo/services/api/internal/app"
	"github.com/palqo/palqo/services/api/internal/calendar"
	"github.com/palqo/palqo/services/api/internal/clock"
	"github.com/palqo/palqo/services/api/internal/config"
	"github.com/palqo/palqo/services/api/internal/mail"
	"github.com/palqo/palqo/services/api/internal/messages"
	"github.com/palqo/palqo/services/api/internal/scheduler"
	"github.com/palqo/palqo/services/api/internal/storage/postgres"
	"github.com/palqo/palqo/services/api/migrations"
)

// services is the wired service graph shared by every command.
type services struct {
	cfg  config.Config
	pool *pgxpool.Pool

	registration *app.RegistrationService
	notification *app.NotificationService
	lifecycle    *app.LifecycleService
	dispatch     *app.DispatchService
	events       *app.EventService
}

func bootstrap(ctx context.Context, logger *log.Logger) (*services, error) {
	cfg, err := config.Load(cfgFile, logger)
	if err != nil {
		return nil, err
	}

	startupCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	pool, err := openPool(startupCtx, cfg)
	if err != nil {
		return nil, err
	}
	if err := migrations.Apply(startupCtx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	rt, err := wire(cfg, pool, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return rt, nil
}

func openPool(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.DatabasePassword != "" {
		poolCfg.ConnConfig.Password = cfg.DatabasePassword
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return pool, nil
}

func wire(cfg config.Config, pool *pgxpool.Pool, logger *log.Logger) (*services, error) {
	weekday, err := calendar.ParseWeekday(cfg.Event.Weekday)
	if err != nil {
		return nil, err
	}
	start, err := calendar.ParseClock(cfg.Event.Start)
	if err != nil {
		return nil, err
	}
	calc, err := calendar.New(weekday, cfg.Location(),
		calendar.WithStart(start),
		calendar.WithDuration(cfg.Event.Duration),
	)
	if err != nil {
		return nil, err
	}

	sender, err := newSender(cfg, logger)
	if err != nil {
		return nil, err
	}

	renderer := messages.NewRenderer(messages.Event{
		Name:        cfg.Event.Name,
		Venue:       cfg.Event.Venue,
		ArrivalNote: cfg.Event.ArrivalNote,
		Host:        cfg.Event.Host,
		Organizer:   cfg.SMTP.From,
		RegisterURL: cfg.PublicBaseURL,
		CC:          cfg.SMTP.CC,
	}, calc, messages.MatchLanguage(cfg.Event.Language))

	clk := clock.NewSystem()

	events := app.NewEventService(postgres.NewEventRepository(pool), calc, renderer, clk, cfg.Event.Name,
		app.WithEventStoreTimeout(cfg.StoreTimeout),
	)

	notification := app.NewNotificationService(postgres.NewReminderRepository(pool), sender, renderer, calc, clk,
		app.WithNotificationLogger(logger),
		app.WithNotificationTimeouts(cfg.StoreTimeout, cfg.MailTimeout),
	)

	registration := app.NewRegistrationService(postgres.NewRegistrationRepository(pool), calc, clk,
		app.WithNotifier(notification),
		app.WithInvalidator(events),
		app.WithRegistrationLogger(logger),
		app.WithRegistrationStoreTimeout(cfg.StoreTimeout),
	)

	attendees := postgres.NewAttendeeRepository(pool)
	lifecycle := app.NewLifecycleService(attendees, calc, clk,
		app.WithLifecycleLogger(logger),
		app.WithLifecycleInvalidator(events),
		app.WithLifecycleStoreTimeout(cfg.StoreTimeout),
	)

	dispatch := app.NewDispatchService(attendees, sender, renderer, calc, clk,
		app.WithDispatchLogger(logger),
		app.WithDispatchTimeouts(cfg.StoreTimeout, cfg.MailTimeout),
		app.WithBatchPerMessage(cfg.MailPerMessage),
	)

	return &services{
		cfg:          cfg,
		pool:         pool,
		registration: registration,
		notification: notification,
		lifecycle:    lifecycle,
		dispatch:     dispatch,
		events:       events,
	}, nil
}

func newSender(cfg config.Config, logger *log.Logger) (mail.Sender, error) {
	if !cfg.SMTPEnabled() {
		logger.Printf("WARN: SMTP_HOST not set, emails will only be logged")
		return mail.NewLogSender(logger), nil
	}
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		Timeout:  cfg.MailTimeout,
	})
}

func (rt *services) scheduler(logger *log.Logger) (*scheduler.Scheduler, error) {
	return scheduler.New(scheduler.Config{
		CleanupSchedule:      rt.cfg.Jobs.CleanupSchedule,
		WeeklyEmailSchedule:  rt.cfg.Jobs.WeeklyEmailSchedule,
		ReminderPollInterval: rt.cfg.Jobs.ReminderPollInterval,
		Location:             rt.cfg.Location(),
	}, rt.lifecycle, rt.dispatch, rt.notification, logger)
}

func (rt *services) close() {
	rt.pool.Close()
}
