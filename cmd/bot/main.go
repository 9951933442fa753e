package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sayasufi/timekeeper-tg/internal/app"
	"github.com/sayasufi/timekeeper-tg/internal/infra/config"
	idb "github.com/sayasufi/timekeeper-tg/internal/infra/database"
	"github.com/sayasufi/timekeeper-tg/internal/infra/logger"
	"github.com/sayasufi/timekeeper-tg/internal/infra/redisstore"
	"github.com/sayasufi/timekeeper-tg/internal/infra/scheduler"
	"github.com/sayasufi/timekeeper-tg/internal/infra/telegram"

	"gopkg.in/telebot.v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	logger.Log.Infof("Configuration loaded. Environment: %s, LogLevel: %s", cfg.Environment, cfg.LogLevel)

	// Database
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		logger.Log.Fatalf("Could not connect to database: %v", err)
	}
	defer db.Close()
	if err := idb.RunMigrations(db, cfg.MigrationsPath); err != nil {
		logger.Log.Fatalf("Could not apply migrations: %v", err)
	}
	logger.Log.Info("Database connection established, migrations applied")

	// Redis (delivered markers)
	redisClient, err := redisstore.NewClient(redisstore.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Log.Fatalf("Could not connect to redis: %v", err)
	}
	defer redisClient.Close()

	// Repositories
	userRepo := idb.NewPostgresUserRepository(db)
	eventRepo := idb.NewPostgresEventRepository(db)
	dueRepo := idb.NewPostgresDueRepository(db)
	outboxRepo := idb.NewPostgresOutboxRepository(db)
	logRepo := idb.NewPostgresNotificationLogRepository(db)

	// Telegram bot
	pref := telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			logger.Log.Errorf("telebot: %v", err)
		},
	}
	bot, err := telebot.NewBot(pref)
	if err != nil {
		logger.Log.Fatalf("Could not create Telegram bot: %v", err)
	}
	notifier := telegram.NewTelebotAdapter(bot)

	// Services
	calc := app.NewRRuleCalculator()
	dueIndex := app.NewDueIndexService(dueRepo, calc)
	eventSvc := app.NewEventService(eventRepo, dueIndex, calc)
	marker := redisstore.NewDeliveredMarkerStore(redisClient, time.Duration(cfg.OutboxDedupeTTLSeconds)*time.Second)
	delivery := app.NewDeliveryService(
		outboxRepo, userRepo, notifier, marker,
		cfg.OutboxMaxAttempts,
		time.Duration(cfg.OutboxBackoffBaseSeconds)*time.Second,
		time.Duration(cfg.OutboxBackoffMaxSeconds)*time.Second,
	)
	dispatch := app.NewDispatchService(userRepo, eventRepo, dueRepo, outboxRepo, logRepo, dueIndex, eventSvc)

	telegram.RegisterAdminHandlers(bot, delivery, cfg.AdminTelegramID)

	locker := idb.NewAdvisoryLocker(db)
	pipeline := scheduler.NewPipelineScheduler(dispatch, delivery, dueIndex, locker, cfg)
	if err := pipeline.Start(); err != nil {
		logger.Log.Fatalf("Could not start pipeline scheduler: %v", err)
	}

	logger.Log.Info("Application setup complete, starting bot")
	go bot.Start()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down application")
	pipeline.Stop()
	bot.Stop()
	logger.Log.Info("Application shut down gracefully")
}
