package main

import (
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/quizrush/backend/internal/answers"
	"github.com/quizrush/backend/internal/api"
	"github.com/quizrush/backend/internal/breaker"
	"github.com/quizrush/backend/internal/config"
	"github.com/quizrush/backend/internal/database"
	"github.com/quizrush/backend/internal/events"
	"github.com/quizrush/backend/internal/game"
	"github.com/quizrush/backend/internal/migrations"
	"github.com/quizrush/backend/internal/outbound"
	"github.com/quizrush/backend/internal/redis"
	"github.com/quizrush/backend/internal/webhook"
	"github.com/quizrush/backend/internal/whatsapp"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations on start if requested
	if os.Getenv("MIGRATE_ON_START") == "true" {
		log.Println("↗ Running DB migrations on startup...")
		if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	// Initialize Redis (answer store + transport rate limiting)
	rdb, err := redis.Connect(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	// WhatsApp Cloud API client (if configured)
	waClient := whatsapp.NewClient(cfg, rdb)
	if waClient == nil {
		log.Printf("[WHATSAPP] Transport not configured - set WHATSAPP_ACCESS_TOKEN and WHATSAPP_PHONE_NUMBER_ID")
	} else {
		log.Printf("[WHATSAPP] Cloud API client initialized (phone_number_id=%s)", cfg.WhatsAppPhoneNumberID)
	}

	// Outbound queue behind the circuit breaker
	br := breaker.New(breaker.Settings{
		FailureThreshold: cfg.CBFailureThreshold,
		RecoveryTimeout:  time.Duration(cfg.CBRecoveryMs) * time.Millisecond,
		SuccessToClose:   cfg.CBSuccessToClose,
	})
	queue := outbound.New(waClient, br, outbound.Options{
		Workers:     cfg.OutboundWorkers,
		RetryMax:    cfg.OutboundRetryMax,
		SendTimeout: time.Duration(cfg.OutboundSendTimeoutMs) * time.Millisecond,
	})
	defer queue.Stop()

	// Game engine on its per-game event bus
	bus := events.NewBus()
	store := game.NewStateStore()
	as := answers.New(rdb, time.Duration(cfg.AnswerTTLSeconds)*time.Second)
	engine := game.NewEngine(game.NewPostgresRepo(db), store, as, queue, bus, cfg)
	queue.OnPermanentFailure(func(recipient string, err error) {
		engine.MarkUndeliverable(recipient)
	})

	// Scheduler sweeps for due games
	scheduler := game.NewScheduler(db, bus, cfg)
	scheduler.Start()
	defer scheduler.Stop()

	// Webhook dispatcher feeding the engine
	dispatcher := webhook.NewDispatcher(webhook.NewPostgresDirectory(db), engine, queue)

	// Set up Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.SetupRoutes(router, db, cfg, engine, dispatcher)

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting QuizRush server on port %s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
