package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Server
	Port string

	// Game timing (milliseconds unless noted)
	QuestionTimeLimitMs int
	GraceMs             int
	PreRollMs           int
	InterQuestionMs     int
	SchedulerPeriodMs   int
	ExpiryGraceMs       int
	AnswerTTLSeconds    int

	// Outbound queue
	OutboundWorkers       int
	OutboundRetryMax      int
	OutboundSendTimeoutMs int

	// Circuit breaker
	CBFailureThreshold int
	CBRecoveryMs       int
	CBSuccessToClose   int

	// WhatsApp Cloud API
	WhatsAppBaseURL       string
	WhatsAppAccessToken   string
	WhatsAppPhoneNumberID string
	WhatsAppVerifyToken   string

	// Security
	AdminAPIKey string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", "postgres://localhost:5432/quizrush?sslmode=disable"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Server
		Port: getEnv("APP_PORT", "8080"),

		// Game timing
		QuestionTimeLimitMs: getEnvInt("QUESTION_TIME_LIMIT_MS", 10000),
		GraceMs:             getEnvInt("GRACE_MS", 1000),
		PreRollMs:           getEnvInt("PRE_ROLL_MS", 2000),
		InterQuestionMs:     getEnvInt("INTER_QUESTION_MS", 3000),
		SchedulerPeriodMs:   getEnvInt("SCHEDULER_PERIOD_MS", 2000),
		ExpiryGraceMs:       getEnvInt("EXPIRY_GRACE_MS", 60000),
		AnswerTTLSeconds:    getEnvInt("ANSWER_TTL_S", 300),

		// Outbound queue
		OutboundWorkers:       getEnvInt("OUTBOUND_WORKERS", 4),
		OutboundRetryMax:      getEnvInt("OUTBOUND_RETRY_MAX", 3),
		OutboundSendTimeoutMs: getEnvInt("OUTBOUND_SEND_TIMEOUT_MS", 10000),

		// Circuit breaker
		CBFailureThreshold: getEnvInt("CB_FAILURE_THRESHOLD", 10),
		CBRecoveryMs:       getEnvInt("CB_RECOVERY_MS", 30000),
		CBSuccessToClose:   getEnvInt("CB_SUCCESS_TO_CLOSE", 5),

		// WhatsApp
		WhatsAppBaseURL:       getEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com/v19.0"),
		WhatsAppAccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppPhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppVerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),

		// Security
		AdminAPIKey: getEnv("ADMIN_API_KEY", "change-me-in-production"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
