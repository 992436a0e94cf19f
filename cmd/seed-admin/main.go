package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/quizrush/backend/internal/admin"
	"github.com/quizrush/backend/internal/config"
	"github.com/quizrush/backend/internal/database"
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

	// Seed operator account
	username := os.Getenv("ADMIN_USER")
	if username == "" {
		username = "admin"
		log.Printf("Using default admin username: %s", username)
	}

	token := os.Getenv("ADMIN_TOKEN")
	if token == "" {
		token = "change-me-in-production"
		log.Printf("WARNING: Using default admin token. Set ADMIN_TOKEN env var in production!")
	}

	displayName := os.Getenv("ADMIN_DISPLAY_NAME")
	if displayName == "" {
		displayName = "Operator"
	}

	if err := admin.CreateAdminAccount(db, username, displayName, token); err != nil {
		log.Fatalf("Failed to create admin account: %v", err)
	}

	log.Printf("✓ Admin account created/updated successfully")
	log.Printf("  Username: %s", username)
	log.Printf("  Display Name: %s", displayName)
	log.Println("\nSend X-Admin-User and X-Admin-Token headers to the admin API:")
	log.Printf("  X-Admin-User: %s", username)
	log.Printf("  X-Admin-Token: %s", token)
}
