package main

import (
	"context"
	"log"
	"os"
	"parcel-queue-service/internal/adapters/repositories"
	"parcel-queue-service/internal/platform/db"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if strings.TrimSpace(databaseURL) == "" {
		log.Fatal("DATABASE_URL is required")
	}

	conn, err := db.OpenPostgres(databaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	store := repositories.NewPostgresStore(conn)

	log.Println("Initializing database schema...")
	if err := store.InitSchema(context.Background()); err != nil {
		log.Fatalf("schema initialization failed: %v", err)
	}
	log.Println("Schema ready.")
}
