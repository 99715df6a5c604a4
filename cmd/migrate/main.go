package main

import (
	"log"
	"os"

	"github.com/unifiedcmdb/cmdb-core/internal/store/postgres"
)

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	if err := postgres.Migrate(databaseURL); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	log.Println("migrations applied")
}
