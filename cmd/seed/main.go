package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/novaforge/bazaar/internal/config"
	"github.com/novaforge/bazaar/internal/db"

	"golang.org/x/crypto/bcrypt"
)

// Seed the database with two empire accounts for manual testing. Items
// and balances are in-process ledgers granted on first login, so only
// accounts need seeding.
func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)

	// Apply the schema so seeding works on a fresh database
	migration, err := os.ReadFile("migrations/001_init.sql")
	if err != nil {
		log.Fatalf("Failed to read migration: %v", err)
	}
	if _, err := database.Pool.Exec(ctx, string(migration)); err != nil {
		log.Fatalf("Failed to apply migration: %v", err)
	}

	for _, name := range []string{"empire1", "empire2"} {
		if _, err := database.AccountByName(ctx, name); err == nil {
			fmt.Printf("Account %s already exists. Skipping.\n", name)
			continue
		}

		hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		account, err := database.CreateAccount(ctx, name, string(hash))
		if err != nil {
			log.Fatalf("Failed to create account %s: %v", name, err)
		}
		fmt.Printf("Created account %s (id %d)\n", account.Name, account.ID)
	}

	fmt.Println("Successfully seeded the database!")
}
