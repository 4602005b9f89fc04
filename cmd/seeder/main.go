// Seeder provisions accounts for the prompt injection exchange. Account
// creation is external to the settlement core; this tool is that external
// provisioner for local runs and benchmarks.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/mossfit/spc/internal/config"
	"github.com/mossfit/spc/internal/store"
)

func main() {
	count := flag.Int("count", 10, "number of accounts to provision")
	prefix := flag.String("prefix", "player", "username prefix")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	repo, err := store.NewSQLite(cfg.DBPath, cfg.AllowNegativeBalance)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
	}()

	ctx := context.Background()
	for i := 0; i < *count; i++ {
		username := fmt.Sprintf("%s-%d", *prefix, i+1)
		account, err := repo.CreateAccount(ctx, username, cfg.StartingBalance)
		if err != nil {
			slog.Error("Failed to create account", "username", username, "error", err)
			os.Exit(1)
		}
		fmt.Printf("%s\t%s\t%d\n", account.ID, account.Username, account.Balance)
	}

	slog.Info("Seeding complete", "accounts", *count, "starting_balance", cfg.StartingBalance)
}
