package main

import (
	"context"
	"fmt"
	"os"

	"procurement-reconciler/internal/config"
	"procurement-reconciler/internal/db"
	"procurement-reconciler/migrations"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		fmt.Printf("config: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		fmt.Printf("Failed to connect to DB: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	applied, err := migrations.Apply(ctx, pool)
	for _, name := range applied {
		fmt.Printf("applied %s\n", name)
	}
	if err != nil {
		fmt.Printf("Migration failed: %v\n", err)
		os.Exit(1)
	}
	if len(applied) == 0 {
		fmt.Println("Schema is up to date.")
		return
	}
	fmt.Println("Migration successful.")
}
