// Command sweep runs one expiry pass: every opportunity dated before
// today is marked taken.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/neighborly/volunteerhub/internal/backend/postgres"
	"github.com/neighborly/volunteerhub/internal/config"
	"github.com/neighborly/volunteerhub/internal/sync"
)

func main() {
	configPath := flag.String("config", "config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	n, err := postgres.NewStore(pool).MarkExpiredTaken(ctx, sync.Today(time.Now()))
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("marked %d expired opportunities as taken", n)
}
