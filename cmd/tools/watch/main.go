// Command watch mirrors the visible opportunity set to the terminal,
// refreshing as change events arrive.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"

	"github.com/neighborly/volunteerhub/internal/backend/postgres"
	"github.com/neighborly/volunteerhub/internal/config"
	"github.com/neighborly/volunteerhub/internal/sync"
)

func main() {
	configPath := flag.String("config", "config.yaml", "config file path")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	feed, err := postgres.NewFeed(ctx, cfg.DatabaseURL, zap.NewNop())
	if err != nil {
		log.Fatal(err)
	}
	defer feed.Close(context.Background())

	engine, err := sync.New(sync.Config{
		Store: postgres.NewStore(pool),
		Feed:  feed,
	})
	if err != nil {
		log.Fatal(err)
	}
	if err := engine.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer engine.Close()

	for {
		render(engine)
		time.Sleep(*interval)
	}
}

func render(engine *sync.Engine) {
	fmt.Print("\033[H\033[2J")

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Title", "Organization", "Location", "Date", "Category", "Applications"})

	for _, o := range engine.VisibleOpportunities() {
		t.AppendRow(table.Row{
			o.Title, o.Organization, o.Location,
			o.Date.Format("2006-01-02"), o.Category,
			len(engine.ApplicationsForOpportunity(o.ID)),
		})
	}
	t.Render()
	fmt.Printf("Refreshed %s\n", time.Now().Format("15:04:05"))
}
