// boardwatch subscribes to one household's realtime channel, runs the
// reconciliation engine against the API, and prints the projected view as
// it converges. Useful for watching convergence behavior under concurrent
// edits from several clients.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"choreboard/api/internal/client"
	"choreboard/api/internal/config"
	"choreboard/api/internal/engine"
	"choreboard/api/internal/realtime"
)

func main() {
	var (
		apiURL     = flag.String("api", "http://localhost:8688", "choreboard API base URL")
		household  = flag.String("household", "", "household id (required)")
		collection = flag.String("collection", "tasks", "collection: tasks, rewards or list_items")
		viewer     = flag.String("viewer", "", "member id used for the 'mine' sub-view")
	)
	flag.Parse()
	if *household == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker, err := realtime.NewRedisBroker(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer broker.Close()

	api := client.New(*apiURL)
	roster, err := api.Members(ctx, *household)
	if err != nil {
		log.Fatalf("fetch roster: %v", err)
	}

	var eng *engine.Engine
	eng, err = engine.New(engine.Options{
		Scope:           *household,
		Collection:      engine.Collection(*collection),
		ViewerID:        *viewer,
		Writer:          api,
		Roster:          roster,
		DebounceWindow:  cfg.DebounceWindow,
		HeuristicWindow: cfg.HeuristicWindow,
		OnChange:        func() { printView(eng, *viewer) },
		OnError: func(op, id string, err error) {
			log.Printf("write %s for %s failed, reverted: %v", op, id, err)
		},
	})
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	defer eng.Close()

	events, err := broker.Subscribe(ctx, *household)
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	go eng.Consume(ctx, events)

	rows, err := api.List(ctx, *household, engine.Collection(*collection))
	if err != nil {
		log.Fatalf("initial read: %v", err)
	}
	eng.ReplaceSnapshot(rows)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func printView(eng *engine.Engine, viewer string) {
	if eng == nil {
		return
	}
	view := eng.View()
	fmt.Printf("\n=== %s ===\n", viewer)
	printSection("mine", view.Mine)
	printSection("unassigned", view.Unassigned)
	printSection("others", view.Others)
}

func printSection(name string, rows []engine.Entity) {
	fmt.Printf("%s (%d)\n", name, len(rows))
	for _, row := range rows {
		assignee := row.AssigneeName
		if assignee == "" {
			assignee = row.AssigneeID
		}
		fmt.Printf("  [%s] %s  %s\n", row.Status, row.Title, assignee)
	}
}
