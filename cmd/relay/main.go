package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eduguard/internal/authority"
	"eduguard/internal/config"
	"eduguard/internal/journal"
	"eduguard/internal/queue"
	"eduguard/internal/scan"
	"eduguard/internal/store"
)

// Relay consumes scan events from the terminal queue and journals them in
// Postgres for audit and reporting.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	repo := journal.NewRepository(db.Client)
	scanAuthority := authority.New(cfg.AuthorityURL, cfg.AuthoritySkip)

	// Check authority health on startup
	if !cfg.AuthoritySkip {
		if err := scanAuthority.Health(ctx); err != nil {
			log.Printf("WARNING: scan authority not available: %v", err)
		} else {
			log.Println("Scan authority reachable")
		}
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("relay started, waiting for scan events...")
	for msg := range messages {
		if msg.Type != "scan" {
			continue
		}

		var evt scan.Event
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("decode scan event failed: %v", err)
			continue
		}

		m, err := repo.Insert(ctx, journal.FromEvent(evt))
		if err != nil {
			log.Printf("journal insert failed for %s: %v", evt.ID, err)
			continue
		}

		if m.Success {
			log.Printf("journaled %s %s (%s) by %s", m.Movement, deref(m.StudentName), m.ID, m.OperatorName)
		} else {
			log.Printf("journaled rejected scan %s: %s", m.ID, deref(m.ErrorMessage))
		}

		time.Sleep(10 * time.Millisecond) // Small delay between events
	}

	log.Println("relay stopped")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
