package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/whisper-darkly/sentinel-backend/config"
	"github.com/whisper-darkly/sentinel-backend/engine"
	"github.com/whisper-darkly/sentinel-backend/journal"
	"github.com/whisper-darkly/sentinel-backend/journal/sqlite"
	"github.com/whisper-darkly/sentinel-backend/lkd"
	"github.com/whisper-darkly/sentinel-backend/router"
)

var version = "dev"

func main() {
	port := env("SENTINEL_PORT", "8080")
	confPath := env("SENTINEL_CONF", "/data/conf/sentinel.yaml")
	journalPath := env("SENTINEL_JOURNAL", "/data/conf/sentinel.db")

	engine.Version = version
	fmt.Printf("sentinel-backend %s\n", version)

	cfg, err := config.Load(confPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var jnl journal.Journal = journal.Discard{}
	if journalPath != "" {
		db, err := sqlite.Open(journalPath)
		if err != nil {
			log.Fatalf("journal: %v", err)
		}
		defer db.Close()
		jnl = db
	}

	var eng *engine.Engine
	client := lkd.NewClient(cfg.Services.Bus.URL(), lkd.Handler{
		OnValueChanged: func(objectID string, value any) {
			eng.OnValueChanged(objectID, value)
		},
	})
	eng = engine.New(cfg, engine.NewLKDBus(client), jnl)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go client.Run(ctx)

	// Give the bus connection a moment before the first sync; the engine
	// still starts with conservative defaults if the daemon is unreachable.
	waitConnected(client, 5*time.Second)

	if err := eng.Start(); err != nil {
		log.Printf("engine: initial sync incomplete: %v", err)
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router.New(eng, jnl, client, cfg),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http: %v", err)
		}
	}()

	<-sigCh
	log.Println("shutting down")

	// Disarm everything before dropping the bus connection.
	eng.Stop()
	cancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

func waitConnected(c *lkd.Client, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.IsConnected() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	log.Printf("bus backend not reachable yet, starting anyway")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
