package main

import (
	"log"

	"github.com/crisisops/floodwatch/internal/config"
	"github.com/crisisops/floodwatch/internal/httpserver"
	"github.com/crisisops/floodwatch/internal/logging"
	"github.com/crisisops/floodwatch/internal/store"
)

// main boots the dashboard server: config → DB → schema → HTTP server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logging.Init(logging.ParseLevel(cfg.LogLevel))

	// Connect to durable storage (Postgres) using a connection pool.
	db, err := store.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	// Ensure required tables/indexes exist so a fresh deployment just works.
	if err := db.EnsureSchema(); err != nil {
		log.Fatal(err)
	}

	router := httpserver.NewRouter(db, db)

	log.Printf("dashboard server started on %s", cfg.HTTPAddr)
	log.Fatal(router.Run(cfg.HTTPAddr))
}
