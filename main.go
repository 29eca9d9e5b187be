package main

import (
	"log"
	"net/http"
	"os"

	"screenTimeline/config"
	"screenTimeline/server"
	"screenTimeline/session"
	"screenTimeline/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("failed to create data dir: %v", err)
	}
	if err := os.MkdirAll(cfg.ExportDir, 0755); err != nil {
		log.Fatalf("failed to create export dir: %v", err)
	}

	store, err := storage.NewResultStore(cfg)
	if err != nil {
		log.Fatalf("failed to init result store: %v", err)
	}
	defer store.Close()
	log.Printf("result store initialized: %s", cfg.Store)

	index := storage.NewVectorStore(cfg)
	log.Printf("vector store initialized: %s", cfg.VectorStore)

	orch := session.NewOrchestrator(cfg, session.DefaultDeps(cfg, store, index))
	srv := server.New(cfg, orch, index)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	log.Printf("screen timeline service listening on :%s", port)
	log.Fatal(http.ListenAndServe(":"+port, srv.Routes()))
}
