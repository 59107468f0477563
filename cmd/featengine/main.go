package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"featureflow/internal/featengine"
	"featureflow/internal/logger"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg, err := featengine.LoadConfig()
	if err != nil {
		log.Fatalf("[featengine] config: %v", err)
	}
	slogger := logger.Init("featengine", cfg.LogLevel)
	log.Printf("[featengine] source=%s sinks=%v", cfg.Source, cfg.Sinks)

	svc, err := featengine.New(cfg, slogger)
	if err != nil {
		log.Fatalf("[featengine] init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		log.Fatalf("[featengine] fatal: %v", err)
	}
}
