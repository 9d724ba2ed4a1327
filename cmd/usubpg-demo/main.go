package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/usub-dev/usubpg/config"
	"github.com/usub-dev/usubpg/metrics"
	"github.com/usub-dev/usubpg/router"
)

func main() {
	configPath := flag.String("config", "config.ini", "Path to routing configuration file")
	metricsAddr := flag.String("metrics", ":9090", "Metrics endpoint address")
	flag.Parse()

	cfg, err := config.LoadRouting(*configPath)
	if err != nil {
		log.Fatalf("Failed to load routing config: %v", err)
	}

	metrics.Init()

	go func() {
		http.Handle("/metrics", metrics.Handler())
		log.Printf("Metrics endpoint at http://localhost%s/metrics", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	rt := router.New(*cfg, nil)
	log.Printf("usubpg: topology loaded with %d node(s)", len(cfg.Nodes))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rt.StartHealthChecks(ctx)

	log.Println("usubpg-demo started. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
}
