// Package main is the entry point for the agentfloord registry daemon.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentfloor/agentfloor/internal/config"
	"github.com/agentfloor/agentfloor/internal/daemon/server"
)

func main() {
	configPath := flag.String("config", "agentfloord.yaml", "Path to the server configuration file")
	initConfig := flag.Bool("init", false, "Write a starter configuration file and exit")
	flag.Parse()

	log.SetPrefix("[agentfloord] ")
	log.SetFlags(log.Ldate | log.Ltime)

	if *initConfig {
		if err := config.WriteDefaultConfig(*configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		log.Printf("Wrote starter config to %s", *configPath)
		return
	}

	cfg, err := config.LoadStore(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Watch(); err != nil {
		log.Printf("Config hot reload unavailable: %v", err)
	}
	defer cfg.Stop()

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	log.Printf("REST on :%d, real-time channel on :%d", srv.HTTPPort(), srv.WSPort())

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down")
		srv.Stop()
	}()

	if err := srv.Serve(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
