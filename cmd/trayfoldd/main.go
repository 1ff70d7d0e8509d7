package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/trayfold/trayfold/internal/infrastructure/config"
	"github.com/trayfold/trayfold/internal/server"
)

func main() {
	port := flag.String("port", "", "override the control API port")
	configPath := flag.String("config", "", "path to the YAML config overlay")
	dev := flag.Bool("dev", false, "development mode: debug logging, console encoder")
	flag.Parse()

	if *configPath != "" {
		os.Setenv("TRAYFOLD_CONFIG", *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}
	if *port != "" {
		cfg.API.Port = *port
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		if err := srv.Close(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	case err := <-errChan:
		srv.Close()
		log.Fatalf("server error: %v", err)
	}
}
