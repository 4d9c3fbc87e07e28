package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimbusos/shell/internal/config"
	"github.com/nimbusos/shell/internal/server"
)

const version = "0.3.0"

func main() {
	port := flag.String("port", "", "listen port (overrides PORT)")
	backend := flag.String("backend", "", "OS backend base URL (overrides BACKEND_URL)")
	devApps := flag.String("dev-apps", "", "developer apps directory (overrides DEV_APPS_DIR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *backend != "" {
		cfg.Backend.URL = *backend
	}
	if *devApps != "" {
		cfg.DevApps.Dir = *devApps
	}

	srv, err := server.New(cfg, version)
	if err != nil {
		log.Fatalf("assemble shell: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-sigCh:
		if err := srv.Close(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	case err := <-errCh:
		log.Fatalf("server error: %v", err)
	}
}
