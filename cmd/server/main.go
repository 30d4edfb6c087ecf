package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pixelmuse/backend/internal/config"
	"github.com/pixelmuse/backend/internal/server"
)

func main() {
	port := flag.String("port", "", "Server port (overrides PIXELMUSE_PORT)")
	storageRoot := flag.String("storage", "", "Storage root directory")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *storageRoot != "" {
		cfg.Storage.Root = *storageRoot
		if os.Getenv("PIXELMUSE_IMAGES_DIR") == "" {
			cfg.Storage.ImagesDir = filepath.Join(*storageRoot, "images")
		}
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
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
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		log.Fatalf("Server error: %v", err)
	}
}
