package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eldarion/identeco/internal/core"
	"github.com/eldarion/identeco/internal/store"
)

func main() {
	// Load configuration
	cfg, err := core.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := core.Bootstrap(ctx, cfg, core.BootstrapOptions{})
	if err != nil {
		log.Fatalf("Failed to bootstrap: %v", err)
	}
	defer deps.Close()
	log.Printf("Initialized %d protocol plugins", len(deps.Registry.List()))

	// Expired associations and nonces
	go store.NewSweeper(deps.Store, cfg.SweepInterval).Run(ctx)

	// Idle looking glass sessions
	if deps.LookingGlass != nil {
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := deps.LookingGlass.ExpireSessions(time.Hour); n > 0 {
						log.Printf("[LookingGlass] Expired %d idle sessions", n)
					}
				}
			}
		}()
	}

	// Create and configure server
	server := core.NewServer(cfg, deps.Registry, deps.LookingGlass, deps.Store)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on %s", cfg.ListenAddr)
		log.Printf("OpenID endpoint at %s/endpoint/", cfg.BaseURL)
		log.Printf("Provider XRDS at %s/xrds.xml", cfg.BaseURL)
		if deps.LookingGlass != nil {
			log.Printf("Looking Glass WebSocket at %s/ws/lookingglass", cfg.BaseURL)
		}
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Server failed: %v", err)
			stop()
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := deps.Registry.ShutdownAll(shutdownCtx); err != nil {
		log.Printf("Plugin shutdown error: %v", err)
	}

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	log.Println("Server exited gracefully")
}
