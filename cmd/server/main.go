package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaymesh/gateway/internal/channel"
	"github.com/relaymesh/gateway/internal/config"
	"github.com/relaymesh/gateway/internal/fanout"
	"github.com/relaymesh/gateway/internal/server"
	"github.com/relaymesh/gateway/internal/session"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to tunables file")
	port := flag.Int("port", 0, "Override listen port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	if err := run(cfg); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// run executes the startup sequence in its required order: gate and
// normalizer wrap the router, the fan-out bridge establishes both
// backbone connections, and only then does the listener accept.
// Shutdown reverses it.
func run(cfg *config.Config) error {
	codec := session.NewCodec(cfg.SessionKeyPrimary, cfg.SessionKeySecondary, !cfg.Development())
	manager := channel.NewManager(cfg.Channel.SendBuffer, cfg.Channel.WriteWait)

	backbone := fanout.NewRedisBackbone(cfg.BackboneAddr, cfg.Fanout.ChannelPrefix)
	defer backbone.Close()

	bridge := fanout.NewBridge(backbone, manager, fanout.Options{
		PublishTimeout: cfg.Fanout.PublishTimeout,
		QueueSize:      cfg.Fanout.QueueSize,
		ReconnectMin:   cfg.Fanout.ReconnectMin,
		ReconnectMax:   cfg.Fanout.ReconnectMax,
	})

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()
	if err := bridge.Start(startCtx); err != nil {
		return err
	}
	log.Printf("Fan-out bridge ready (origin %s)", bridge.Origin())

	srv := server.New(cfg, manager, bridge, codec)
	httpServer := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     srv.Router(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: event channel connections outlive any bound.
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server listening on %s", cfg.Addr())
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		bridge.Stop()
		return err
	case sig := <-sigCh:
		log.Printf("Received %v, shutting down...", sig)
	}

	// Stop accepting and drain in-flight requests up to the bound.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Printf("HTTP shutdown error: %v", err)
	}

	bridge.Stop()
	manager.Shutdown()
	log.Println("Shutdown complete")
	return nil
}
