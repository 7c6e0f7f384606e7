// Command s4server runs a single s4 node: it loads configuration,
// verifies the external toolchain is present, constructs a Node, and
// serves the HTTP surface while the GC loop runs in the background.
// Grounded on original_source/s4/server.py:main().
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jigth/s4/pkg/s4/config"
	"github.com/jigth/s4/pkg/s4/gc"
	"github.com/jigth/s4/pkg/s4/httpapi"
	"github.com/jigth/s4/pkg/s4/node"
	"github.com/jigth/s4/pkg/s4/s4client"
	"github.com/jigth/s4/pkg/s4/types"
)

func main() {
	log := types.NewDefaultLogger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	if err := config.CheckToolchain(cfg.HasherCmd); err != nil {
		log.Fatalf("toolchain check failed: %v", err)
	}

	n := node.New(cfg, log)
	client := s4client.New(n.Shards, n.Shell, cfg.HasherCmd, cfg.Timeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go gc.New(n).Run(ctx)

	router := httpapi.NewRouter(n, client)
	srv := &http.Server{
		Addr:         ":" + n.Port(),
		Handler:      router,
		IdleTimeout:  cfg.MaxTimeout,
		ReadTimeout:  cfg.MaxTimeout,
		WriteTimeout: cfg.MaxTimeout,
	}

	log.WithField("port", n.Port()).Info("starting s4 server")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server exited: %v", err)
		}
	case <-sigCh:
		log.Info("shutting down")
		cancel()
		_ = srv.Shutdown(context.Background())
	}
}
