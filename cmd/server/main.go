package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/kybaq/har-tool/internal/api"
	"github.com/kybaq/har-tool/internal/capture"
	"github.com/kybaq/har-tool/internal/config"
	applog "github.com/kybaq/har-tool/internal/log"
	"github.com/kybaq/har-tool/internal/mitm"
	"github.com/kybaq/har-tool/internal/proxy"
	"github.com/kybaq/har-tool/internal/sanitize"
	"github.com/kybaq/har-tool/internal/session"
)

// shutdownGrace bounds how long in-flight exchanges may drain.
const shutdownGrace = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	store := session.NewStore(cfg.SessionDir)
	if err := store.Init(); err != nil {
		log.Fatal(err)
	}
	writer := session.NewWriter(store, 0)

	ring := capture.NewRing(cfg.RingCapacity)

	// Capture pipeline: sanitize once, then publish the same record to
	// the live ring and the session log. Neither branch blocks.
	sink := func(rec capture.LogRecord) {
		clean := sanitize.Record(rec)
		ring.Push(clean)
		writer.Enqueue(clean)
	}

	var certs *mitm.CertCache
	if cfg.MitmEnabled {
		ca, err := mitm.Load(cfg.CertDir)
		if err != nil {
			log.Fatal(err)
		}
		certs = mitm.NewCertCache(ca, 0)
		log.Printf("MITM enabled, CA certificate at %s/ca.crt", cfg.CertDir)
	}

	interceptor := proxy.New(proxy.Options{
		Sink:            sink,
		BodyLimit:       cfg.BodyLimit,
		UpstreamTimeout: cfg.UpstreamTimeout,
		Certs:           certs,
	})

	proxyServer := &http.Server{
		Addr:    cfg.ProxyAddr,
		Handler: interceptor,
		// Proxied transfers and tunnels may be long-lived; only idle
		// connections are bounded.
		IdleTimeout: 120 * time.Second,
	}
	controlServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Options{
			Ring:        ring,
			Store:       store,
			LogRequests: cfg.LogRequests,
		}),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 2)
	go func() {
		log.Printf("proxy listening on %s (mitm=%v, body limit=%d)",
			cfg.ProxyAddr, cfg.MitmEnabled, cfg.BodyLimit)
		errs <- proxyServer.ListenAndServe()
	}()
	go func() {
		log.Printf("control API listening on %s", cfg.HTTPAddr)
		errs <- controlServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Print("shutting down")
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("listener failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = controlServer.Shutdown(shutdownCtx)
	_ = proxyServer.Shutdown(shutdownCtx)
	interceptor.CloseIdleConnections()

	// Drain buffered appends, then seal the session so its metadata
	// and report stay consistent on disk.
	writer.Close()
	if meta, err := store.Stop(); err != nil {
		applog.LogSessionError("shutdown stop", err)
	} else if meta != nil {
		log.Printf("session %s closed with %d records", meta.ID, meta.LogCount)
	}
}
