// Package main provides the mock origin server entry point, used to
// exercise the caching proxy in local development without a real backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haloreach/cacheproxy/internal/mockorigin"
)

func main() {
	port := flag.Int("port", 9090, "port to listen on")
	latency := flag.Duration("latency", 10*time.Millisecond, "simulated backend latency")
	errorRate := flag.Float64("error-rate", 0.0, "probability (0.0-1.0) of injecting a 500")
	cacheControl := flag.String("cache-control", "", "default Cache-Control header to send on every response")
	flag.Parse()

	server := mockorigin.NewServer()
	server.Latency = *latency
	server.ErrorRate = *errorRate
	server.DefaultCacheControl = *cacheControl

	addr := fmt.Sprintf(":%d", *port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("shutting down mock origin...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
	}()

	log.Printf("mock origin listening on %s (latency=%v, error_rate=%.2f)", addr, *latency, *errorRate)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
