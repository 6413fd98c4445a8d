// Package main runs the mock paginated API for local development.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pagecache/internal/logging"
	"pagecache/internal/mockapi"
)

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	posts := flag.Int("posts", 100, "Number of posts to serve")
	users := flag.Int("users", 10, "Number of users posts are spread over")
	latency := flag.Duration("latency", 0, "Delay added to every request")
	omitTotal := flag.Bool("omit-total", false, "Do not send X-Total-Count")
	gzip := flag.Bool("gzip", false, "Compress responses")
	flag.Parse()

	if _, err := logging.Setup(os.Stderr, logging.Config{Format: os.Getenv("PAGECACHE_LOG_FORMAT")}); err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}

	srv := mockapi.New(mockapi.Config{
		Posts:       *posts,
		Users:       *users,
		Latency:     *latency,
		OmitTotal:   *omitTotal,
		Gzip:        *gzip,
		LogRequests: true,
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down mock api...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting mock api", "address", *addr, "posts", *posts, "users", *users)
	if err := srv.Start(*addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("mock api stopped gracefully")
		} else {
			slog.Error("mock api failed to start", "error", err)
			os.Exit(1)
		}
	}
}
