// Package main is the command line front end of the page cache.
//
// Usage:
//
//	pagecache -config=config.yaml -owner=2 -pages=3
//	pagecache -all
//	pagecache -clear
//	pagecache -serve
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pagecache/config"
	"pagecache/internal/app"
	"pagecache/internal/core"
	"pagecache/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML config file (default: config.yaml or config/config.yaml)")
	pages := flag.Int("pages", 1, "Number of pages to load")
	owner := flag.String("owner", "", "Value of the filter dimension; empty loads every owner")
	all := flag.Bool("all", false, "Load the whole collection in one request instead of paging")
	clearCache := flag.Bool("clear", false, "Clear every cache entry in the configured namespace and exit")
	refresh := flag.Bool("refresh", false, "Drop cached pages for the filter before loading")
	serve := flag.Bool("serve", false, "Serve the metrics and admin routes until interrupted")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if _, err := logging.Setup(os.Stderr, logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, app.Config{AppConfig: cfg})
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		stop()
		os.Exit(1)
	}

	runErr := run(ctx, a, options{
		pages:   *pages,
		owner:   *owner,
		all:     *all,
		clear:   *clearCache,
		refresh: *refresh,
		serve:   *serve,
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	if runErr != nil {
		slog.Error("pagecache failed", "error", runErr)
		cancel()
		stop()
		os.Exit(1)
	}
}

type options struct {
	pages   int
	owner   string
	all     bool
	clear   bool
	refresh bool
	serve   bool
}

func run(ctx context.Context, a *app.App, opts options) error {
	if opts.serve {
		return serveUntilDone(ctx, a)
	}
	if opts.clear {
		a.Store().Clear(ctx)
		slog.Info("cache cleared", "namespace", a.Store().Namespace())
		return nil
	}

	var filters core.Filters
	if opts.owner != "" {
		filters = core.Filters{a.Config().Filters.Dimension: opts.owner}
	}

	out := json.NewEncoder(os.Stdout)
	if opts.all {
		r := app.NewResource[json.RawMessage](a, a.Config().Upstream.Resource, filters)
		defer r.Close()
		if opts.refresh {
			if err := r.Invalidate(ctx); err != nil {
				return err
			}
		}
		st := r.Load(ctx)
		if st.Err != nil {
			return st.Err
		}
		for _, item := range st.Payload {
			if err := out.Encode(item); err != nil {
				return err
			}
		}
		return nil
	}

	p := app.NewPager[json.RawMessage](a, filters)
	defer p.Close()
	if opts.refresh {
		if err := p.InvalidateCache(ctx); err != nil {
			return err
		}
	} else if err := p.Start(ctx); err != nil {
		return err
	}
	for p.State().CurrentPage < opts.pages && p.State().HasMore {
		if err := p.LoadMore(ctx); err != nil {
			return err
		}
	}

	st := p.State()
	slog.Info("pages loaded",
		"key", p.Key(),
		"pages", len(st.Pages),
		"items", len(st.Items),
		"has_more", st.HasMore,
		"status", st.Status,
	)
	for _, item := range st.Items {
		if err := out.Encode(item); err != nil {
			return err
		}
	}
	return nil
}

func serveUntilDone(ctx context.Context, a *app.App) error {
	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	return a.Start()
}
