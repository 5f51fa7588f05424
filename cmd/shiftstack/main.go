// Command shiftstack searches an image stack for faint objects moving in a
// straight line, using either the exhaustive grid search or the
// hierarchical region search.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/shiftstack/internal/config"
	"github.com/banshee-data/shiftstack/internal/monitoring"
	"github.com/banshee-data/shiftstack/internal/version"
)

func main() {
	opts := defaultOptions()
	fs := flag.NewFlagSet("shiftstack", flag.ExitOnError)
	opts.register(fs)
	showVersion := fs.Bool("version", false, "Print version information and exit")
	fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetDebug(opts.debug)

	cfg, err := opts.searchConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if opts.metricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: opts.metricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server failed: %v", err)
			}
		}()
		defer server.Close()
		log.Printf("serving metrics on %s/metrics", opts.metricsListen)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if budget := cfg.GetTimeBudget(); budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	summary, err := run(ctx, opts, cfg, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		log.Fatalf("search failed: %v", err)
	}
	if err != nil {
		log.Printf("search stopped early (%v); reported %d partial results", err, summary.results)
	}
}

// searchConfig loads the configured file, or the built-in defaults, and
// applies the range overrides.
func (o *options) searchConfig() (*config.SearchConfig, error) {
	cfg := config.DefaultSearchConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = config.LoadSearchConfig(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.angles != "" {
		r, err := config.ParseRangeSpec(o.angles)
		if err != nil {
			return nil, fmt.Errorf("-angles: %w", err)
		}
		cfg.ApplyAngles(r)
	}
	if o.velocities != "" {
		r, err := config.ParseRangeSpec(o.velocities)
		if err != nil {
			return nil, fmt.Errorf("-velocities: %w", err)
		}
		cfg.ApplyVelocities(r)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
