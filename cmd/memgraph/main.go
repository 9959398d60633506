package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elliotcourant/timber"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/jbajic/memgraph"
	"github.com/jbajic/memgraph/options"
)

func main() {
	var (
		configPath     string
		directory      string
		inMemory       bool
		gcInterval     time.Duration
		metricsAddress string
	)

	pflag.StringVar(&configPath, "config", "", "path to a TOML configuration file")
	pflag.StringVar(&directory, "directory", "", "directory for the delta log and lock file")
	pflag.BoolVar(&inMemory, "in-memory", false, "run without touching the disk")
	pflag.DurationVar(&gcInterval, "gc-interval", time.Second, "background garbage collection interval")
	pflag.StringVar(&metricsAddress, "metrics-address", "", "address to serve Prometheus metrics on, empty disables")
	pflag.Parse()

	var (
		opts options.Options
		err  error
	)
	if configPath != "" {
		opts, err = options.FromTOML(configPath)
		if err != nil {
			timber.Fatalf("failed to load configuration: %v", err)
		}
	} else {
		opts = options.DefaultOptions(directory)
		opts.InMemory = inMemory || directory == ""
		opts.GarbageCollectionInterval = gcInterval
	}

	registry := prometheus.NewRegistry()
	opts.MetricsRegisterer = registry

	db, err := memgraph.Open(opts)
	if err != nil {
		timber.Fatalf("failed to open storage: %v", err)
	}
	if opts.InMemory {
		timber.Infof("storage open in memory")
	} else {
		timber.Infof("storage open in %s", opts.Directory)
	}

	if metricsAddress != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(metricsAddress, mux); err != nil {
				timber.Errorf("metrics listener failed: %v", err)
			}
		}()
		timber.Infof("serving metrics on %s", metricsAddress)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	timber.Infof("shutting down")
	if err := db.Close(); err != nil {
		timber.Fatalf("failed to close storage: %v", err)
	}
}
