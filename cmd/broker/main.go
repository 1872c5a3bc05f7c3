package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/plugrun/resource-broker/pkg/broker"
	"github.com/plugrun/resource-broker/pkg/config"
	"github.com/plugrun/resource-broker/pkg/embedding"
	"github.com/plugrun/resource-broker/pkg/llm"
	"github.com/plugrun/resource-broker/pkg/observability/logging"
	"github.com/plugrun/resource-broker/pkg/queued"
	"github.com/plugrun/resource-broker/pkg/vectordb"
)

func main() {
	var (
		configPath      = flag.String("config", "config/config.yaml", "Path to the configuration file")
		metricsPort     = flag.Int("metrics-port", 9190, "Port for Prometheus metrics")
		statsInterval   = flag.Duration("stats-interval", time.Minute, "Interval for logging broker statistics")
		shutdownTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "Grace period for in-flight requests on shutdown")
	)
	flag.Parse()

	logging.InitLoggerFromEnv()
	defer logging.Sync()

	if _, err := os.Stat(*configPath); os.IsNotExist(err) {
		logging.Fatalf("Config file not found: %s", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatalf("Invalid config: %v", err)
	}

	backend, err := cfg.Backend()
	if err != nil {
		logging.Fatalf("Failed to create rate limit backend: %v", err)
	}
	b := broker.New(backend)

	if err := wireResources(b, cfg); err != nil {
		logging.Fatalf("Failed to wire resources: %v", err)
	}

	// Metrics server
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		metricsAddr := fmt.Sprintf(":%d", *metricsPort)
		logging.Infof("Starting metrics server on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			logging.Errorf("Metrics server error: %v", err)
		}
	}()

	logging.Infof("Resource broker started with config: %s (%d resources)", *configPath, len(cfg.Resources))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			logStats(b)
		case s := <-sig:
			logging.Infof("Received %v, shutting down", s)
			ctx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
			defer cancel()
			if err := b.Shutdown(ctx); err != nil {
				logging.Errorf("Shutdown did not complete cleanly: %v", err)
			} else {
				logging.Infof("Shutdown complete")
			}
			return
		}
	}
}

// wireResources installs queued wrappers for every resource kind the
// config names. Resources without a matching client are registered
// anyway so their limits apply to direct Enqueue callers.
func wireResources(b *broker.Broker, cfg *config.Config) error {
	wired := map[string]bool{}

	if c := cfg.Clients.LLM; c.Endpoint != "" {
		client := llm.NewOpenAIClient(llm.OpenAIClientOptions{Endpoint: c.Endpoint, APIKey: c.APIKey()})
		if _, err := queued.NewCompletion(b, client, wrapperOptions(cfg, queued.DefaultCompletionResource)); err != nil {
			return err
		}
		wired[queued.DefaultCompletionResource] = true
	}

	if c := cfg.Clients.Embedding; c.Endpoint != "" {
		svc := embedding.NewOpenAIService(embedding.OpenAIServiceOptions{Endpoint: c.Endpoint, APIKey: c.APIKey()})
		if _, err := queued.NewEmbedder(b, svc, wrapperOptions(cfg, queued.DefaultEmbeddingResource)); err != nil {
			return err
		}
		wired[queued.DefaultEmbeddingResource] = true
	}

	if cfg.VectorStore.Dim > 0 {
		store, err := vectordb.New(cfg.VectorStore)
		if err != nil {
			return err
		}
		if _, err := queued.NewVector(b, store, wrapperOptions(cfg, queued.DefaultVectorResource)); err != nil {
			return err
		}
		wired[queued.DefaultVectorResource] = true
	}

	for name, res := range cfg.Resources {
		if wired[name] {
			continue
		}
		err := b.Register(name, broker.ResourceConfig{
			RateLimits: res.RateLimits,
			Retry:      res.Retry.Backoff(),
			Timeout:    res.Timeout(),
			Executor:   unboundExecutor(name),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func wrapperOptions(cfg *config.Config, resource string) queued.Options {
	opts := queued.Options{Resource: resource}
	if res, ok := cfg.Resources[resource]; ok {
		opts.Config = broker.ResourceConfig{
			RateLimits: res.RateLimits,
			Retry:      res.Retry.Backoff(),
			Timeout:    res.Timeout(),
		}
	}
	return opts
}

// unboundExecutor holds a registration slot for resources that only
// exist for rate accounting until a wrapper claims them.
func unboundExecutor(resource string) broker.Executor {
	return func(ctx context.Context, operation string, args []interface{}) (interface{}, error) {
		return nil, fmt.Errorf("resource %q has no executor bound for operation %q", resource, operation)
	}
}

func logStats(b *broker.Broker) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := b.Stats(ctx)
	if err != nil {
		logging.Warnf("Failed to collect stats: %v", err)
		return
	}
	logging.Infof("Broker stats: requests=%d success=%d errors=%d queued=%d uptime=%v",
		stats.TotalRequests, stats.TotalSuccess, stats.TotalErrors, stats.QueueSize, stats.Uptime.Round(time.Second))
}
