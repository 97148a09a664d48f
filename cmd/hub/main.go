// Package main is the entry point for the hub gateway.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/carlossalguero/hub/internal/hub/dispatch"
	"github.com/carlossalguero/hub/internal/hub/export"
	"github.com/carlossalguero/hub/internal/hub/logring"
	"github.com/carlossalguero/hub/internal/hub/middleware"
	"github.com/carlossalguero/hub/internal/hub/proxy"
	"github.com/carlossalguero/hub/internal/hub/registry"
	"github.com/carlossalguero/hub/internal/hub/server"
	"github.com/carlossalguero/hub/internal/hub/sweeper"
	"github.com/carlossalguero/hub/internal/hub/upstream"
	"github.com/carlossalguero/hub/internal/shared/cache"
	"github.com/carlossalguero/hub/internal/shared/clock"
	"github.com/carlossalguero/hub/internal/shared/events"
	"github.com/carlossalguero/hub/internal/shared/health"
	"github.com/carlossalguero/hub/internal/shared/logger"
	"github.com/carlossalguero/hub/internal/shared/metrics"
	"github.com/carlossalguero/hub/internal/shared/tracing"
)

// Config holds the hub configuration.
type Config struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	Sweeper struct {
		StaleThreshold time.Duration `mapstructure:"stale_threshold"`
		EvictThreshold time.Duration `mapstructure:"evict_threshold"`
		Tick           time.Duration `mapstructure:"tick"`
	} `mapstructure:"sweeper"`

	Upstream struct {
		MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
	} `mapstructure:"upstream"`

	LogRing struct {
		Capacity int `mapstructure:"capacity"`
	} `mapstructure:"log_ring"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Redis struct {
		Address      string        `mapstructure:"address"`
		Password     string        `mapstructure:"password"`
		DB           int           `mapstructure:"db"`
		DialTimeout  time.Duration `mapstructure:"dial_timeout"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"redis"`

	NATS struct {
		URL           string        `mapstructure:"url"`
		Name          string        `mapstructure:"name"`
		ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
		MaxReconnects int           `mapstructure:"max_reconnects"`
	} `mapstructure:"nats"`

	Tracing struct {
		Enabled    bool    `mapstructure:"enabled"`
		Endpoint   string  `mapstructure:"endpoint"`
		SampleRate float64 `mapstructure:"sample_rate"`
		Insecure   bool    `mapstructure:"insecure"`
	} `mapstructure:"tracing"`
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "hub",
		Environment: os.Getenv("ENVIRONMENT"),
	})

	log := logger.Default()
	log.Info("starting hub", "host", cfg.Host, "port", cfg.Port)

	// Tracing (optional)
	var tracingCleanup func(context.Context) error
	if cfg.Tracing.Enabled {
		var err error
		tracingCleanup, err = tracing.InitGlobal(tracing.Config{
			ServiceName:    "hub",
			ServiceVersion: version(),
			Environment:    os.Getenv("ENVIRONMENT"),
			Endpoint:       cfg.Tracing.Endpoint,
			SampleRate:     cfg.Tracing.SampleRate,
			Insecure:       cfg.Tracing.Insecure,
			Enabled:        true,
		})
		if err != nil {
			log.Error("failed to initialize tracing", "error", err)
		} else {
			log.Info("tracing initialized", "endpoint", cfg.Tracing.Endpoint)
		}
	}

	metricsInstance := metrics.Init(metrics.Config{
		ServiceName: "hub",
		Namespace:   "hub",
		Subsystem:   "gateway",
	})

	// Redis snapshot export (optional)
	var cacheClient *cache.Client
	if cfg.Redis.Address != "" {
		var err error
		cacheClient, err = cache.New(cache.Config{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			log.Warn("failed to connect to Redis, snapshot export disabled", "error", err)
		} else {
			log.Info("connected to Redis", "address", cfg.Redis.Address)
		}
	}

	// NATS lifecycle events (optional)
	var eventsClient *events.Client
	if cfg.NATS.URL != "" {
		var err error
		eventsClient, err = events.Init(events.Config{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			ReconnectWait: cfg.NATS.ReconnectWait,
			MaxReconnects: cfg.NATS.MaxReconnects,
		})
		if err != nil {
			log.Warn("failed to connect to NATS, events disabled", "error", err)
		} else {
			log.Info("connected to NATS", "url", cfg.NATS.URL)
		}
	}

	healthChecker := health.NewChecker(
		health.WithVersion(version()),
		health.WithTimeout(5*time.Second),
	)
	if cacheClient != nil {
		healthChecker.Register("redis", health.PingCheck(cacheClient.Ping))
	}
	if eventsClient != nil {
		healthChecker.Register("nats", health.PingCheck(func(ctx context.Context) error {
			if !eventsClient.IsConnected() {
				return fmt.Errorf("not connected to NATS")
			}
			return nil
		}))
	}

	// Core collaborators
	ring := logring.New(cfg.LogRing.Capacity)
	reg := registry.New(clock.System())

	client := upstream.New(upstream.Config{
		MaxBodyBytes: cfg.Upstream.MaxBodyBytes,
	})

	prx := proxy.New(proxy.Config{
		Client:  client,
		Ring:    ring,
		Metrics: metricsInstance,
		Events:  eventsClient,
		Logger:  log,
	})

	dispatcher := dispatch.New(dispatch.Config{
		Registry: reg,
		Proxy:    prx,
		Ring:     ring,
		Logger:   log,
	})

	srv := server.New(server.Config{
		Registry:   reg,
		Dispatcher: dispatcher,
		Ring:       ring,
		Metrics:    metricsInstance,
		Events:     eventsClient,
		Logger:     log,
	})

	var exporter *export.Exporter
	if cacheClient != nil {
		exporter = export.New(export.Config{
			Cache:    cacheClient,
			Snapshot: srv.DashboardPayload,
			Logger:   log,
		})
	}
	srv.SetExporter(exporter)

	swp := sweeper.New(sweeper.Config{
		Registry:       reg,
		Ring:           ring,
		Metrics:        metricsInstance,
		Events:         eventsClient,
		Logger:         log,
		StaleThreshold: cfg.Sweeper.StaleThreshold,
		EvictThreshold: cfg.Sweeper.EvictThreshold,
		Tick:           cfg.Sweeper.Tick,
		OnChange: func(ctx context.Context) {
			if exporter != nil {
				exporter.Publish(ctx)
			}
		},
	})
	if err := swp.Start(); err != nil {
		log.Error("failed to start sweeper", "error", err)
		os.Exit(1)
	}

	// Middleware chain, innermost first
	var handler http.Handler = srv.Handler()
	handler = metricsInstance.HTTPMiddleware(handler)
	handler = middleware.Logging(log)(handler)
	handler = middleware.Recovery(log, ring)(handler)
	handler = middleware.RequestID()(handler)
	if cfg.Tracing.Enabled {
		handler = middleware.Tracing(middleware.TracingConfig{
			ServiceName: "hub",
		})(handler)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Ops listener: health + metrics, kept off the public route space so no
	// probe path can shadow a registered service name.
	opsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port+1000),
		Handler:           opsMux(healthChecker, metricsInstance),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("starting ops server", "address", opsServer.Addr)
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ops server error", "error", err)
		}
	}()

	go func() {
		log.Info("starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down hub...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if err := opsServer.Shutdown(ctx); err != nil {
		log.Error("ops server shutdown error", "error", err)
	}

	swp.Stop()

	if eventsClient != nil {
		if err := eventsClient.Close(); err != nil {
			log.Error("nats close error", "error", err)
		}
	}
	if cacheClient != nil {
		if err := cacheClient.Close(); err != nil {
			log.Error("redis close error", "error", err)
		}
	}
	if tracingCleanup != nil {
		if err := tracingCleanup(ctx); err != nil {
			log.Error("tracing shutdown error", "error", err)
		}
	}

	log.Info("hub stopped")
}

func opsMux(checker *health.Checker, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", checker.HealthHandler)
	mux.HandleFunc("/health/live", checker.LiveHandler)
	mux.HandleFunc("/health/ready", checker.ReadyHandler)
	mux.Handle("/metrics", m.Handler())
	return mux
}

func loadConfig() (*Config, error) {
	viper.SetConfigName("hub")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/hub")

	viper.SetDefault("host", "localhost")
	viper.SetDefault("port", 8000)
	viper.SetDefault("read_timeout", "30s")
	viper.SetDefault("write_timeout", "630s")
	viper.SetDefault("idle_timeout", "120s")

	viper.SetDefault("sweeper.stale_threshold", "15m")
	viper.SetDefault("sweeper.evict_threshold", "60m")
	viper.SetDefault("sweeper.tick", "60s")

	viper.SetDefault("upstream.max_body_bytes", upstream.DefaultMaxBodyBytes)
	viper.SetDefault("log_ring.capacity", logring.DefaultCapacity)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")

	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")

	viper.SetDefault("nats.url", "")
	viper.SetDefault("nats.name", "hub")
	viper.SetDefault("nats.reconnect_wait", "2s")
	viper.SetDefault("nats.max_reconnects", 60)

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.endpoint", "localhost:4317")
	viper.SetDefault("tracing.sample_rate", 1.0)
	viper.SetDefault("tracing.insecure", true)

	// HUB_PORT and friends
	viper.SetEnvPrefix("HUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}

	return &cfg, nil
}

func version() string {
	if v := os.Getenv("VERSION"); v != "" {
		return v
	}
	return "dev"
}
