package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"maintenance-automation/config"
	"maintenance-automation/internal/action"
	"maintenance-automation/internal/api"
	"maintenance-automation/internal/broker"
	"maintenance-automation/internal/broker/mqtt"
	"maintenance-automation/internal/broker/nats"
	"maintenance-automation/internal/engine"
	"maintenance-automation/internal/execution"
	"maintenance-automation/internal/handlers"
	"maintenance-automation/internal/logger"
	"maintenance-automation/internal/metrics"
	"maintenance-automation/internal/rule"
)

func main() {
	// Command line flags for config and rules
	configPath := flag.String("config", "config/config.json", "path to config file")
	rulesPath := flag.String("rules", "rules", "path to rules directory")

	// Optional override flags
	workersOverride := flag.Int("workers", 0, "override number of dispatch workers (0 = use config)")
	queueSizeOverride := flag.Int("queue-size", 0, "override per-worker dispatch queue size (0 = use config)")
	actionTimeoutOverride := flag.Duration("action-timeout", 0, "override per-attempt action timeout (0 = use config)")
	maxAttemptsOverride := flag.Int("max-attempts", 0, "override action attempts (0 = use config)")
	storageOverride := flag.String("storage", "", "override storage driver: memory, sqlite or postgres (empty = use config)")
	metricsAddrOverride := flag.String("metrics-addr", "", "override metrics server address (empty = use config)")
	metricsPathOverride := flag.String("metrics-path", "", "override metrics endpoint path (empty = use config)")
	metricsIntervalOverride := flag.Duration("metrics-interval", 0, "override metrics collection interval (0 = use config)")

	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Apply any command line overrides
	cfg.ApplyOverrides(
		*workersOverride,
		*queueSizeOverride,
		*actionTimeoutOverride,
		*maxAttemptsOverride,
		*storageOverride,
		*metricsAddrOverride,
		*metricsPathOverride,
		*metricsIntervalOverride,
	)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Initialize logger
	logger, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup metrics if enabled
	var metricsService *metrics.Metrics
	var metricsServer *http.Server
	var reg *prometheus.Registry

	if cfg.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		metricsService, err = metrics.NewMetrics(reg)
		if err != nil {
			logger.Fatal("failed to create metrics service", "error", err)
		}
	}

	// Transports
	var natsBroker *nats.NATSBroker
	if cfg.NATS.Enabled {
		natsBroker, err = nats.NewBroker(cfg.NATS, logger, metricsService)
		if err != nil {
			logger.Fatal("failed to create nats broker", "error", err)
		}
		defer natsBroker.Close()
	}

	var mqttBroker *mqtt.MQTTBroker
	if cfg.MQTT.Enabled {
		mqttBroker, err = mqtt.NewBroker(cfg.MQTT, logger, metricsService)
		if err != nil {
			logger.Fatal("failed to create mqtt broker", "error", err)
		}
		defer mqttBroker.Close()
	}

	// Action handlers
	registry := action.NewRegistry()
	deps := handlers.Dependencies{Logger: logger}
	if natsBroker != nil {
		deps.Notifications = natsBroker
		deps.NotificationPrefix = natsBroker.NotificationPrefix()
		deps.StatusSubject = natsBroker.StatusSubject()
	}
	if mqttBroker != nil {
		deps.MQTT = mqttBroker
		deps.MQTTDefaultQoS = mqttBroker.DefaultQoS()
	}
	actionTypes, err := handlers.RegisterAll(registry, deps)
	if err != nil {
		logger.Fatal("failed to register action handlers", "error", err)
	}
	registry.Freeze()

	// Storage and rules
	loader := rule.NewRulesLoader(logger, registry)
	st, err := openStores(ctx, cfg, *rulesPath, loader, logger, metricsService)
	if err != nil {
		logger.Fatal("failed to open storage", "driver", cfg.Storage.Driver, "error", err)
	}
	defer st.close()

	rulesCount, err := st.reload(ctx)
	if err != nil {
		logger.Fatal("failed to load rules", "error", err)
	}

	// Engine
	baseDelay, maxDelay := cfg.RetryDelays()
	executor := action.NewExecutor(registry, action.Config{
		Timeout:     cfg.ActionTimeout(),
		MaxAttempts: cfg.Engine.MaxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
	}, logger, metricsService)

	recorder := execution.NewRecorder(st.log, st.rules, execution.RecorderConfig{
		DefaultWindow: cfg.StatsWindow(),
		RecentLimit:   cfg.Engine.RecentLimit,
	}, logger, metricsService)

	engineCfg := engine.Config{Policy: action.ContinueOnFailure}
	if cfg.Engine.StopOnFailure {
		engineCfg.Policy = action.StopOnFirstFailure
	}
	automation := engine.NewEngine(st.rules, executor, recorder, engineCfg, logger, metricsService, nil)

	var scheduler *engine.Scheduler
	if cfg.Scheduler.Enabled {
		scheduler = engine.NewScheduler(automation, st.rules, cfg.SchedulerInterval(), logger)
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	// Event sources
	processor := broker.NewProcessor(automation, broker.ProcessorConfig{
		Workers:   cfg.Processing.Workers,
		QueueSize: cfg.Processing.QueueSize,
	}, logger, metricsService)
	defer processor.Close()

	checks := map[string]func() bool{}
	if natsBroker != nil {
		if err := natsBroker.Start(ctx, processor); err != nil {
			logger.Fatal("failed to start nats broker", "error", err)
		}
		checks["nats"] = natsBroker.IsConnected
	}
	if mqttBroker != nil {
		if err := mqttBroker.Start(ctx, processor); err != nil {
			logger.Fatal("failed to start mqtt broker", "error", err)
		}
		checks["mqtt"] = mqttBroker.IsConnected
	}

	if cfg.Metrics.Enabled {
		metricsCollector := metrics.NewMetricsCollector(metricsService, mustInterval(cfg.Metrics.UpdateInterval),
			func(m *metrics.Metrics) {
				if natsBroker != nil {
					m.SetBrokerConnectionStatus("nats", natsBroker.IsConnected())
				}
				if mqttBroker != nil {
					m.SetBrokerConnectionStatus("mqtt", mqttBroker.IsConnected())
				}
			})
		metricsCollector.Start()
		defer metricsCollector.Stop()

		// Setup metrics HTTP server
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			Registry:          reg,
			EnableOpenMetrics: true,
		}))

		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			logger.Info("starting metrics server",
				"address", cfg.Metrics.Address,
				"path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
	}

	var apiServer *http.Server
	if cfg.HTTP.Enabled {
		apiServer = &http.Server{
			Addr: cfg.HTTP.Address,
			Handler: api.NewRouter(&api.Handler{
				Engine:  automation,
				Logger:  logger,
				Timeout: 10 * time.Second,
				Checks:  checks,
			}),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  30 * time.Second,
		}
		go func() {
			logger.Info("starting http api", "address", cfg.HTTP.Address)
			if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("http api error", "error", err)
			}
		}()
	}

	logger.Info("maintenance-automation started",
		"storage", cfg.Storage.Driver,
		"rulesCount", rulesCount,
		"actionTypes", actionTypes,
		"nats", cfg.NATS.Enabled,
		"mqtt", cfg.MQTT.Enabled,
		"scheduler", cfg.Scheduler.Enabled,
		"workers", cfg.Processing.Workers,
		"metricsEnabled", cfg.Metrics.Enabled)

	// Setup signal handlers
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		switch sig {
		case syscall.SIGHUP:
			logger.Info("received SIGHUP, reloading rules")
			n, err := st.reload(ctx)
			if err != nil {
				logger.Error("failed to reload rules, keeping current set", "error", err)
				continue
			}
			logger.Info("rules reloaded", "rulesCount", n)
			logger.Sync()
		case syscall.SIGINT, syscall.SIGTERM:
			logger.Info("shutting down...")

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()

			for name, srv := range map[string]*http.Server{"http": apiServer, "metrics": metricsServer} {
				if srv == nil {
					continue
				}
				if err := srv.Shutdown(shutdownCtx); err != nil {
					logger.Error("failed to shutdown server", "server", name, "error", err)
				}
			}

			// Stop event sources, finish queued events while the brokers
			// can still publish, then disconnect before the deferred store close.
			cancel()
			processor.Close()
			if natsBroker != nil {
				natsBroker.Close()
			}
			if mqttBroker != nil {
				mqttBroker.Close()
			}
			return
		}
	}
}

func mustInterval(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}
