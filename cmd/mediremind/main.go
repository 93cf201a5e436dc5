package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mediremind/internal/analytics"
	"mediremind/internal/api"
	"mediremind/internal/circuitbreaker"
	"mediremind/internal/config"
	"mediremind/internal/cron"
	"mediremind/internal/dispatcher"
	"mediremind/internal/leaderelection"
	"mediremind/internal/metrics"
	"mediremind/internal/notifier"
	"mediremind/internal/reconciler"
	"mediremind/internal/scheduler"
	"mediremind/internal/store/postgres"
	"mediremind/internal/transport/channel"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`mediremind - scheduled patient message broadcaster

Usage:
  mediremind <command>

Commands:
  serve      Start the scheduler, dispatcher and HTTP API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  USER_ID                   Tenant user UUID for jobs and notifications (required)
  GATEWAY_URL               Message gateway endpoint (required)
  GATEWAY_SECRET            HMAC secret for gateway request signing
  REDIS_ADDR                Redis address for delivery analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080", PORT honored)

  HEARTBEAT_SCHEDULE        Liveness log cadence (default: "@every 10s")
  PIPELINE_SCHEDULE         Slot pipeline cadence (default: "* * * * *")
  TIMEZONE                  IANA zone for slot evaluation (default: "UTC")

  SEND_TIMEOUT              Per-recipient gateway timeout (default: "15s")
  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME     Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  DISPATCHER_DRAIN_TIMEOUT  Dispatcher task drain timeout (default: "30s")
  DISPATCH_BUFFER_SIZE      Task bus buffer size (default: "100")
  DISPATCH_WORKERS          Concurrent dispatch workers (default: "2")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  RECONCILE_ENABLED         Enable stuck job reconciler (default: "true")
  RECONCILE_INTERVAL        How often to scan for stuck jobs (default: "5m")
  RECONCILE_THRESHOLD       Age before an in_progress job is stuck (default: "15m")
  RECONCILE_BATCH_SIZE      Max stuck jobs per cycle (default: "100")

  CIRCUIT_BREAKER_THRESHOLD Failures before the gateway circuit opens, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Open circuit cooldown (default: "2m")

  ANALYTICS_WINDOW          Redis counter bucket width (default: "5m")
  ANALYTICS_RETENTION       Redis counter TTL (default: "720h")

  LEADER_LOCK_KEY           Advisory lock key shared by all instances (default: "914207")
  LEADER_RETRY_INTERVAL     Lock acquisition retry interval (default: "15s")
  LEADER_HEARTBEAT_INTERVAL Leader connection liveness check (default: "10s")

  LOG_LEVEL                 trace, debug, info, warn or error (default: "info")`)
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	log := newLogger(cfg.LogLevel)
	logConfigWarnings(cfg, log)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("open database")
		return exitRuntimeError
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		log.Error().Err(err).Msg("connect to database")
		return exitRuntimeError
	}
	log.Info().
		Int("max_open", cfg.DBMaxOpenConns).
		Int("max_idle", cfg.DBMaxIdleConns).
		Msg("database connected")

	store := postgres.New(db, cfg.DBOpTimeout)

	// Both schedules went through Validate already; a parse failure here
	// means Load and Validate disagree, which is a bug.
	parser := cron.NewParser()
	heartbeat, err := parser.Parse(cfg.HeartbeatSchedule, cfg.Timezone)
	if err != nil {
		log.Error().Err(err).Msg("parse heartbeat schedule")
		return exitRuntimeError
	}
	pipeline, err := parser.Parse(cfg.PipelineSchedule, cfg.Timezone)
	if err != nil {
		log.Error().Err(err).Msg("parse pipeline schedule")
		return exitRuntimeError
	}
	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Error().Err(err).Msg("load timezone")
		return exitRuntimeError
	}

	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, log)
		log.Info().Str("path", cfg.MetricsPath).Msg("metrics enabled")
	}

	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewTaskBus(cfg.DispatchBufferSize, busOpts...)

	sender := dispatcher.NewHTTPGatewaySender(cfg.GatewayURL, cfg.GatewaySecret, cfg.SendTimeout)
	if cfg.CircuitBreakerThreshold > 0 {
		sender = sender.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}

	disp := dispatcher.New(
		dispatcher.Config{Workers: cfg.DispatchWorkers},
		store,
		sender,
		log,
	).WithDrainTimeout(cfg.DispatcherDrainTimeout)
	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink)
	}
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		sink := analytics.NewRedisSink(redisClient, analytics.Config{
			Window:    cfg.AnalyticsWindow,
			Retention: cfg.AnalyticsRetention,
		}, log)
		disp = disp.WithAnalytics(sink)
		log.Info().Str("redis", cfg.RedisAddr).Msg("analytics enabled")
	}

	sched := scheduler.New(
		scheduler.Config{Heartbeat: heartbeat, Pipeline: pipeline, Location: location},
		store,
		notifier.New(store),
		bus,
		log,
	)
	if metricsSink != nil {
		sched = sched.WithMetrics(metricsSink)
	}

	var recon *reconciler.Reconciler
	if cfg.ReconcileEnabled {
		recon = reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Threshold: cfg.ReconcileThreshold,
				BatchSize: cfg.ReconcileBatchSize,
			},
			store,
			bus,
			log,
		)
		if metricsSink != nil {
			recon = recon.WithMetrics(metricsSink)
		}
	} else {
		log.Info().Msg("reconciler disabled")
	}

	userID := uuid.MustParse(cfg.UserID)
	apiHandler := api.NewHandler(store, userID, log).WithHealthChecker(db)

	mux := http.NewServeMux()
	if metricsSink != nil {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", apiHandler)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	// The dispatcher runs on every instance; the scheduler and reconciler
	// only run while this instance holds the leader lock. The elector calls
	// onElected and onDemoted sequentially, so leaderWg needs no extra lock.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	var dispatcherWg sync.WaitGroup
	dispatcherWg.Add(1)
	go func() {
		defer dispatcherWg.Done()
		disp.Run(dispatcherCtx, bus.Channel())
	}()

	var leaderWg sync.WaitGroup
	onElected := func(leaderCtx context.Context) {
		leaderWg.Add(1)
		go func() {
			defer leaderWg.Done()
			sched.Run(leaderCtx)
		}()
		if recon != nil {
			leaderWg.Add(1)
			go func() {
				defer leaderWg.Done()
				recon.Run(leaderCtx)
			}()
		}
	}
	onDemoted := func() {
		leaderWg.Wait()
	}

	elector := leaderelection.New(
		db,
		cfg.LeaderLockKey,
		cfg.LeaderRetryInterval,
		cfg.LeaderHeartbeatInterval,
		onElected,
		onDemoted,
		log,
	)
	if metricsSink != nil {
		elector = elector.WithMetrics(metricsSink)
	}

	electorCtx, cancelElector := context.WithCancel(context.Background())
	var electorWg sync.WaitGroup
	electorWg.Add(1)
	go func() {
		defer electorWg.Done()
		elector.Run(electorCtx)
	}()

	log.Info().
		Str("version", version).
		Str("pipeline", cfg.PipelineSchedule).
		Str("timezone", cfg.Timezone).
		Msg("mediremind started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	log.Info().Str("signal", received.String()).Msg("shutting down")

	// Phase 1: release leadership. This stops the scheduler and reconciler
	// through demotion, so no new tasks are emitted.
	cancelElector()
	electorWg.Wait()
	log.Info().Msg("leader duties stopped")

	// Phase 2: stop the dispatcher. It drains buffered tasks before returning.
	cancelDispatcher()
	dispatcherWg.Wait()
	log.Info().Msg("dispatcher stopped")

	// Phase 3: graceful HTTP shutdown.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}
	log.Info().Msg("stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("mediremind version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
