package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	libdb "chargeslots/backend/libs/db"
	libredis "chargeslots/backend/libs/redis"
	"chargeslots/backend/services/slot-scheduler/internal/clock"
	"chargeslots/backend/services/slot-scheduler/internal/config"
	"chargeslots/backend/services/slot-scheduler/internal/db"
	httpserver "chargeslots/backend/services/slot-scheduler/internal/http"
	"chargeslots/backend/services/slot-scheduler/internal/http/handlers"
	"chargeslots/backend/services/slot-scheduler/internal/http/middleware"
	"chargeslots/backend/services/slot-scheduler/internal/jobs"
	"chargeslots/backend/services/slot-scheduler/internal/mq"
	redisstore "chargeslots/backend/services/slot-scheduler/internal/redis"
	"chargeslots/backend/services/slot-scheduler/internal/repository"
	"chargeslots/backend/services/slot-scheduler/internal/repository/memory"
	"chargeslots/backend/services/slot-scheduler/internal/service"
	"chargeslots/backend/services/slot-scheduler/internal/store"
	"chargeslots/backend/services/slot-scheduler/internal/telemetry"
	"chargeslots/backend/services/slot-scheduler/internal/ws"
)

// ServiceName tags logs, spans and metrics.
const ServiceName = "slot-scheduler"

const shutdownTimeout = 10 * time.Second

// ErrUnknownJob is returned by RunJob for names it does not know.
var ErrUnknownJob = errors.New("unknown job")

type stores struct {
	timeSlots store.TimeSlots
	slots     store.Slots
	bookings  store.Bookings
	tx        store.TxRunner
}

// App wires slot-scheduler dependencies.
type App struct {
	cfg         *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	publisher   *mq.Publisher
	tracer      *telemetry.Tracer
	hub         *ws.Hub

	runner    *jobs.Runner
	generator *jobs.Generator
	jobs      map[string]jobs.Job
	scheduler *jobs.Scheduler
	server    *httpserver.Server
}

// New constructs the application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, logger: logger, jobs: make(map[string]jobs.Job)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	zone, err := cfg.Zone()
	if err != nil {
		return nil, err
	}
	genCfg, err := cfg.Generator()
	if err != nil {
		return nil, err
	}

	a.tracer, err = telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName: ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return nil, err
	}

	checks := make(map[string]handlers.Pinger)
	st, err := a.openStores(ctx, checks)
	if err != nil {
		return nil, err
	}

	metrics := telemetry.NewMetrics()
	if a.db != nil {
		metrics.Registry().MustRegister(collectors.NewDBStatsCollector(a.db, "slot_scheduler"))
	}
	history := jobs.NewHistory()
	a.hub = ws.NewHub(logger)
	a.runner = jobs.NewRunner(clock.System{}, logger, cfg.Schedule.RunTimeout, history, metrics, a.hub)

	var reports handlers.ReportLister = history
	var cache service.AvailabilityCache
	if cfg.Redis.Addr != "" {
		a.redisClient, err = libredis.NewRedisClient(ctx, libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		checks["redis"] = func(ctx context.Context) error { return a.redisClient.Ping(ctx).Err() }

		statusStore := redisstore.NewRunStatusStore(a.redisClient, cfg.Redis.StatusTTL, logger)
		availability := redisstore.NewAvailabilityCache(a.redisClient, cfg.Redis.CacheTTL, logger)
		a.runner.AddObserver(statusStore)
		a.runner.AddObserver(availability)
		reports = statusStore
		cache = availability
	}

	var events jobs.BookingEvents
	if cfg.AMQP.URL != "" {
		a.publisher, err = mq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
		if err != nil {
			return nil, err
		}
		a.runner.AddObserver(a.publisher)
		events = a.publisher
	}

	a.generator, err = jobs.NewGenerator(st.timeSlots, st.slots, clock.System{}, zone, genCfg, logger)
	if err != nil {
		return nil, err
	}
	expiration := jobs.NewExpiration(st.bookings, st.tx, clock.System{}, zone, events, logger)
	reconciler := jobs.NewReconciler(st.timeSlots, clock.System{}, logger)
	backfill := a.generator.BackfillJob()
	for _, j := range []jobs.Job{a.generator, backfill, expiration, reconciler} {
		a.jobs[j.Name()] = j
	}

	sched := cfg.Schedule
	a.scheduler = jobs.NewScheduler(a.runner, clock.System{}, logger,
		jobs.Entry{
			Job:      a.generator,
			Schedule: jobs.Daily{Zone: zone, At: cfg.DailyRunAt(), RetryDelay: sched.RetryDelay},
		},
		jobs.Entry{
			Job:        expiration,
			Schedule:   jobs.Interval{Every: sched.ExpirationInterval, RetryDelay: sched.RetryDelay},
			RunOnStart: true,
		},
		jobs.Entry{
			Job:        reconciler,
			Schedule:   jobs.Interval{Every: sched.ReconcileInterval, RetryDelay: sched.RetryDelay},
			RunOnStart: true,
		},
	)

	jobsHandlers := handlers.NewJobsHandlers(a.runner, reports, logger, a.generator, backfill, expiration, reconciler)
	wsServer := ws.NewServer(a.hub, 10*time.Second, logger)
	routes := httpserver.Routes{
		Health:    handlers.NewHealthHandler(checks),
		Metrics:   metrics.Handler(),
		TimeSlots: handlers.NewTimeSlotsHandler(service.NewTimeSlotService(st.timeSlots, zone, cache, logger), logger),
		Jobs:      jobsHandlers.List,
		RunJob:    jobsHandlers.Run,
		JobsFeed:  wsServer.HandleWS,
	}
	auth := middleware.Auth(middleware.AuthOptions{
		JWTSecret:  cfg.Auth.JWTSecret,
		APIKeyHash: cfg.Auth.APIKeyHash,
		Roles:      cfg.Auth.Roles,
	})
	writeTimeout := cfg.Schedule.RunTimeout + 5*time.Second
	a.server = httpserver.NewServer(cfg.HTTPAddress(), httpserver.NewRouter(routes, auth), writeTimeout, logger)

	return a, nil
}

func (a *App) openStores(ctx context.Context, checks map[string]handlers.Pinger) (stores, error) {
	if a.cfg.Database.Driver == config.DriverMemory {
		a.logger.Warn("using in-memory store, state is lost on exit")
		mem := memory.New()
		return stores{timeSlots: mem, slots: mem, bookings: mem, tx: mem}, nil
	}

	conn, err := libdb.NewPostgresDB(ctx, a.cfg.Database.DSN, libdb.PoolOptions{
		MaxOpenConns: a.cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return stores{}, fmt.Errorf("postgres: %w", err)
	}
	a.db = conn
	checks["database"] = conn.PingContext

	if a.cfg.Database.MigrateOnStart {
		if err := db.Migrate(ctx, conn, a.logger); err != nil {
			return stores{}, err
		}
	}

	bookings := repository.NewBookingRepository(conn)
	return stores{
		timeSlots: repository.NewTimeSlotRepository(conn),
		slots:     repository.NewSlotRepository(conn),
		bookings:  bookings,
		tx:        bookings,
	}, nil
}

// Run backfills the horizon when configured, then serves HTTP and runs the schedule
// until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Schedule.BackfillOnStart {
		// a failed backfill is left to the daily run
		_, _ = a.runner.Execute(ctx, a.generator.BackfillJob())
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Run(ctx) })
	g.Go(func() error { return a.scheduler.Run(ctx) })
	return g.Wait()
}

// JobNames lists the jobs RunJob accepts.
func (a *App) JobNames() []string {
	names := make([]string, 0, len(a.jobs))
	for n := range a.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RunJob executes one job by name through the runner.
func (a *App) RunJob(ctx context.Context, name string) (jobs.Report, error) {
	job, ok := a.jobs[name]
	if !ok {
		return jobs.Report{}, fmt.Errorf("%w %q, expected one of: %s", ErrUnknownJob, name, strings.Join(a.JobNames(), ", "))
	}
	return a.runner.Execute(ctx, job)
}

// Close releases resources.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.hub != nil {
		a.hub.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("failed to close amqp publisher", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("failed to flush traces", zap.Error(err))
	}
}

// Migrate applies the schema and exits.
func Migrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Database.Driver != config.DriverPostgres {
		return fmt.Errorf("migrate: driver %q has no schema", cfg.Database.Driver)
	}
	conn, err := libdb.NewPostgresDB(ctx, cfg.Database.DSN, libdb.PoolOptions{MaxOpenConns: 2})
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer conn.Close()
	return db.Migrate(ctx, conn, logger)
}
