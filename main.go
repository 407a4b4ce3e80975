package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/abdusco/linkpage/internal/aggregate"
	"github.com/abdusco/linkpage/internal/auth"
	"github.com/abdusco/linkpage/internal/counter"
	"github.com/abdusco/linkpage/internal/db"
	"github.com/abdusco/linkpage/internal/eventlog"
	"github.com/abdusco/linkpage/internal/flush"
	"github.com/abdusco/linkpage/internal/handler"
	"github.com/abdusco/linkpage/internal/intake"
	"github.com/abdusco/linkpage/internal/kv"
	"github.com/abdusco/linkpage/internal/logger"
	"github.com/abdusco/linkpage/internal/ordering"
	"github.com/abdusco/linkpage/internal/partition"
	"github.com/abdusco/linkpage/internal/qr"
	"github.com/abdusco/linkpage/internal/repo"
	"github.com/abdusco/linkpage/internal/shard"
	"github.com/abdusco/linkpage/internal/storage"
	"github.com/abdusco/linkpage/internal/tracking"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

type Config struct {
	Host     string
	Port     string
	DBPath   string `json:"-"`
	RedisURL string `json:"-"`
	LogLevel string
	Debug    bool

	JWTSecret       string `json:"-"`
	SchedulerSecret string `json:"-"`
	CronSecret      string `json:"-"`

	IntakeShards      int
	IntakeBatch       int
	IntakeInterval    time.Duration
	FlushBatch        int
	FlushInterval     time.Duration
	FlushIdleBackoff  time.Duration
	AggregateBatch    int
	AggregateInterval time.Duration
	PartitionLockTTL  time.Duration
	OrderLockTTL      time.Duration
	RunWorkers        bool

	AssetDir      string
	PublicBaseURL string
	S3Bucket      string
	S3Region      string
	S3Endpoint    string
	S3PublicURL   string
}

var dsnPassword = regexp.MustCompile(`(?i)(password=)(?:'[^']*'|\S+)`)

// redactDSN masks the password of a database URL or key=value DSN.
func redactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
		return u.Redacted()
	}
	return dsnPassword.ReplaceAllString(dsn, "${1}xxxxx")
}

func newConfigFromEnv() (Config, error) {
	cfg := Config{
		Host:     cmp.Or(os.Getenv("HOST"), "localhost"),
		Port:     cmp.Or(os.Getenv("PORT"), "8080"),
		DBPath:   cmp.Or(os.Getenv("DATABASE_URL"), os.Getenv("DB_PATH"), "linkpage.db"),
		RedisURL: os.Getenv("REDIS_URL"),
		LogLevel: cmp.Or(os.Getenv("LOG_LEVEL"), "info"),
		Debug:    os.Getenv("DEBUG") == "1",

		JWTSecret:       os.Getenv("JWT_SECRET"),
		SchedulerSecret: os.Getenv("SCHEDULER_SECRET"),
		CronSecret:      os.Getenv("CRON_SECRET"),

		RunWorkers: os.Getenv("RUN_WORKERS") == "1",

		AssetDir:    cmp.Or(os.Getenv("ASSET_DIR"), "assets"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3Region:    os.Getenv("S3_REGION"),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3PublicURL: os.Getenv("S3_PUBLIC_BASE_URL"),
	}
	cfg.PublicBaseURL = cmp.Or(os.Getenv("PUBLIC_BASE_URL"), "http://"+cfg.Host+":"+cfg.Port)

	var errs []error
	ints := []struct {
		key  string
		dst  *int
		fall int
	}{
		{"INTAKE_SHARDS", &cfg.IntakeShards, 8},
		{"INTAKE_BATCH", &cfg.IntakeBatch, 100},
		{"FLUSH_BATCH", &cfg.FlushBatch, flush.DefaultBatchSize},
		{"AGGREGATE_BATCH", &cfg.AggregateBatch, 500},
	}
	for _, v := range ints {
		n, err := strconv.Atoi(cmp.Or(os.Getenv(v.key), strconv.Itoa(v.fall)))
		if err != nil || n < 1 {
			errs = append(errs, fmt.Errorf("%s must be a positive integer", v.key))
		}
		*v.dst = n
	}

	durations := []struct {
		key  string
		dst  *time.Duration
		fall string
	}{
		{"INTAKE_INTERVAL", &cfg.IntakeInterval, "2s"},
		{"FLUSH_INTERVAL", &cfg.FlushInterval, "10s"},
		{"FLUSH_IDLE_BACKOFF", &cfg.FlushIdleBackoff, "30s"},
		{"AGGREGATE_INTERVAL", &cfg.AggregateInterval, "1m"},
		{"PARTITION_LOCK_TTL", &cfg.PartitionLockTTL, "30s"},
		{"ORDER_LOCK_TTL", &cfg.OrderLockTTL, "10s"},
	}
	for _, v := range durations {
		d, err := time.ParseDuration(cmp.Or(os.Getenv(v.key), v.fall))
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration", v.key))
		}
		*v.dst = d
	}

	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if cfg.SchedulerSecret == "" && cfg.CronSecret == "" {
		log.Warn().Msg("neither SCHEDULER_SECRET nor CRON_SECRET is set - trigger endpoints will reject every call")
	}

	return cfg, errors.Join(errs...)
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	cfg, err := newConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse configuration from environment")
	}

	if err := logger.Setup(cfg.LogLevel, cfg.Debug); err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("failed to set up logging")
	}

	log.Info().
		Interface("config", cfg).
		Str("database", redactDSN(cfg.DBPath)).
		Msg("current configuration")

	ctx := context.Background()
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}
}

func run(ctx context.Context, cfg Config) error {
	log.Info().
		Str("version", version).
		Str("build_time", buildTime).
		Msg("starting application")

	dbInstance, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbInstance.Close()

	store, err := newStore(ctx, cfg, dbInstance)
	if err != nil {
		return err
	}
	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	objects, err := newObjectStorage(ctx, cfg)
	if err != nil {
		return err
	}

	eventsRepo := repo.NewEventsRepo(dbInstance)
	tracker := tracking.New(counter.New(store), eventlog.New(store), eventsRepo)
	partitions := partition.NewManager(dbInstance, store, partition.Config{LockTTL: cfg.PartitionLockTTL})
	allocator := ordering.NewAllocator(dbInstance, store, ordering.Config{LockTTL: cfg.OrderLockTTL})
	queue := intake.NewQueue(store, shard.NewRouter(cfg.IntakeShards))

	intakeWorker := intake.NewWorker(dbInstance, store, allocator, intake.Config{BatchSize: cfg.IntakeBatch})
	flusher := flush.NewWorker(dbInstance, store, partitions, flush.Config{
		BatchSize:   cfg.FlushBatch,
		IdleBackoff: cfg.FlushIdleBackoff,
	})
	consumer := aggregate.NewConsumer(dbInstance, store, aggregate.Config{BatchSize: cfg.AggregateBatch})
	qrCache := qr.NewCache(store, objects, repo.NewQRRepo(dbInstance), qr.NewRenderer())

	log.Info().
		Str("intake_delivery", string(intake.Delivery)).
		Str("flush_delivery", string(flush.Delivery)).
		Int("intake_shards", cfg.IntakeShards).
		Msg("pipelines configured")

	e := echo.New()
	defer e.Close()

	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = customErrorHandler

	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	userMiddleware := auth.NewUserMiddleware(cfg.JWTSecret)
	schedulerMiddleware := auth.NewSchedulerMiddleware(auth.SchedulerConfig{
		JWTSecret:    cfg.SchedulerSecret,
		HeaderSecret: cfg.SchedulerSecret,
		QuerySecret:  cfg.CronSecret,
	})

	authHandler := handler.NewAuthHandler()
	e.GET("/logout", authHandler.Logout)

	api := e.Group("/api")
	api.Use(userMiddleware)

	api.GET("/me", authHandler.Me)

	linksRepo := repo.NewLinksRepo(dbInstance)
	linkHandler := handler.NewLinkHandler(linksRepo, tracker)
	api.GET("/links", linkHandler.ListLinks)

	entityHandler := handler.NewEntityHandler(queue, repo.NewEntitiesRepo(dbInstance))
	api.POST("/entities/:kind", entityHandler.Create)
	api.GET("/entities", entityHandler.ListOrder)

	qrHandler := handler.NewQRHandler(qrCache)
	api.POST("/qr", qrHandler.Resolve)
	api.GET("/qr", qrHandler.Export)
	api.DELETE("/qr", qrHandler.ClearAll)

	triggers := handler.NewTriggerHandler(flusher, consumer, partitions, intakeWorker)
	jobs := e.Group("/internal", schedulerMiddleware)
	jobs.POST("/flush", triggers.Flush)
	jobs.POST("/consume-logs", triggers.ConsumeLogs)
	jobs.POST("/partitions", triggers.EnsurePartitions)
	jobs.POST("/intake", triggers.DrainIntake)

	e.POST("/track/view/:subjectID", handler.NewTrackHandler(tracker).View)

	if cfg.S3Bucket == "" {
		log.Info().Str("dir", cfg.AssetDir).Msg("serving assets from disk")
		e.Static(storage.AssetsPrefix, cfg.AssetDir)
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	// Parameterized route (must be last)
	e.GET("/:slug", linkHandler.Redirect)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.RunWorkers {
		log.Info().Msg("starting background workers")
		g.Go(func() error { partitions.Run(gctx, time.Hour); return nil })
		g.Go(func() error { intakeWorker.Run(gctx, cfg.IntakeInterval); return nil })
		g.Go(func() error { flusher.Run(gctx, cfg.FlushInterval); return nil })
		g.Go(func() error { consumer.Run(gctx, cfg.AggregateInterval); return nil })
	}

	log.Info().Str("address", cfg.Port).Msg("server starting")

	// Run server and handle graceful shutdown
	runServer(ctx, e, cfg.Port)

	return g.Wait()
}

func newStore(ctx context.Context, cfg Config, database *db.DB) (kv.Store, error) {
	if cfg.RedisURL == "" {
		log.Info().Msg("using database-backed key-value store")
		return kv.NewSQLStore(database), nil
	}

	store, err := kv.NewRedisStoreFromURL(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info().Msg("using redis key-value store")
	return store, nil
}

func newObjectStorage(ctx context.Context, cfg Config) (storage.ObjectStorage, error) {
	if cfg.S3Bucket == "" {
		local, err := storage.NewLocalStorage(cfg.AssetDir, cfg.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare asset dir: %w", err)
		}
		return local, nil
	}

	s3Storage, err := storage.NewS3Storage(ctx, cfg.S3Bucket, storage.S3Config{
		Region:        cfg.S3Region,
		Endpoint:      cfg.S3Endpoint,
		UsePathStyle:  cfg.S3Endpoint != "",
		PublicBaseURL: cfg.S3PublicURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up s3 storage: %w", err)
	}
	log.Info().Str("bucket", cfg.S3Bucket).Msg("storing assets in s3")
	return s3Storage, nil
}

func runServer(ctx context.Context, e *echo.Echo, port string) {
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- e.Start(":" + port)
	}()

	// Wait for context cancellation (Ctrl+C or SIGTERM)
	<-ctx.Done()

	log.Info().Msg("shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during graceful shutdown")
	}

	if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("server stopped")
}

func customErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	message := "internal server error"

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
		if msg, ok := httpErr.Message.(string); ok {
			message = msg
		}
	}

	event := log.Warn()
	if code >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.
		Int("code", code).
		Str("method", c.Request().Method).
		Str("path", c.Request().URL.Path).
		Err(err).
		Msg("http error")

	if c.Response().Committed {
		return
	}

	if strings.HasPrefix(c.Path(), "/internal/") && code == http.StatusUnauthorized {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer realm="scheduler"`)
	}

	c.JSON(code, map[string]any{
		"error": message,
	})
}
