package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"crmsync/internal/auth"
	"crmsync/internal/client/crm"
	"crmsync/internal/config"
	"crmsync/internal/coord"
	cronrunner "crmsync/internal/cron"
	"crmsync/internal/db"
	"crmsync/internal/handler"
	"crmsync/internal/lock"
	"crmsync/internal/logger"
	"crmsync/internal/notify"
	"crmsync/internal/paas"
	"crmsync/internal/ratelimit"
	gormrepository "crmsync/internal/repository/gorm"
	"crmsync/internal/service"
	"crmsync/internal/strategy"
	"crmsync/internal/webhook"
	"crmsync/internal/worker"

	_ "crmsync/docs"
)

func main() {
	cfgPath := os.Getenv("CRMSYNC_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("CRMSYNC_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	coordStore, redisStore := initCoord(cfg.Redis, logger)
	if redisStore != nil {
		defer redisStore.Close()
	}

	crmClient := crm.NewClient(&http.Client{Timeout: cfg.CRM.Timeout}, cfg.CRM.BaseURL, cfg.CRM.Token)
	crmClient.Rate = &ratelimit.RateLimiter{
		Store:  coordStore,
		Key:    "crm:rate",
		Limit:  cfg.Limiter.Calls,
		Window: cfg.Limiter.Window,
	}
	crmClient.Conns = &ratelimit.ConnectionLimiter{
		Store:    coordStore,
		Key:      "crm:conns",
		Max:      cfg.Limiter.MaxConnections,
		LeaseTTL: cfg.Limiter.LeaseTTL,
		Poll:     cfg.Limiter.PollInterval,
	}

	store := gormrepository.New(dbConn.Gorm)
	registry, err := strategy.Build(cfg.Sync.Strategies, strategy.Deps{
		DB:         dbConn.Gorm,
		API:        crmClient,
		PageSize:   cfg.CRM.PageSize,
		Partitions: cfg.Sync.Partitions,
	})
	if err != nil {
		logger.Fatal("build strategies failed", zap.Error(err))
	}

	paasClient := initPaaSClient(cfg.Notify, logger)
	notifiers := notify.Multi{}
	if u := strings.TrimSpace(cfg.Notify.WebhookURL); u != "" {
		notifiers = append(notifiers, notify.WebhookNotifier{URL: u, HTTP: &http.Client{Timeout: cfg.Notify.Timeout}})
	}
	if paasClient != nil {
		notifiers = append(notifiers, paas.Notifier{Client: paasClient})
	}

	pool := worker.NewPool(cfg.Workers.QueueSize, logger)
	pool.Start(cfg.Workers.Count)
	defer pool.Stop()

	errorSvc := &service.SyncErrorService{
		Repo:      store,
		Notifier:  notifiers,
		Logger:    logger,
		Retention: cfg.Errors.Retention,
	}
	runner := &service.StrategyRunner{
		Positions:      store,
		Errors:         errorSvc,
		Logger:         logger,
		MaxPages:       cfg.Sync.MaxPages,
		PushBatchSize:  cfg.Sync.PushBatchSize,
		MaxPushBatches: cfg.Sync.MaxPushBatches,
	}
	hostname, _ := os.Hostname()
	runs := &service.RunRecorder{Repo: store}
	touchSvc := &service.TouchService{Registry: registry}
	syncSvc := &service.DataSyncService{
		Registry: registry,
		Runner:   runner,
		Status: &service.StatusTracker{
			Repo:  store,
			Owner: hostname,
			TTL:   cfg.Sync.StatusTTL,
		},
		Runs:        runs,
		Errors:      store,
		Workers:     pool,
		Logger:      logger,
		Concurrency: cfg.Sync.StrategyConcurrency,
	}

	kinds := map[string]string{}
	types := map[string]string{}
	for _, st := range registry.All() {
		kinds[st.EntityType()] = st.EntityType()
		types[st.Name()] = st.EntityType()
	}
	hooks := webhook.NewRegistry(
		webhook.EntityChangeHandler{Touch: touchSvc, Kinds: kinds},
		webhook.RelationHandler{Touch: touchSvc, Resolver: crmClient, Types: types},
	)
	ingestSvc := &service.WebhookIngestService{
		Repo:        store,
		Handlers:    hooks,
		Workers:     pool,
		Logger:      logger,
		StaleAfter:  cfg.Webhook.StaleAfter,
		MaxAttempts: cfg.Webhook.MaxAttempts,
		DrainBatch:  cfg.Webhook.DrainBatch,
	}
	subscriptionSvc := &service.SubscriptionService{
		Repo:          store,
		API:           crmClient,
		Logger:        logger,
		PublicBaseURL: cfg.Webhook.PublicBaseURL,
		Events:        cfg.Webhook.Events,
		RotationGrace: cfg.Webhook.RotationGrace,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if n, err := syncSvc.RecoverStale(ctx); err != nil {
		logger.Warn("recover stale runs failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("aborted stale runs", zap.Int("count", n))
	}

	cronRunner := cronrunner.New(logger, ctx)
	scheduler := &cronrunner.SyncScheduler{
		Sync:       syncSvc,
		Locker:     &lock.Locker{Store: coordStore},
		Logger:     logger,
		Strategies: cfg.Sync.Strategies,
		LockTTL:    cfg.Sync.LockTTL,
		LockWait:   cfg.Sync.LockWait,
	}
	if cfg.Sync.Enabled {
		if err := scheduler.Register(cronRunner, cfg.Sync.FrequencyHours); err != nil {
			logger.Fatal("cron register data sync failed", zap.Error(err))
		}
		syncSvc.NextRun = scheduler.NextRun
	}
	if err := cronrunner.RegisterMaintenance(cronRunner, errorSvc, cfg.Errors.PurgeSchedule, ingestSvc, cfg.Webhook.DrainInterval); err != nil {
		logger.Fatal("cron register maintenance failed", zap.Error(err))
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	jwt := auth.JWT{Secret: []byte(cfg.Auth.JWTSecret), Issuer: cfg.Auth.Issuer}
	if !cfg.Auth.Disabled && len(jwt.Secret) == 0 {
		logger.Fatal("auth.jwt_secret is required unless auth.disabled is set")
	}
	engine.Use(auth.RequireBearer(jwt, cfg.Auth.Disabled))
	engine.Use(paas.WriteAuditMiddleware(paasClient, logger))

	health := &handler.HealthHandler{DB: dbConn.Gorm, Deps: map[string]handler.Pinger{}}
	if redisStore != nil {
		health.Deps["redis"] = redisStore
	}
	health.Register(engine)
	paas.RegisterDocs(engine)

	syncHandler := &handler.SyncHandler{
		Sync:      syncSvc,
		Runs:      runs,
		Positions: store,
		Stream:    handler.StreamConfig{Interval: 2 * time.Second},
	}
	syncHandler.Register(engine)
	errorHandler := &handler.SyncErrorHandler{Errors: errorSvc}
	errorHandler.Register(engine)
	subscriptionHandler := &handler.SubscriptionHandler{Subscriptions: subscriptionSvc}
	subscriptionHandler.Register(engine)
	webhookHandler := &handler.WebhookHandler{Ingest: ingestSvc, MaxBodyBytes: cfg.Webhook.MaxBodyBytes}
	webhookHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func initCoord(cfg config.RedisConfig, logger *zap.Logger) (coord.Store, *coord.RedisStore) {
	if strings.TrimSpace(cfg.Addr) == "" {
		logger.Warn("redis.addr empty; locks and limiter budgets are process-local")
		return coord.NewMemoryStore(), nil
	}
	rs := coord.NewRedisStore(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, cfg.KeyPrefix)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rs.Ping(ctx); err != nil {
		logger.Fatal("redis ping failed", zap.String("addr", cfg.Addr), zap.Error(err))
	}
	return rs, rs
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func initPaaSClient(cfg config.NotifyConfig, logger *zap.Logger) *paas.Client {
	base := strings.TrimSpace(cfg.PaaSBase)
	apiKey := strings.TrimSpace(cfg.PaaSAPIKey)
	if base == "" || apiKey == "" {
		return nil
	}

	p := &paas.Client{BaseURL: base, APIKey: apiKey, Agent: "crmsync"}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.Login(ctx); err != nil {
		logger.Warn("paas login failed (audit/notify disabled)", zap.Error(err))
		return nil
	}
	logger.Info("paas login ok")
	return p
}
