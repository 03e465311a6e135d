package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "assetflow/api/swagger" // swagger docs
	"assetflow/internal/config"
	"assetflow/internal/database"
	"assetflow/internal/handler"
	"assetflow/internal/middleware"
	"assetflow/internal/notify"
	"assetflow/internal/policy"
	"assetflow/internal/repository"
	"assetflow/internal/service"
	"assetflow/internal/storage"
	"assetflow/internal/websocket"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, websocket hub and notification worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, log)
	},
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	gin.SetMode(cfg.Server.Mode)

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
		}); err != nil {
			log.Error("sentry init failed", zap.Error(err))
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	db, err := database.NewConnection(cfg.Database, log)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	log.Info("connected to PostgreSQL")

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	queue, err := newQueue(ctx, cfg.Notify)
	if err != nil {
		return err
	}
	defer queue.Close()

	var sender notify.Sender
	if cfg.Mail.Configured() {
		sender = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.Mail.Server,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.DefaultSender,
		})
	} else {
		log.Warn("mail is not configured, email notifications will be skipped")
	}

	hub := websocket.NewHub(log)
	dispatcher := notify.NewDispatcher(queue, sender, hub, log, notify.Options{
		MaxAttempts:  cfg.Notify.MaxAttempts,
		RetryBackoff: cfg.Notify.RetryBackoff,
	})

	auth := middleware.NewAuth(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Server.Mode == gin.ReleaseMode)
	router := newRouter(cfg, log, db, store, dispatcher, hub, auth)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return dispatcher.Run(gctx) })
	g.Go(func() error {
		log.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newRouter(
	cfg *config.Config,
	log *zap.Logger,
	db *gorm.DB,
	store storage.Store,
	publisher notify.Publisher,
	hub *websocket.Hub,
	auth *middleware.Auth,
) *gin.Engine {
	// Set up dependencies (Repository -> Service -> Handler)
	txManager := repository.NewTransactionManager(db)
	userRepo := repository.NewUserRepository(db)
	distributorRepo := repository.NewDistributorRepository(db)
	requestRepo := repository.NewAssetRequestRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	deps := service.WorkflowDeps{
		TxManager:       txManager,
		Requests:        requestRepo,
		Distributors:    distributorRepo,
		Users:           userRepo,
		Audit:           auditRepo,
		Photos:          storage.NewPhotos(store, cfg.Storage.MaxPhotoBytes),
		Policy:          policy.New(policy.Options{AllowSelfApproval: cfg.Policy.AllowSelfApproval}),
		Notifier:        publisher,
		Log:             log,
		NotifyRequester: cfg.Notify.RequesterOnOutcome,
	}

	userHandler := handler.NewUserHandler(service.NewUserService(txManager, userRepo, distributorRepo, auditRepo, auth), auth)
	requestHandler := handler.NewAssetRequestHandler(
		service.NewAssetRequestService(deps),
		service.NewApprovalService(deps),
		service.NewDeploymentService(deps),
		service.NewExportService(requestRepo),
	)
	distributorHandler := handler.NewDistributorHandler(service.NewDistributorService(txManager, distributorRepo, userRepo, auditRepo))
	auditHandler := handler.NewAuditHandler(service.NewAuditService(auditRepo))
	uploadHandler := handler.NewUploadHandler(store)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept", "X-Request-ID"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.ExposeHeaders = []string{"Content-Disposition", "X-Request-ID"}
	router.Use(cors.New(corsConfig))
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws", "/uploads"})))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	router.GET("/health", func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	})

	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(hub, c, auth.ParseToken)
	})

	userHandler.RegisterRoutes(router.Group(""))
	router.GET("/uploads/:filename", auth.Authenticate(), uploadHandler.Serve)

	api := router.Group("/api", auth.Authenticate())
	requestHandler.RegisterRoutes(api)
	distributorHandler.RegisterRoutes(api)
	auditHandler.RegisterRoutes(api)

	return router
}

func newStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	if cfg.Driver == "minio" {
		store, err := storage.NewMinioStore(ctx, storage.MinioOptions{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to minio: %w", err)
		}
		return store, nil
	}
	store, err := storage.NewLocalStore(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare upload dir: %w", err)
	}
	return store, nil
}

func newQueue(ctx context.Context, cfg config.NotifyConfig) (notify.Queue, error) {
	if cfg.Queue == "redis" {
		q, err := notify.NewRedisQueue(ctx, notify.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return q, nil
	}
	return notify.NewMemoryQueue(cfg.QueueSize), nil
}
