package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/chongs12/contextual-kb/internal/common/models"
	"github.com/chongs12/contextual-kb/internal/ingest"
	"github.com/chongs12/contextual-kb/pkg/config"
	"github.com/chongs12/contextual-kb/pkg/database"
	"github.com/chongs12/contextual-kb/pkg/logger"
	"github.com/chongs12/contextual-kb/pkg/metrics"
	"github.com/chongs12/contextual-kb/pkg/middleware"
	"github.com/chongs12/contextual-kb/pkg/rabbitmq"
	"github.com/chongs12/contextual-kb/pkg/tracing"
	"github.com/chongs12/contextual-kb/pkg/utils"
)

func main() {
	ctx := context.Background()
	// 文件功能：摄取入口服务，登记来源文件并投递任务队列，实际处理由 worker 完成

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init()
	logger.Info(ctx, "Starting ingest service", "service", "ingest", "environment", cfg.Server.Mode)

	db, err := database.Init(&cfg.Database)
	if err != nil {
		logger.Error(ctx, "Failed to initialize database", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	if err = db.AutoMigrate(&models.Document{}, &models.TextChunk{}); err != nil {
		logger.Error(ctx, "Failed to migrate database", "error", err.Error())
		os.Exit(1)
	}

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.InitTracer("ingest-service", cfg.Tracing.OTLPEndpoint)
		if err != nil {
			logger.Error(ctx, "Failed to init tracer", "error", err.Error())
			os.Exit(1)
		}
		defer func() {
			if err := shutdown(ctx); err != nil {
				logger.Error(ctx, "Failed to shutdown tracer", "error", err.Error())
			}
		}()
	}

	mq, err := rabbitmq.NewClient(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
	if err != nil {
		logger.Error(ctx, "Failed to connect to RabbitMQ", "error", err.Error())
		os.Exit(1)
	}
	defer mq.Close()

	ingestService := ingest.NewService(db, mq)
	ingestHandler := ingest.NewHandler(ingestService)

	jwtManager := utils.NewJWTManager(cfg.JWT.Secret, cfg.JWT.ExpireTime, cfg.JWT.Issuer)
	authMiddleware := middleware.NewAuthMiddleware(jwtManager, cfg.JWT.Enabled)
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware("ingest-service"))
	hm := metrics.NewHTTPMetrics(metrics.DefaultRegistry(), "ckb", "ingest")
	router.Use(metrics.MetricsMiddleware("ingest", hm))
	router.GET("/metrics", gin.WrapH(metrics.MetricsHandler(metrics.DefaultRegistry())))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "ingest", "timestamp": time.Now().Unix()})
	})

	group := router.Group("/api/v1/documents")
	group.Use(authMiddleware.RequireAuth())
	group.POST("", ingestHandler.RegisterDocument)
	group.POST("/directory", ingestHandler.RegisterDirectory)
	group.GET("", ingestHandler.ListDocuments)
	group.GET("/:id", ingestHandler.GetDocument)

	port := os.Getenv("CKB_INGEST_PORT")
	if port == "" {
		port = cfg.Server.Port
	}
	srv := &http.Server{Addr: fmt.Sprintf(":%s", port), Handler: router}
	go func() {
		logger.Info(ctx, "Starting HTTP server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "Failed to start server", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info(ctx, "Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Server forced to shutdown", "error", err.Error())
	}
	logger.Info(ctx, "Server exited")
}
