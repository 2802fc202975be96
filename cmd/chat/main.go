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

	arkmodel "github.com/cloudwego/eino-ext/components/model/ark"
	milvusclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/redis/go-redis/v9"

	"github.com/chongs12/contextual-kb/internal/chat"
	"github.com/chongs12/contextual-kb/internal/common/models"
	"github.com/chongs12/contextual-kb/internal/embedding"
	"github.com/chongs12/contextual-kb/internal/vector"
	"github.com/chongs12/contextual-kb/pkg/config"
	"github.com/chongs12/contextual-kb/pkg/database"
	"github.com/chongs12/contextual-kb/pkg/logger"
	"github.com/chongs12/contextual-kb/pkg/metrics"
	"github.com/chongs12/contextual-kb/pkg/middleware"
	"github.com/chongs12/contextual-kb/pkg/tracing"
	"github.com/chongs12/contextual-kb/pkg/utils"
)

func main() {
	ctx := context.Background()
	// 文件功能：对话服务入口，初始化配置、数据库、Redis、Milvus 与 Ark ChatModel，注册路由

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init()
	logger.Info(ctx, "Starting chat service", "service", "chat", "environment", cfg.Server.Mode)

	db, err := database.Init(&cfg.Database)
	if err != nil {
		logger.Error(ctx, "Failed to initialize database", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()

	if err = db.AutoMigrate(&models.Query{}, &models.QuerySource{}); err != nil {
		logger.Error(ctx, "Failed to migrate database", "error", err.Error())
		os.Exit(1)
	}

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.InitTracer("chat-service", cfg.Tracing.OTLPEndpoint)
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

	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", cfg.Redis.Host, cfg.Redis.Port), Password: cfg.Redis.Password, DB: cfg.Redis.DB})

	mcli, err := milvusclient.NewClient(ctx, milvusclient.Config{
		Address:  cfg.Milvus.Addr,
		Username: cfg.Milvus.Username,
		Password: cfg.Milvus.Password,
	})
	if err != nil {
		logger.Error(ctx, "Failed to connect to Milvus", "error", err.Error())
		os.Exit(1)
	}
	defer mcli.Close()

	embedder, err := embedding.NewArkEmbedder(cfg.Ark.APIKey, cfg.Ark.EmbeddingModel, cfg.Ark.BaseURL, cfg.Ark.Region)
	if err != nil {
		logger.Error(ctx, "Failed to initialize embedder", "error", err.Error())
		os.Exit(1)
	}

	store, err := vector.NewMilvusStore(ctx, mcli, &cfg.Milvus, embedder, cfg.Chat.TopK, cfg.Chat.ScoreThreshold)
	if err != nil {
		logger.Error(ctx, "Failed to initialize vector store", "error", err.Error())
		os.Exit(1)
	}
	if err := store.EnsureCollection(ctx, false); err != nil {
		logger.Error(ctx, "Failed to ensure collection", "error", err.Error())
		os.Exit(1)
	}

	// 初始化 Ark ChatModel 作为 LLM
	chatModel, err := arkmodel.NewChatModel(ctx, &arkmodel.ChatModelConfig{
		APIKey:      cfg.Ark.APIKey,
		Model:       cfg.Ark.Model,
		BaseURL:     cfg.Ark.BaseURL,
		Region:      cfg.Ark.Region,
		MaxTokens:   &[]int{cfg.Chat.MaxTokens}[0],
		Temperature: &[]float32{cfg.Chat.Temperature}[0],
	})
	if err != nil {
		logger.Error(ctx, "Failed to initialize Ark ChatModel", "error", err.Error())
		os.Exit(1)
	}

	// 组装对话链与服务
	memory := chat.NewSessionStore()
	chain := chat.NewChain(chatModel, store, memory, cfg.Chat.RephraseEnabled, cfg.Chat.DegradeOnRetrievalError, cfg.Chat.GenerationTimeout)
	chatService := chat.NewService(chain, memory, db, rdb, cfg.Chat.CacheTTL)
	chatHandler := chat.NewHandler(chatService)

	jwtManager := utils.NewJWTManager(cfg.JWT.Secret, cfg.JWT.ExpireTime, cfg.JWT.Issuer)
	authMiddleware := middleware.NewAuthMiddleware(jwtManager, cfg.JWT.Enabled)
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware("chat-service"))
	hm := metrics.NewHTTPMetrics(metrics.DefaultRegistry(), "ckb", "chat")
	router.Use(metrics.MetricsMiddleware("chat", hm))
	router.GET("/metrics", gin.WrapH(metrics.MetricsHandler(metrics.DefaultRegistry())))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "chat", "timestamp": time.Now().Unix()})
	})

	chatHandler.SetupRoutes(router, authMiddleware)

	// 支持独立端口环境变量覆盖（CKB_CHAT_PORT）；为空时回退到通用 server.port
	port := os.Getenv("CKB_CHAT_PORT")
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
