package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	arkmodel "github.com/cloudwego/eino-ext/components/model/ark"
	milvusclient "github.com/milvus-io/milvus-sdk-go/v2/client"

	"github.com/chongs12/contextual-kb/internal/common/models"
	"github.com/chongs12/contextual-kb/internal/embedding"
	"github.com/chongs12/contextual-kb/internal/ingest"
	"github.com/chongs12/contextual-kb/internal/pacing"
	"github.com/chongs12/contextual-kb/internal/vector"
	"github.com/chongs12/contextual-kb/pkg/config"
	"github.com/chongs12/contextual-kb/pkg/database"
	"github.com/chongs12/contextual-kb/pkg/logger"
	"github.com/chongs12/contextual-kb/pkg/metrics"
	"github.com/chongs12/contextual-kb/pkg/rabbitmq"
	"github.com/chongs12/contextual-kb/pkg/tracing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// 文件功能：摄取 worker，消费队列任务，执行 分块→扩写→嵌入→索引 全流程

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init()
	logger.Info(ctx, "Starting ingest worker", "service", "worker", "environment", cfg.Server.Mode)

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
		shutdown, err := tracing.InitTracer("ingest-worker", cfg.Tracing.OTLPEndpoint)
		if err != nil {
			logger.Error(ctx, "Failed to init tracer", "error", err.Error())
			os.Exit(1)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
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
	if err := store.EnsureCollection(ctx, cfg.Ingest.ResetCollection); err != nil {
		logger.Error(ctx, "Failed to ensure collection", "error", err.Error())
		os.Exit(1)
	}
	_ = store.LogDiagnostics(ctx)

	chatModel, err := arkmodel.NewChatModel(ctx, &arkmodel.ChatModelConfig{
		APIKey:  cfg.Ark.APIKey,
		Model:   cfg.Ark.Model,
		BaseURL: cfg.Ark.BaseURL,
		Region:  cfg.Ark.Region,
	})
	if err != nil {
		logger.Error(ctx, "Failed to initialize Ark ChatModel", "error", err.Error())
		os.Exit(1)
	}

	counter, err := ingest.NewTokenCounter()
	if err != nil {
		logger.Error(ctx, "Failed to load tokenizer", "error", err.Error())
		os.Exit(1)
	}
	pacer, err := pacing.FromConfig(&cfg.Ingest)
	if err != nil {
		logger.Error(ctx, "Invalid pacing config", "error", err.Error())
		os.Exit(1)
	}

	biz := metrics.NewBusinessMetrics(metrics.DefaultRegistry(), "ckb")
	chunker := ingest.NewChunker(counter, cfg.Ingest.MaxTokens)
	expander := ingest.NewExpander(chatModel, pacer, cfg.Ingest.Window, cfg.Ingest.GenerationTimeout, biz)
	pipeline := ingest.NewPipeline(db, chunker, expander, store, biz)
	worker := ingest.NewWorker(mq, pipeline)

	// worker 不挂业务路由，只暴露指标与健康检查
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.MetricsHandler(metrics.DefaultRegistry()))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"worker"}`))
	})
	port := os.Getenv("CKB_WORKER_PORT")
	if port == "" {
		port = "9090"
	}
	srv := &http.Server{Addr: fmt.Sprintf(":%s", port), Handler: mux}
	go func() {
		logger.Info(ctx, "Starting metrics server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "Failed to start metrics server", "error", err.Error())
		}
	}()

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error(ctx, "Worker stopped with error", "error", err.Error())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Metrics server forced to shutdown", "error", err.Error())
	}
	logger.Info(ctx, "Worker exited")
}
