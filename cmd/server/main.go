// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"studyforge-go/internal/config"
	"studyforge-go/internal/handler"
	"studyforge-go/internal/middleware"
	"studyforge-go/internal/pipeline"
	"studyforge-go/internal/progress"
	"studyforge-go/internal/repository"
	"studyforge-go/internal/service"
	"studyforge-go/internal/stream"
	"studyforge-go/internal/vectorstore"
	"studyforge-go/pkg/chunk"
	"studyforge-go/pkg/database"
	"studyforge-go/pkg/embedding"
	"studyforge-go/pkg/es"
	"studyforge-go/pkg/extract"
	"studyforge-go/pkg/kafka"
	"studyforge-go/pkg/log"
	"studyforge-go/pkg/pgvector"
	"studyforge-go/pkg/storage"
	"studyforge-go/pkg/tika"
	"studyforge-go/pkg/token"
)

// 停机时等待进行中抽取任务的最长时间
const drainTimeout = 30 * time.Second

func main() {
	configPath := "./configs/config.yaml"
	if p := os.Getenv("STUDYFORGE_CONFIG"); p != "" {
		configPath = p
	}

	// 1. 初始化配置
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	if err := log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. 初始化数据库、Redis 和对象存储
	db, err := database.NewMySQL(cfg.Database.MySQL.DSN)
	if err != nil {
		log.Fatal("MySQL 初始化失败", err)
	}
	rdb, err := database.NewRedis(rootCtx, cfg.Database.Redis)
	if err != nil {
		log.Fatal("Redis 初始化失败", err)
	}
	defer rdb.Close()

	payloads, err := storage.NewMinIOStore(rootCtx, cfg.MinIO)
	if err != nil {
		log.Fatal("MinIO 初始化失败", err)
	}

	// 4. 初始化 Repository
	docRepo := repository.NewDocumentRepository(db)
	if cfg.Database.Redis.StageTTL > 0 {
		docRepo = repository.NewCachedDocumentRepository(docRepo, rdb, cfg.Database.Redis.StageTTL)
	}

	// 5. 初始化向量索引
	index, closeIndex, err := newVectorIndex(rootCtx, cfg)
	if err != nil {
		log.Fatal("向量索引初始化失败", err)
	}
	defer closeIndex()
	embeddingClient := embedding.NewClient(cfg.Embedding)
	vectors := vectorstore.NewStore(embeddingClient, index, cfg.Embedding.BatchSize)

	// 6. 初始化抽取流水线
	tikaClient := tika.NewClient(cfg.Tika)
	var primary extract.TextExtractor
	switch cfg.Ingest.PrimaryExtractor {
	case "docconv":
		primary = extract.NewDocconvExtractor()
	case "tika":
		primary = extract.NewRemoteExtractor(tikaClient)
	default:
		primary = extract.NewNativeExtractor()
	}
	chunker, err := chunk.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	if err != nil {
		log.Fatal("分块器初始化失败", err)
	}

	bus := progress.NewBus()
	registry := progress.NewRegistry()
	mux := stream.NewMultiplexer(bus, registry, cfg.Stream)

	processor := pipeline.NewProcessor(
		docRepo,
		primary,
		extract.NewPageSplitter(""),
		tikaClient,
		chunker,
		vectors,
		bus,
		cfg.Ingest,
	)
	worker, err := pipeline.NewWorker(processor, docRepo, payloads, cfg.Ingest.WorkerPoolSize)
	if err != nil {
		log.Fatal("Worker 初始化失败", err)
	}

	// 7. 选择派发方式：本地协程池或 Kafka
	var dispatcher service.Dispatcher = worker
	var producer *kafka.Producer
	if cfg.Ingest.Dispatch == "kafka" {
		producer = kafka.NewProducer(cfg.Kafka)
		dispatcher = producer
		go kafka.StartConsumer(rootCtx, cfg.Kafka, worker)
	}

	// 8. 初始化 Service
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	docService := service.NewDocumentService(docRepo, payloads, dispatcher, processor, vectors, registry, bus, chunker, cfg.Ingest)

	if cfg.Ingest.RecoverOnStart {
		report, err := docService.Recover(rootCtx)
		if err != nil {
			log.Errorf("启动恢复失败: %v", err)
		} else {
			log.Infof("启动恢复完成, 中断: %d, 重新派发: %d", report.Interrupted, report.Redispatched)
		}
	}

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	uploadHandler := handler.NewUploadHandler(docService, cfg.Ingest.MaxUploadBytes)
	documentHandler := handler.NewDocumentHandler(docService)
	searchHandler := handler.NewSearchHandler(docService)
	streamHandler := handler.NewStreamHandler(mux, jwtManager)
	adminHandler := handler.NewAdminHandler(docService, registry, mux)

	// 10. 注册路由
	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		documents := apiV1.Group("/documents")
		{
			documents.POST("", uploadHandler.Upload)
			documents.GET("", documentHandler.List)
			documents.GET("/:id", documentHandler.Get)
			documents.GET("/:id/status", documentHandler.Status)
			documents.PATCH("/:id/stage", documentHandler.UpdateStage)
			documents.POST("/:id/retry", uploadHandler.Retry)
			documents.DELETE("/:id", documentHandler.Delete)
			documents.GET("/:id/chunks", documentHandler.Chunks)
			documents.GET("/:id/search", searchHandler.Search)
		}

		apiV1.GET("/events/documents", streamHandler.Events)

		// 管理员路由组，需要额外通过管理员授权中间件
		admin := apiV1.Group("/admin")
		admin.Use(middleware.AdminAuthMiddleware())
		{
			admin.PUT("/documents/:id/stage", adminHandler.ForceStage)
			admin.POST("/documents/recover", adminHandler.Recover)
			admin.GET("/streams", adminHandler.Streams)
		}
	}
	r.GET("/ws/documents/:token", streamHandler.WebSocket)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 先关闭实时连接，否则 Shutdown 会一直等待长连接结束
	mux.Close()
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	if !worker.Wait(drainTimeout) {
		log.Warnf("等待抽取任务超时，剩余任务将在下次启动时恢复")
	}
	worker.Release()
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Warnf("关闭 Kafka 生产者失败: %v", err)
		}
	}
	log.Info("服务已优雅关闭")
}

// newVectorIndex 按配置创建向量索引后端，返回的 close 函数释放底层连接。
func newVectorIndex(ctx context.Context, cfg *config.Config) (vectorstore.Index, func(), error) {
	switch cfg.VectorStore.Backend {
	case "pgvector":
		pool, err := pgvector.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		store, err := pgvector.NewStore(pool, cfg.Postgres.Table, cfg.Embedding.Dimensions)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		client, err := es.NewClient(cfg.Elasticsearch)
		if err != nil {
			return nil, nil, err
		}
		index := es.NewIndex(client, cfg.Elasticsearch.IndexName, cfg.Embedding.Dimensions)
		if err := index.EnsureIndex(ctx); err != nil {
			return nil, nil, err
		}
		return index, func() {}, nil
	}
}
