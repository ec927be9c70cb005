package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // 确保在精简镜像中也能识别时区

	"github.com/joho/godotenv"
	"github.com/user/reelshelf/internal/config"
	"github.com/user/reelshelf/internal/handler"
	"github.com/user/reelshelf/internal/llm"
	"github.com/user/reelshelf/internal/logger"
	"github.com/user/reelshelf/internal/repository"
	"github.com/user/reelshelf/internal/router"
	"github.com/user/reelshelf/internal/service"
)

func main() {
	// 加载环境变量
	if err := godotenv.Load(); err != nil {
		log.Println("未找到 .env 文件，使用系统环境变量")
	}

	// 加载配置
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	logg, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logg.Sync()

	// 初始化数据库
	db, err := repository.InitDB(cfg.DatabaseURL)
	if err != nil {
		logg.Fatal("数据库连接失败", "error", err)
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	// 初始化仓库
	repos := repository.NewRepositories(db)

	client, err := buildLLM(cfg, logg)
	if err != nil {
		logg.Fatal("初始化 LLM 失败", "error", err)
	}

	var locker service.Locker
	switch cfg.LockBackend {
	case "memory":
		locker = repository.NewMemoryLocker()
	default:
		locker = repository.NewAdvisoryLocker(db)
	}

	// 初始化服务
	tagging := service.NewTaggingService(repos.Catalog, repos.Tag, locker, client, logg).WithAsyncLimit(cfg.TagAsyncLimit)
	profiles := service.NewTasteProfileService(repos.History, service.ProfileConfig{
		TopTags:   cfg.ProfileTopTags,
		TopTitles: cfg.ProfileTopTitles,
		HalfLife:  cfg.ProfileHalfLife,
	}, logg)
	grids := service.NewRecommendationService(repos.Recommendation, repos.Catalog, profiles, client, service.GridConfig{
		Size:      cfg.GridSize,
		Freshness: cfg.GridFreshness,
		Lookback:  cfg.GridLookback,
	}, logg)
	dimensions := service.NewDimensionService(repos.Dimension, repos.Catalog, client, cfg.EnrichConcurrency, logg)

	// 启动定时补全任务（默认关闭）
	job := service.NewEnrichmentJob(tagging, dimensions, service.EnrichmentConfig{
		Interval:     cfg.EnrichInterval,
		BatchSize:    cfg.EnrichBatchSize,
		ModelVersion: cfg.ModelVersion,
	}, logg)
	job.Start(context.Background())

	// 初始化 Handler 并注册路由
	h := handler.NewHandler(cfg, handler.Deps{
		Tagging:         tagging,
		Profiles:        profiles,
		Recommendations: grids,
		Dimensions:      dimensions,
		Items:           repos.Catalog,
		History:         repos.History,
		Exclusions:      repos.Exclusion,
	}, logg)
	r := router.NewEngine(cfg.Env, logg)
	router.RegisterRoutes(r, h)

	// LLM 调用可能较慢，写超时要覆盖一次完整的生成
	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   cfg.LLMTimeout + 30*time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// 在 goroutine 中启动服务器，这样我们就可以监听信号
	go func() {
		logg.Info("服务器启动", "addr", "http://localhost:"+cfg.Port, "llm_provider", cfg.LLMProvider, "model_version", cfg.ModelVersion)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("服务器启动失败", "error", err)
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logg.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logg.Error("服务器强制关闭", "error", err)
	}
	job.Stop()
	tagging.Wait()

	logg.Info("服务器已退出")
}

// buildLLM 按配置创建提供方，并包上限流和熔断
func buildLLM(cfg *config.Config, log *logger.Logger) (llm.Client, error) {
	var base llm.Client
	switch cfg.LLMProvider {
	case "gemini":
		base = llm.NewGemini(llm.GeminiConfig{
			APIKey:         cfg.GeminiAPIKey,
			Model:          cfg.GeminiModel,
			ConnectTimeout: cfg.LLMConnectTimeout,
			Timeout:        cfg.LLMTimeout,
			Temperature:    0.4,
		}, log)
	case "ollama":
		base = llm.NewOllama(llm.OllamaConfig{
			Host:           cfg.OllamaHost,
			Model:          cfg.OllamaChatModel,
			ConnectTimeout: cfg.LLMConnectTimeout,
			Timeout:        cfg.LLMTimeout,
		}, log)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.LLMProvider)
	}

	limited := llm.NewLimited(base, cfg.LLMRequestsPerMinute)
	return llm.NewBreaker(limited, cfg.LLMProvider, cfg.LLMBreakerMaxFailures, 30*time.Second, log), nil
}
