package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config 应用配置
type Config struct {
	Env         string `validate:"oneof=development production test"`
	Port        string `validate:"required,numeric"`
	DatabaseURL string `validate:"required"`

	// LLM 网关
	LLMProvider           string        `validate:"oneof=gemini ollama"`
	GeminiAPIKey          string        `validate:"required_if=LLMProvider gemini"`
	GeminiModel           string        `validate:"required"`
	OllamaHost            string        `validate:"required_if=LLMProvider ollama"`
	OllamaChatModel       string        `validate:"required_if=LLMProvider ollama"`
	LLMConnectTimeout     time.Duration `validate:"gt=0"`
	LLMTimeout            time.Duration `validate:"gt=0"`
	LLMRequestsPerMinute  int           `validate:"gte=0"`
	LLMBreakerMaxFailures int           `validate:"gte=0"`

	// 默认模型版本，只在 HTTP 边界处使用
	ModelVersion string `validate:"required,max=64"`
	LockBackend  string `validate:"oneof=postgres memory"`

	// 推荐网格
	GridSize      int           `validate:"gte=1,lte=24"`
	GridFreshness time.Duration `validate:"gt=0"`
	GridLookback  time.Duration `validate:"gt=0"`

	// 口味画像
	ProfileTopTags   int           `validate:"gte=1"`
	ProfileTopTitles int           `validate:"gte=1"`
	ProfileHalfLife  time.Duration `validate:"gte=0"`
	ProfileCacheTTL  time.Duration `validate:"gte=0"`

	// 后台补全任务（0 表示关闭）
	EnrichInterval    time.Duration `validate:"gte=0"`
	EnrichBatchSize   int           `validate:"gte=1"`
	EnrichConcurrency int           `validate:"gte=1,lte=16"`
	TagAsyncLimit     int           `validate:"gte=1,lte=16"` // 同时进行的异步打标数，需远小于连接池上限
}

// Load 加载配置
func Load() *Config {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		dbUser := getEnv("DB_USER", "postgres")
		dbPass := getEnv("DB_PASSWORD", "postgres")
		dbHost := getEnv("DB_HOST", "localhost")
		dbPort := getEnv("DB_PORT", "5432")
		dbName := getEnv("DB_NAME", "reelshelf")
		dbSSL := getEnv("DB_SSLMODE", "disable")
		dbURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			dbUser, dbPass, dbHost, dbPort, dbName, dbSSL)
	}

	return &Config{
		Env:         getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "5005"),
		DatabaseURL: dbURL,

		LLMProvider:           strings.ToLower(getEnv("LLM_PROVIDER", "gemini")),
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", ""),
		GeminiModel:           getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		OllamaHost:            getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OllamaChatModel:       getEnv("OLLAMA_CHAT_MODEL", "qwen2.5:7b"),
		LLMConnectTimeout:     getDuration("LLM_CONNECT_TIMEOUT", 5*time.Second),
		LLMTimeout:            getDuration("LLM_TIMEOUT", 60*time.Second),
		LLMRequestsPerMinute:  getInt("LLM_REQUESTS_PER_MINUTE", 30),
		LLMBreakerMaxFailures: getInt("LLM_BREAKER_FAILURES", 5),

		ModelVersion: getEnv("MODEL_VERSION", "v1"),
		LockBackend:  strings.ToLower(getEnv("LOCK_BACKEND", "postgres")),

		GridSize:      getInt("GRID_SIZE", 12),
		GridFreshness: getDuration("GRID_FRESHNESS", 7*24*time.Hour),
		GridLookback:  getDuration("GRID_LOOKBACK", 30*24*time.Hour),

		ProfileTopTags:   getInt("PROFILE_TOP_TAGS", 15),
		ProfileTopTitles: getInt("PROFILE_TOP_TITLES", 10),
		ProfileHalfLife:  getDuration("PROFILE_HALF_LIFE", 0),
		ProfileCacheTTL:  getDuration("PROFILE_CACHE_TTL", 5*time.Minute),

		EnrichInterval:    getDuration("ENRICH_INTERVAL", 0),
		EnrichBatchSize:   getInt("ENRICH_BATCH_SIZE", 20),
		EnrichConcurrency: getInt("ENRICH_CONCURRENCY", 2),
		TagAsyncLimit:     getInt("TAG_ASYNC_LIMIT", 4),
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(strings.TrimSpace(getEnv(key, "")))
	if err != nil {
		return defaultValue
	}
	return v
}

// getDuration 支持 "90s" 这类格式，也接受纯数字（按秒）
func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
