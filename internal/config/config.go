package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	AI         AIConfig         `mapstructure:"ai" validate:"required"`
	Knowledge  KnowledgeConfig  `mapstructure:"knowledge" validate:"required"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"port" validate:"required"`
	Env            string        `mapstructure:"env" validate:"required,oneof=development staging production"`
	SessionIdleTTL time.Duration `mapstructure:"session_idle_ttl" validate:"gte=0"`
	// RateLimit 每个客户端每分钟的提问数，0表示不限流
	RateLimit int `mapstructure:"rate_limit" validate:"gte=0"`
}

// RedisConfig 查询向量缓存
type RedisConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Host    string        `mapstructure:"host" validate:"required_if=Enabled true"`
	Port    string        `mapstructure:"port"`
	DB      int           `mapstructure:"db" validate:"gte=0"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// AIConfig 生成模型配置
type AIConfig struct {
	OpenAIAPIKey      string        `mapstructure:"openai_api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	ChatModel         string        `mapstructure:"chat_model" validate:"required"`
	Temperature       float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=0"`
	GenerationTimeout time.Duration `mapstructure:"generation_timeout" validate:"gt=0"`
	BreakerFailures   int           `mapstructure:"breaker_failures" validate:"gt=0"`
	BreakerCooldown   time.Duration `mapstructure:"breaker_cooldown"`
}

// KnowledgeConfig 知识库配置
type KnowledgeConfig struct {
	DocumentPath       string              `mapstructure:"document_path" validate:"required"`
	IndexPath          string              `mapstructure:"index_path" validate:"required"`
	ChunkSize          int                 `mapstructure:"chunk_size" validate:"gt=0"`
	ChunkOverlap       int                 `mapstructure:"chunk_overlap" validate:"gte=0"`
	TopK               int                 `mapstructure:"top_k" validate:"gt=0"`
	EmbeddingBatchSize int                 `mapstructure:"embedding_batch_size" validate:"gt=0"`
	TemplatesPath      string              `mapstructure:"templates_path"`
	WatchDocuments     bool                `mapstructure:"watch_documents"`
	WatchDebounce      time.Duration       `mapstructure:"watch_debounce"`
	Embedding          EmbeddingConfig     `mapstructure:"embedding"`
	Index              IndexConfig         `mapstructure:"index"`
	Storage            ObjectStorageConfig `mapstructure:"storage"`
}

// EmbeddingConfig 向量模型配置
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider" validate:"required,oneof=openai hash"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions" validate:"gte=0"`
}

// IndexConfig 索引选择参数
type IndexConfig struct {
	FlatThreshold   int `mapstructure:"flat_threshold" validate:"gt=0"`
	MaxClusters     int `mapstructure:"max_clusters" validate:"gt=0"`
	TrainIterations int `mapstructure:"train_iterations" validate:"gt=0"`
	NProbe          int `mapstructure:"nprobe" validate:"gt=0"`
}

// ObjectStorageConfig 索引镜像存储
type ObjectStorageConfig struct {
	Provider  string `mapstructure:"provider" validate:"oneof=local minio"`
	Endpoint  string `mapstructure:"endpoint" validate:"required_if=Provider minio"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket" validate:"required_if=Provider minio"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Prefix    string `mapstructure:"prefix"`
}

var AppConfig *Config

// ConfigLoader 配置加载器
type ConfigLoader struct {
	viper     *viper.Viper
	validator *validator.Validate
}

// NewConfigLoader 创建配置加载器
func NewConfigLoader() *ConfigLoader {
	v := viper.New()
	v.SetEnvPrefix("AIHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &ConfigLoader{
		viper:     v,
		validator: validator.New(),
	}
}

// Load 从默认值、环境变量和配置文件加载配置
func (cl *ConfigLoader) Load() (*Config, error) {
	cl.setDefaults()

	if configFile := os.Getenv("CONFIG_FILE"); configFile != "" {
		cl.viper.SetConfigFile(configFile)
		if err := cl.viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := cl.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 兼容未加前缀的OpenAI密钥
	if cfg.AI.OpenAIAPIKey == "" {
		cfg.AI.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Server.Env == "" {
		cfg.Server.Env = "development"
	}

	if err := cl.validator.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if cfg.Knowledge.ChunkOverlap >= cfg.Knowledge.ChunkSize {
		return nil, fmt.Errorf("configuration validation failed: chunk_overlap (%d) must be smaller than chunk_size (%d)",
			cfg.Knowledge.ChunkOverlap, cfg.Knowledge.ChunkSize)
	}
	if cfg.Knowledge.Embedding.Provider == "openai" && cfg.AI.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("configuration validation failed: openai embedding provider requires an API key")
	}

	return &cfg, nil
}

// setDefaults 设置默认值
func (cl *ConfigLoader) setDefaults() {
	v := cl.viper

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", os.Getenv("ENV"))
	v.SetDefault("server.session_idle_ttl", "2h")
	v.SetDefault("server.rate_limit", 30)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "24h")

	v.SetDefault("prometheus.enabled", true)
	v.SetDefault("prometheus.path", "/metrics")

	v.SetDefault("ai.openai_api_key", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.chat_model", "gpt-3.5-turbo")
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.max_retries", 2)
	v.SetDefault("ai.generation_timeout", "30s")
	v.SetDefault("ai.breaker_failures", 5)
	v.SetDefault("ai.breaker_cooldown", "30s")

	v.SetDefault("knowledge.document_path", "data/policy_documents.pdf")
	v.SetDefault("knowledge.index_path", "faiss_index")
	v.SetDefault("knowledge.chunk_size", 300)
	v.SetDefault("knowledge.chunk_overlap", 50)
	v.SetDefault("knowledge.top_k", 5)
	v.SetDefault("knowledge.embedding_batch_size", 32)
	v.SetDefault("knowledge.templates_path", "")
	v.SetDefault("knowledge.watch_documents", false)
	v.SetDefault("knowledge.watch_debounce", "2s")

	v.SetDefault("knowledge.embedding.provider", "hash")
	v.SetDefault("knowledge.embedding.model", "text-embedding-3-small")
	v.SetDefault("knowledge.embedding.dimensions", 0)

	v.SetDefault("knowledge.index.flat_threshold", 1000)
	v.SetDefault("knowledge.index.max_clusters", 100)
	v.SetDefault("knowledge.index.train_iterations", 20)
	v.SetDefault("knowledge.index.nprobe", 1)

	v.SetDefault("knowledge.storage.provider", "local")
	v.SetDefault("knowledge.storage.endpoint", "")
	v.SetDefault("knowledge.storage.access_key", "")
	v.SetDefault("knowledge.storage.secret_key", "")
	v.SetDefault("knowledge.storage.bucket", "policy-index")
	v.SetDefault("knowledge.storage.use_ssl", false)
	v.SetDefault("knowledge.storage.prefix", "knowledge")
}

// LoadConfig 加载配置到全局AppConfig
func LoadConfig() error {
	cfg, err := NewConfigLoader().Load()
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

// GetAppConfig 获取全局配置，未加载时按默认值加载
func GetAppConfig() *Config {
	if AppConfig == nil {
		if err := LoadConfig(); err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	}
	return AppConfig
}
