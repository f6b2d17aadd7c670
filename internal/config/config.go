// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	VectorStore   VectorStoreConfig   `mapstructure:"vector_store"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	Stream        StreamConfig        `mapstructure:"stream"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// StageTTL 是文档阶段缓存的过期时间，0 表示不启用缓存。
	StageTTL time.Duration `mapstructure:"stage_ttl"`
}

// JWTConfig 存储 JWT 相关的配置。token 由外部认证服务签发，这里只做校验。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL   string        `mapstructure:"server_url"`
	OCRLanguage string        `mapstructure:"ocr_language"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// PostgresConfig 存储 pgvector 后端使用的 PostgreSQL 连接配置。
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	BatchSize  int    `mapstructure:"batch_size"`
}

// VectorStoreConfig 选择向量索引后端：elasticsearch 或 pgvector。
type VectorStoreConfig struct {
	Backend string `mapstructure:"backend"`
}

// IngestConfig 存储文档抽取流水线相关的配置。
type IngestConfig struct {
	MaxUploadBytes     int64         `mapstructure:"max_upload_bytes"`
	MinMeaningfulChars int           `mapstructure:"min_meaningful_chars"`
	MinAlnumPerPage    int           `mapstructure:"min_alnum_per_page"`
	MinAlnumRatio      float64       `mapstructure:"min_alnum_ratio"`
	ChunkSize          int           `mapstructure:"chunk_size"`
	ChunkOverlap       int           `mapstructure:"chunk_overlap"`
	WorkerPoolSize     int           `mapstructure:"worker_pool_size"`
	JobTimeout         time.Duration `mapstructure:"job_timeout"`
	Dispatch           string        `mapstructure:"dispatch"`
	PrimaryExtractor   string        `mapstructure:"primary_extractor"`
	RecoverOnStart     bool          `mapstructure:"recover_on_start"`
}

// StreamConfig 存储实时进度推送相关的配置。
type StreamConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	BufferSize        int           `mapstructure:"buffer_size"`
}

// Load 从指定路径读取 YAML 配置，环境变量 STUDYFORGE_* 可覆盖同名配置项。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("STUDYFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回只包含默认值的配置，测试中使用。
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("database.redis.stage_ttl", 10*time.Minute)
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("kafka.topic", "document-ingest")
	v.SetDefault("kafka.group_id", "studyforge-ingest")
	v.SetDefault("tika.server_url", "http://localhost:9998")
	v.SetDefault("tika.ocr_language", "eng")
	v.SetDefault("tika.timeout", 2*time.Minute)
	v.SetDefault("elasticsearch.index_name", "document_chunks")
	v.SetDefault("postgres.table", "document_chunks")
	v.SetDefault("minio.bucket_name", "uploads")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.batch_size", 16)
	v.SetDefault("vector_store.backend", "elasticsearch")

	v.SetDefault("ingest.max_upload_bytes", int64(100<<20))
	v.SetDefault("ingest.min_meaningful_chars", 100)
	v.SetDefault("ingest.min_alnum_per_page", 20)
	v.SetDefault("ingest.min_alnum_ratio", 0.3)
	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("ingest.chunk_overlap", 200)
	v.SetDefault("ingest.worker_pool_size", 16)
	v.SetDefault("ingest.job_timeout", time.Duration(0))
	v.SetDefault("ingest.dispatch", "local")
	v.SetDefault("ingest.primary_extractor", "native")
	v.SetDefault("ingest.recover_on_start", true)

	v.SetDefault("stream.heartbeat_interval", 30*time.Second)
	v.SetDefault("stream.buffer_size", 64)
}

// Validate 检查互相依赖的配置项。
func (c *Config) Validate() error {
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size 必须大于 0")
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap 必须在 [0, chunk_size) 之间")
	}
	if c.Ingest.MaxUploadBytes <= 0 {
		return fmt.Errorf("ingest.max_upload_bytes 必须大于 0")
	}
	switch c.Ingest.Dispatch {
	case "local", "kafka":
	default:
		return fmt.Errorf("未知的 ingest.dispatch: %q", c.Ingest.Dispatch)
	}
	switch c.Ingest.PrimaryExtractor {
	case "native", "docconv", "tika":
	default:
		return fmt.Errorf("未知的 ingest.primary_extractor: %q", c.Ingest.PrimaryExtractor)
	}
	switch c.VectorStore.Backend {
	case "elasticsearch", "pgvector":
	default:
		return fmt.Errorf("未知的 vector_store.backend: %q", c.VectorStore.Backend)
	}
	if c.Stream.HeartbeatInterval <= 0 {
		return fmt.Errorf("stream.heartbeat_interval 必须大于 0")
	}
	return nil
}
