package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DefaultDir 默认配置目录
const DefaultDir = "configs"

type Config struct {
	Server     ServerConfig
	Log        LogConfig `mapstructure:"log"`
	Database   DatabaseConfig
	JWT        JWTConfig
	Storage    StorageConfig
	Tracing    TracingConfig `mapstructure:"tracing"`
	Redis      RedisConfig
	CORS       CORSConfig       `mapstructure:"cors"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Scheduling SchedulingConfig `mapstructure:"scheduling"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool   `mapstructure:"-"`
	MigrateOnly  bool   `mapstructure:"-"`
	ConfigDir    string `mapstructure:"-"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests" validate:"gte=1"`
	WindowMinutes int `mapstructure:"window_minutes" validate:"gte=1"`
}

type ServerConfig struct {
	Port string
	Mode string `validate:"omitempty,oneof=debug release test"`
}

// LogConfig 日志级别为空时按 server.mode 决定
type LogConfig struct {
	Level      string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"gte=1"`
	MaxBackups int    `mapstructure:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

type DatabaseConfig struct {
	Driver    string `mapstructure:"driver" validate:"oneof=mysql sqlite"`
	DSN       string `mapstructure:"dsn"` // sqlite 文件路径或完整 DSN
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
	LogLevel  string `mapstructure:"log_level" validate:"omitempty,oneof=silent error warn info"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
}

type StorageConfig struct {
	Type          string `mapstructure:"type" validate:"omitempty,oneof=local minio oss"`
	LocalPath     string `mapstructure:"local_path"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
	OSSEndpoint   string `mapstructure:"oss_endpoint"`
	OSSAccessKey  string `mapstructure:"oss_access_key"`
	OSSSecretKey  string `mapstructure:"oss_secret_key"`
	OSSBucket     string `mapstructure:"oss_bucket"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Host     string
	Port     int
	Password string
	DB       int
}

// SchedulingConfig 学习计划与预测模型相关参数，支持热更新
type SchedulingConfig struct {
	HistoryWindow       int     `mapstructure:"history_window" validate:"gte=10"`
	MinTrainingRows     int     `mapstructure:"min_training_rows" validate:"gte=1"`
	TrustedHistoryRows  int     `mapstructure:"trusted_history_rows" validate:"gte=1"`
	TrainingEpochs      int     `mapstructure:"training_epochs" validate:"gte=1"`
	BaselineEpochs      int     `mapstructure:"baseline_epochs" validate:"gte=1"`
	BatchSize           int     `mapstructure:"batch_size" validate:"gte=1"`
	LearningRate        float64 `mapstructure:"learning_rate" validate:"gt=0,lt=1"`
	Seed                int64   `mapstructure:"seed"`
	LessonHours         float64 `mapstructure:"lesson_hours" validate:"gt=0"`
	DefaultWeeklyHours  float64 `mapstructure:"default_weekly_hours" validate:"gt=0"`
	DefaultPassingScore int     `mapstructure:"default_passing_score" validate:"gte=0,lte=100"`
	SubmissionWindow    int     `mapstructure:"submission_window" validate:"gte=1"`
	ReviewOffsetMinutes int     `mapstructure:"review_offset_minutes" validate:"gte=1"`
	GlobalFetchAttempts uint    `mapstructure:"global_fetch_attempts" validate:"gte=1"`
	MaxEngines          int     `mapstructure:"max_engines" validate:"gte=1"`
	EngineIdleMinutes   int     `mapstructure:"engine_idle_minutes" validate:"gte=1"`
}

// DefaultSchedulingConfig 返回调度核心的默认参数
func DefaultSchedulingConfig() SchedulingConfig {
	return SchedulingConfig{
		HistoryWindow:       500,
		MinTrainingRows:     10,
		TrustedHistoryRows:  50,
		TrainingEpochs:      60,
		BaselineEpochs:      150,
		BatchSize:           16,
		LearningRate:        0.01,
		Seed:                42,
		LessonHours:         0.5,
		DefaultWeeklyHours:  5,
		DefaultPassingScore: 80,
		SubmissionWindow:    10,
		ReviewOffsetMinutes: 30,
		GlobalFetchAttempts: 2,
		MaxEngines:          10000,
		EngineIdleMinutes:   30,
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultSchedulingConfig()
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("log.file", "logs/skillchain.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.parsetime", true)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "uploads")
	v.SetDefault("rate_limit.max_requests", 600)
	v.SetDefault("rate_limit.window_minutes", 1)
	v.SetDefault("jwt.expire_hours", 72)

	v.SetDefault("scheduling.history_window", d.HistoryWindow)
	v.SetDefault("scheduling.min_training_rows", d.MinTrainingRows)
	v.SetDefault("scheduling.trusted_history_rows", d.TrustedHistoryRows)
	v.SetDefault("scheduling.training_epochs", d.TrainingEpochs)
	v.SetDefault("scheduling.baseline_epochs", d.BaselineEpochs)
	v.SetDefault("scheduling.batch_size", d.BatchSize)
	v.SetDefault("scheduling.learning_rate", d.LearningRate)
	v.SetDefault("scheduling.seed", d.Seed)
	v.SetDefault("scheduling.lesson_hours", d.LessonHours)
	v.SetDefault("scheduling.default_weekly_hours", d.DefaultWeeklyHours)
	v.SetDefault("scheduling.default_passing_score", d.DefaultPassingScore)
	v.SetDefault("scheduling.submission_window", d.SubmissionWindow)
	v.SetDefault("scheduling.review_offset_minutes", d.ReviewOffsetMinutes)
	v.SetDefault("scheduling.global_fetch_attempts", d.GlobalFetchAttempts)
	v.SetDefault("scheduling.max_engines", d.MaxEngines)
	v.SetDefault("scheduling.engine_idle_minutes", d.EngineIdleMinutes)
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("SKILLCHAIN")
	v.AutomaticEnv()

	setDefaults(v)

	// Database
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.dsn", "DATABASE_DSN")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")
	v.BindEnv("server.port", "SERVER_PORT")

	// Storage
	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.oss_endpoint", "OSS_ENDPOINT")
	v.BindEnv("storage.oss_access_key", "OSS_ACCESS_KEY")
	v.BindEnv("storage.oss_secret_key", "OSS_SECRET_KEY")
	v.BindEnv("storage.oss_bucket", "OSS_BUCKET")
	v.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	v.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	v.BindEnv("storage.minio_bucket", "MINIO_BUCKET")

	// Log
	v.BindEnv("log.level", "LOG_LEVEL")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration format: %w", err)
	}

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour
	cfg.ConfigDir = path

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	// 生产环境校验 JWT Secret 强度
	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	if cfg.Storage.Type == "local" {
		if _, err := os.Stat(cfg.Storage.LocalPath); os.IsNotExist(err) {
			os.MkdirAll(cfg.Storage.LocalPath, 0755)
		}
	}

	return &cfg, nil
}

var validate = validator.New()

// Validate 校验配置项取值范围
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
