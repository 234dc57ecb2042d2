package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	StorageBackendMemory = "memory"
	StorageBackendMySQL  = "mysql"

	ArtifactsInline = "inline"
	ArtifactsMinIO  = "minio"

	DispatchInline = "inline"
	DispatchQueue  = "queue"
)

type Config struct {
	Server struct {
		Port         string   `yaml:"port" env:"SERVER_PORT"`
		AllowOrigins []string `yaml:"allow_origins" env:"SERVER_ALLOW_ORIGINS" envSeparator:","`
	} `yaml:"server"`
	MySQL struct {
		DSN string `yaml:"dsn" env:"MYSQL_DSN"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
	} `yaml:"redis"`
	MinIO struct {
		Endpoint  string        `yaml:"endpoint" env:"MINIO_ENDPOINT"`
		AccessKey string        `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
		SecretKey string        `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
		Bucket    string        `yaml:"bucket" env:"MINIO_BUCKET"`
		UseSSL    bool          `yaml:"use_ssl" env:"MINIO_USE_SSL"`
		URLExpiry time.Duration `yaml:"url_expiry" env:"MINIO_URL_EXPIRY"`
	} `yaml:"minio"`
	Gemini struct {
		APIKey          string        `yaml:"api_key" env:"GEMINI_API_KEY"`
		Endpoint        string        `yaml:"endpoint" env:"GEMINI_ENDPOINT"`
		TextModel       string        `yaml:"text_model"`
		ImageModel      string        `yaml:"image_model"`
		ProImageModel   string        `yaml:"pro_image_model"`
		VideoModel      string        `yaml:"video_model"`
		ChatModel       string        `yaml:"chat_model"`
		RequestTimeout  time.Duration `yaml:"request_timeout" env:"GEMINI_REQUEST_TIMEOUT"`
		PollInterval    time.Duration `yaml:"poll_interval" env:"GEMINI_POLL_INTERVAL"`
		PollMaxAttempts int           `yaml:"poll_max_attempts" env:"GEMINI_POLL_MAX_ATTEMPTS"`
	} `yaml:"gemini"`
	Storage struct {
		Backend    string `yaml:"backend" env:"STORAGE_BACKEND"`
		QuotaBytes int64  `yaml:"quota_bytes" env:"STORAGE_QUOTA_BYTES"`
		Artifacts  string `yaml:"artifacts" env:"STORAGE_ARTIFACTS"`
	} `yaml:"storage"`
	Dispatch struct {
		Mode        string `yaml:"mode" env:"DISPATCH_MODE"`
		Concurrency int    `yaml:"concurrency" env:"DISPATCH_CONCURRENCY"`
	} `yaml:"dispatch"`
	Features struct {
		ItemLibrary bool `yaml:"item_library" env:"FEATURE_ITEM_LIBRARY"`
		GlobalVault bool `yaml:"global_vault" env:"FEATURE_GLOBAL_VAULT"`
	} `yaml:"features"`
	Log struct {
		Level      string `yaml:"level" env:"LOG_LEVEL"`
		Format     string `yaml:"format" env:"LOG_FORMAT"`
		File       string `yaml:"file" env:"LOG_FILE"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
}

var AppConfig *Config

// Default 返回带默认值的配置，yaml 中缺失的字段保持这里的值
func Default() *Config {
	c := &Config{}
	c.Server.Port = ":8080"
	c.Server.AllowOrigins = []string{"*"}
	c.MinIO.Bucket = "storyboard"
	c.MinIO.URLExpiry = 72 * time.Hour
	c.Gemini.Endpoint = "https://generativelanguage.googleapis.com/"
	c.Gemini.TextModel = "gemini-3-pro-preview"
	c.Gemini.ImageModel = "gemini-2.5-flash-image"
	c.Gemini.ProImageModel = "gemini-3-pro-image-preview"
	c.Gemini.VideoModel = "veo-3.1-fast-generate-preview"
	c.Gemini.ChatModel = "gemini-3-flash-preview"
	c.Gemini.RequestTimeout = 2 * time.Minute
	c.Gemini.PollInterval = 10 * time.Second
	c.Gemini.PollMaxAttempts = 60
	c.Storage.Backend = StorageBackendMySQL
	c.Storage.QuotaBytes = 5 << 20
	c.Storage.Artifacts = ArtifactsInline
	c.Dispatch.Mode = DispatchInline
	c.Dispatch.Concurrency = 5
	c.Features.ItemLibrary = true
	c.Features.GlobalVault = true
	c.Log.Level = "info"
	c.Log.Format = "text"
	c.Log.MaxSizeMB = 100
	c.Log.MaxBackups = 5
	c.Log.MaxAgeDays = 30
	return c
}

// Load 读取 yaml 配置文件，再用 .env / 环境变量覆盖
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}

	// .env 不存在时忽略
	_ = godotenv.Load()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case StorageBackendMemory:
	case StorageBackendMySQL:
		if c.MySQL.DSN == "" {
			errs = append(errs, errors.New("mysql.dsn is required for the mysql storage backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	switch c.Storage.Artifacts {
	case ArtifactsInline:
	case ArtifactsMinIO:
		if c.MinIO.Endpoint == "" || c.MinIO.Bucket == "" {
			errs = append(errs, errors.New("minio.endpoint and minio.bucket are required for minio artifacts"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.artifacts %q", c.Storage.Artifacts))
	}
	switch c.Dispatch.Mode {
	case DispatchInline:
	case DispatchQueue:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for queue dispatch"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dispatch.mode %q", c.Dispatch.Mode))
	}
	if c.Gemini.PollMaxAttempts <= 0 {
		errs = append(errs, errors.New("gemini.poll_max_attempts must be positive"))
	}
	if c.Storage.QuotaBytes < 0 {
		errs = append(errs, errors.New("storage.quota_bytes must not be negative"))
	}
	return errors.Join(errs...)
}

// InitConfig 在 main.go 中调用，失败直接退出
func InitConfig(path string) {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}
	AppConfig = cfg
}
