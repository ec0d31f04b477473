package config

import (
	"fmt"
	"strings"

	env "github.com/Netflix/go-env"

	"realtime-chat/presence"
)

type Config struct {
	ListenAddr        string `env:"LISTEN_ADDR,default=:8000"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
	StorageType       string `env:"STORAGE_TYPE,default=memory"`
	DataSourceName    string `env:"DATA_SOURCE_NAME,default=chat.db"`
	LocalStoragePath  string `env:"LOCAL_STORAGE_PATH,default=./data"`
	S3BucketName      string `env:"S3_BUCKET_NAME"`
	JWTSecret         string `env:"JWT_SECRET"`
	AllowedOrigins    string `env:"ALLOWED_ORIGINS,default=http://localhost:3001"`
	DuplicateAnnounce string `env:"DUPLICATE_ANNOUNCE,default=keep-first"`
	MaxHTTPBufferSize int64  `env:"MAX_HTTP_BUFFER_SIZE,default=5000000"`
	MetricsEnabled    bool   `env:"METRICS_ENABLED,default=true"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageType {
	case "memory", "sqlite", "filesystem":
	case "s3":
		if c.S3BucketName == "" {
			return fmt.Errorf("S3_BUCKET_NAME must be set for s3 storage")
		}
	default:
		return fmt.Errorf("unknown storage type %q", c.StorageType)
	}

	if _, err := presence.ParsePolicy(c.DuplicateAnnounce); err != nil {
		return err
	}
	if c.MaxHTTPBufferSize <= 0 {
		return fmt.Errorf("MAX_HTTP_BUFFER_SIZE must be positive, got %d", c.MaxHTTPBufferSize)
	}
	return nil
}

// Policy returns the duplicate announce policy. Call Validate first.
func (c *Config) Policy() presence.Policy {
	p, _ := presence.ParsePolicy(c.DuplicateAnnounce)
	return p
}

// Origins splits AllowedOrigins on commas, dropping blanks.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
