package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DatabaseURL string // CHIPTRACE_DATABASE_URL (required)
	HTTPAddr    string // CHIPTRACE_HTTP_ADDR (default ":8080")
	NATSURL     string // CHIPTRACE_NATS_URL (optional, empty = no events)
	AuthToken   string // CHIPTRACE_AUTH_TOKEN (optional, empty = auth disabled)

	// Execution window settings
	WindowTTL time.Duration // CHIPTRACE_WINDOW_TTL (default 12h; 0 = never auto-abandon)

	// Anti-fraud settings
	FraudConfig string // CHIPTRACE_FRAUD_CONFIG (optional TOML file with task bounds)

	// Backup settings
	BackupInterval   time.Duration // CHIPTRACE_BACKUP_INTERVAL (default 3m; 0 = disabled)
	BackupS3Bucket   string        // CHIPTRACE_BACKUP_S3_BUCKET (enables S3 when set)
	BackupS3Endpoint string        // CHIPTRACE_BACKUP_S3_ENDPOINT (custom endpoint for MinIO)
	BackupS3Region   string        // CHIPTRACE_BACKUP_S3_REGION (default "us-east-1")
	BackupS3Key      string        // CHIPTRACE_BACKUP_S3_KEY (default "chiptrace/backup.jsonl")
	BackupGitRepo    string        // CHIPTRACE_BACKUP_GIT_REPO (enables git when set; path to clone)
	BackupGitFile    string        // CHIPTRACE_BACKUP_GIT_FILE (default "chips.jsonl")
	BackupGitBranch  string        // CHIPTRACE_BACKUP_GIT_BRANCH (default "main")
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:      os.Getenv("CHIPTRACE_DATABASE_URL"),
		HTTPAddr:         envOrDefault("CHIPTRACE_HTTP_ADDR", ":8080"),
		NATSURL:          os.Getenv("CHIPTRACE_NATS_URL"),
		AuthToken:        os.Getenv("CHIPTRACE_AUTH_TOKEN"),
		FraudConfig:      os.Getenv("CHIPTRACE_FRAUD_CONFIG"),
		BackupS3Bucket:   os.Getenv("CHIPTRACE_BACKUP_S3_BUCKET"),
		BackupS3Endpoint: os.Getenv("CHIPTRACE_BACKUP_S3_ENDPOINT"),
		BackupS3Region:   envOrDefault("CHIPTRACE_BACKUP_S3_REGION", "us-east-1"),
		BackupS3Key:      envOrDefault("CHIPTRACE_BACKUP_S3_KEY", "chiptrace/backup.jsonl"),
		BackupGitRepo:    os.Getenv("CHIPTRACE_BACKUP_GIT_REPO"),
		BackupGitFile:    envOrDefault("CHIPTRACE_BACKUP_GIT_FILE", "chips.jsonl"),
		BackupGitBranch:  envOrDefault("CHIPTRACE_BACKUP_GIT_BRANCH", "main"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("CHIPTRACE_DATABASE_URL is required")
	}

	ttlStr := envOrDefault("CHIPTRACE_WINDOW_TTL", "12h")
	if ttlStr != "" {
		d, err := time.ParseDuration(ttlStr)
		if err != nil {
			return nil, fmt.Errorf("CHIPTRACE_WINDOW_TTL: %w", err)
		}
		c.WindowTTL = d
	}

	intervalStr := envOrDefault("CHIPTRACE_BACKUP_INTERVAL", "3m")
	if intervalStr != "" {
		d, err := time.ParseDuration(intervalStr)
		if err != nil {
			return nil, fmt.Errorf("CHIPTRACE_BACKUP_INTERVAL: %w", err)
		}
		c.BackupInterval = d
	}

	return c, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
