package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/salonsano/internal/service"
	"github.com/salonsano/internal/storage"
)

// DefaultSessionSecret 仅用于本地开发，发布模式下必须通过 SESSION_SECRET 覆盖。
const DefaultSessionSecret = "salonsano-dev-secret"

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr           string
	Port                 string
	DatabasePath         string
	SessionSecret        string
	GinMode              string
	StorageBudget        int64
	DefaultAdminPassword string
	ReplicaCacheSize     int
}

// InsecureSessionSecret 报告是否在发布模式下仍使用公开的默认会话密钥。
func (c AppConfig) InsecureSessionSecret() bool {
	return c.GinMode == "release" && c.SessionSecret == DefaultSessionSecret
}

// Load 读取 .env（若存在）与环境变量，并为缺失项提供默认值。
func Load() (AppConfig, error) {
	// .env 是可选的，已存在的环境变量优先
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return AppConfig{}, fmt.Errorf("load .env: %w", err)
	}

	port := envOr("PORT", "8080")

	cfg := AppConfig{
		ListenAddr:           envOr("LISTEN_ADDR", fmt.Sprintf(":%s", port)),
		Port:                 port,
		DatabasePath:         envOr("DATABASE_PATH", "salonsano.db"),
		SessionSecret:        envOr("SESSION_SECRET", DefaultSessionSecret),
		GinMode:              envOr("GIN_MODE", "release"),
		StorageBudget:        storage.DefaultBudget,
		DefaultAdminPassword: envOr("DEFAULT_ADMIN_PASSWORD", service.DefaultCredential),
		ReplicaCacheSize:     service.DefaultMaxWorkspaces,
	}

	if raw := strings.TrimSpace(os.Getenv("STORAGE_BUDGET_BYTES")); raw != "" {
		budget, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || budget <= 0 {
			return AppConfig{}, fmt.Errorf("STORAGE_BUDGET_BYTES must be a positive integer, got %q", raw)
		}
		cfg.StorageBudget = budget
	}

	if raw := strings.TrimSpace(os.Getenv("REPLICA_CACHE_SIZE")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return AppConfig{}, fmt.Errorf("REPLICA_CACHE_SIZE must be a positive integer, got %q", raw)
		}
		cfg.ReplicaCacheSize = size
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
