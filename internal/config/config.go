// Package config содержит логику чтения конфигурации сервиса доставки воды.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса доставки воды.
type Config struct {
	RunAddress    string        `env:"RUN_ADDRESS"`
	DatabaseURI   string        `env:"DATABASE_URI"`
	TelegramToken string        `env:"TELEGRAM_TOKEN"`
	AuthSecret    string        `env:"AUTH_SECRET"`
	SupportChatID int64         `env:"SUPPORT_CHAT_ID"`
	CodeTTL       time.Duration `env:"CODE_TTL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envTelegramToken := cfg.TelegramToken
	envAuthSecret := cfg.AuthSecret
	envSupportChatID := cfg.SupportChatID
	envCodeTTL := cfg.CodeTTL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.TelegramToken, "t", "", "telegram bot token for outgoing notifications")
	flag.StringVar(&cfg.AuthSecret, "s", "", "shared secret for front-end request signing")
	flag.Int64Var(&cfg.SupportChatID, "c", 0, "telegram chat id for support messages")
	flag.DurationVar(&cfg.CodeTTL, "l", time.Hour, "redemption code lifetime")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envTelegramToken != "" {
		cfg.TelegramToken = envTelegramToken
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envSupportChatID != 0 {
		cfg.SupportChatID = envSupportChatID
	}
	if envCodeTTL != 0 {
		cfg.CodeTTL = envCodeTTL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = time.Hour
	}

	return cfg, nil
}
