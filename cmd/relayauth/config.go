package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/layer-3/relayauth/service"
)

// Config is read from the environment
type Config struct {
	RedisURL         string
	HTTPAddr         string
	ChallengeTTL     time.Duration
	AuthTimeout      time.Duration
	SignerKey        string
	ControlJWTSecret string
	Relays           []string
	LogDebug         bool
}

func loadConfig() (Config, error) {
	cfg := Config{
		RedisURL:         os.Getenv("REDIS_URL"),
		HTTPAddr:         os.Getenv("HTTP_ADDR"),
		ChallengeTTL:     service.DefaultChallengeTTL,
		SignerKey:        os.Getenv("SIGNER_KEY"),
		ControlJWTSecret: os.Getenv("CONTROL_JWT_SECRET"),
		LogDebug:         os.Getenv("LOG_DEBUG") == "true",
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379/0"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":9000"
	}

	if v := os.Getenv("CHALLENGE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CHALLENGE_TTL: %w", err)
		}
		cfg.ChallengeTTL = ttl
	}
	if v := os.Getenv("AUTH_TIMEOUT"); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid AUTH_TIMEOUT: %w", err)
		}
		cfg.AuthTimeout = timeout
	}

	for _, url := range strings.Split(os.Getenv("RELAYS"), ",") {
		if url = strings.TrimSpace(url); url != "" {
			cfg.Relays = append(cfg.Relays, url)
		}
	}
	return cfg, nil
}
