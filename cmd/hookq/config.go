package main

import (
	"fmt"
	"os"
	"strconv"
)

// appConfig is the environment-derived process configuration. REDIS_URL and
// APP_BASE_URL are hard requirements; everything optional degrades to a
// no-op collaborator.
type appConfig struct {
	RedisURL    string
	DatabaseURL string
	Port        string

	StripeSecret string
	AsaasSecret  string
	CustomSecret string

	WorkflowConcurrency int

	EmailAPIKey string
	EmailFrom   string

	HeartbeatURL string
	AppBaseURL   string

	// Push-notification keys are threaded through for other code paths;
	// they are not required for deletion/reminder correctness.
	VAPIDPublicKey  string
	VAPIDPrivateKey string
}

func loadConfig() (appConfig, error) {
	cfg := appConfig{
		RedisURL:        os.Getenv("REDIS_URL"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		Port:            os.Getenv("PORT"),
		StripeSecret:    os.Getenv("STRIPE_WEBHOOK_SECRET"),
		AsaasSecret:     os.Getenv("ASAAS_WEBHOOK_SECRET"),
		CustomSecret:    os.Getenv("CUSTOM_WEBHOOK_SECRET"),
		EmailAPIKey:     os.Getenv("EMAIL_API_KEY"),
		EmailFrom:       os.Getenv("EMAIL_FROM"),
		HeartbeatURL:    os.Getenv("HEARTBEAT_URL"),
		AppBaseURL:      os.Getenv("APP_BASE_URL"),
		VAPIDPublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
	}

	if cfg.RedisURL == "" {
		return cfg, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.AppBaseURL == "" {
		return cfg, fmt.Errorf("APP_BASE_URL is required for rule evaluation")
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if raw := os.Getenv("WORKFLOW_CONCURRENCY"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return cfg, fmt.Errorf("invalid WORKFLOW_CONCURRENCY %q", raw)
		}
		cfg.WorkflowConcurrency = n
	}
	return cfg, nil
}
