package config

import (
	"time"

	"github.com/kaajbazar/service-booking/internal/platform/config"
)

// StripeConfig holds payment gateway credentials.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

// SettlementConfig tunes the payout job and the settlement surface.
type SettlementConfig struct {
	SchedulerEnabled  bool
	SchedulerInterval time.Duration
	LookbackDays      int
	DueAfter          time.Duration
	PayoutLockTTL     time.Duration
}

// ServiceConfig holds all configuration for the booking service.
type ServiceConfig struct {
	Port            string
	AppEnv          string
	DBConfig        config.DatabaseConfig
	JWTConfig       config.JWTConfig
	KafkaConfig     config.KafkaConfig
	RedisConfig     config.RedisConfig
	Stripe          StripeConfig
	Settlement      SettlementConfig
	RateLimitPerMin int
	RateLimitBurst  int
	MigrationsDir   string
}

// Load reads configuration from environment variables.
func Load() (*ServiceConfig, error) {
	v, err := config.Load("BOOKING")
	if err != nil {
		return nil, err
	}
	v.SetDefault("SCHEDULER_ENABLED", true)
	v.SetDefault("PAYOUT_LOOKBACK_DAYS", 3)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 600)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("MIGRATIONS_DIR", "migrations")

	return &ServiceConfig{
		Port:        config.GetServicePort(v, "SERVICE_PORT"),
		AppEnv:      config.GetAppEnv(v),
		DBConfig:    config.LoadDatabaseConfig(v, "DB_NAME"),
		JWTConfig:   config.LoadJWTConfig(v),
		KafkaConfig: config.LoadKafkaConfig(v),
		RedisConfig: config.LoadRedisConfig(v),
		Stripe: StripeConfig{
			SecretKey:     v.GetString("STRIPE_SECRET_KEY"),
			WebhookSecret: v.GetString("STRIPE_WEBHOOK_SECRET"),
		},
		Settlement: SettlementConfig{
			SchedulerEnabled:  v.GetBool("SCHEDULER_ENABLED"),
			SchedulerInterval: config.GetDuration(v, "SCHEDULER_INTERVAL", time.Hour),
			LookbackDays:      v.GetInt("PAYOUT_LOOKBACK_DAYS"),
			DueAfter:          config.GetDuration(v, "SETTLEMENT_DUE_AFTER", 7*24*time.Hour),
			PayoutLockTTL:     config.GetDuration(v, "PAYOUT_LOCK_TTL", 10*time.Minute),
		},
		RateLimitPerMin: v.GetInt("RATE_LIMIT_PER_MINUTE"),
		RateLimitBurst:  v.GetInt("RATE_LIMIT_BURST"),
		MigrationsDir:   v.GetString("MIGRATIONS_DIR"),
	}, nil
}
