// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package config

// Config holds process configuration loaded from environment variables.
// Reward rules live in the policy file at PolicyPath, not here.
type Config struct {
	// Servers
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"8000"`
	GRPCPort    int    `env:"GRPC_PORT" envDefault:"6565"`
	MetricsPort int    `env:"METRICS_PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"dev"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"DwellRewardsService"`

	// Redis
	RedisHost         string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort         string `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword     string `env:"REDIS_PASSWORD"`
	RedisDB           int    `env:"REDIS_DB" envDefault:"0"`
	RedisMaxRetries   int    `env:"REDIS_MAX_RETRIES" envDefault:"5"`
	RedisRetryDelayMs int    `env:"REDIS_RETRY_DELAY_MS" envDefault:"1000"`

	// Rewards
	PolicyPath      string `env:"POLICY_PATH" envDefault:"config/rewards.yaml"`
	PresenceChannel string `env:"PRESENCE_CHANNEL" envDefault:"dwell_rewards:presence"`
	TickWorkers     int    `env:"TICK_WORKERS" envDefault:"8"`
	// NotifyRedis publishes room notifications on Redis in addition to the log.
	NotifyRedis bool `env:"NOTIFY_REDIS" envDefault:"true"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Telemetry
	OtelEnabled    bool   `env:"OTEL_ENABLED" envDefault:"true"`
	ZipkinEndpoint string `env:"OTEL_EXPORTER_ZIPKIN_ENDPOINT"`
}

// RedisAddr returns host:port.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}
