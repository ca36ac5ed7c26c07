package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/ergomarketing/Semzo-Prive--sub004/internal/ratelimit"
)

const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL"`

	EmailProviderURL    string `env:"EMAIL_PROVIDER_URL"`
	EmailProviderAPIKey string `env:"EMAIL_PROVIDER_API_KEY"`
	EmailFrom           string `env:"EMAIL_FROM,default=no-reply@semzoprive.com"`

	RateLimitBackend string `env:"RATE_LIMIT_BACKEND,default=memory"`

	LoginMaxAttempts              int           `env:"LOGIN_MAX_ATTEMPTS,default=5"`
	LoginWindow                   time.Duration `env:"LOGIN_WINDOW,default=15m"`
	CheckoutMaxAttempts           int           `env:"CHECKOUT_MAX_ATTEMPTS,default=10"`
	CheckoutWindow                time.Duration `env:"CHECKOUT_WINDOW,default=1h"`
	GiftCardMaxAttempts           int           `env:"GIFT_CARD_MAX_ATTEMPTS,default=5"`
	GiftCardWindow                time.Duration `env:"GIFT_CARD_WINDOW,default=1h"`
	WaitlistMaxAttempts           int           `env:"WAITLIST_MAX_ATTEMPTS,default=3"`
	WaitlistWindow                time.Duration `env:"WAITLIST_WINDOW,default=1h"`
	TransactionalEmailMaxAttempts int           `env:"TRANSACTIONAL_EMAIL_MAX_ATTEMPTS,default=20"`
	TransactionalEmailWindow      time.Duration `env:"TRANSACTIONAL_EMAIL_WINDOW,default=1h"`
	RateLimitJanitorInterval      time.Duration `env:"RATE_LIMIT_JANITOR_INTERVAL,default=5m"`

	EmailMinInterval  time.Duration `env:"EMAIL_MIN_INTERVAL,default=500ms"`
	EmailTaskTimeout  time.Duration `env:"EMAIL_TASK_TIMEOUT,default=30s"`
	EmailMaxAttempts  int           `env:"EMAIL_MAX_ATTEMPTS,default=5"`
	RetryScanInterval time.Duration `env:"RETRY_SCAN_INTERVAL,default=5s"`
	StaleSendingAfter time.Duration `env:"STALE_SENDING_AFTER,default=5m"`

	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=4"`
	APIPort           int    `env:"API_PORT,default=8080"`
	ProxyHeader       string `env:"PROXY_HEADER"`
	WorkerMetricsPort int    `env:"WORKER_METRICS_PORT,default=9091"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.RateLimitBackend = strings.ToLower(strings.TrimSpace(cfg.RateLimitBackend))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.RateLimitBackend {
	case RateLimitBackendMemory:
	case RateLimitBackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q, got %q",
			RateLimitBackendMemory, RateLimitBackendRedis, c.RateLimitBackend)
	}

	for _, p := range c.RateLimitPolicies() {
		if err := p.Validate(); err != nil {
			return err
		}
	}

	if c.EmailMinInterval < 0 {
		return fmt.Errorf("EMAIL_MIN_INTERVAL must not be negative")
	}
	if c.EmailTaskTimeout < 0 {
		return fmt.Errorf("EMAIL_TASK_TIMEOUT must not be negative")
	}
	if c.EmailMaxAttempts < 1 {
		return fmt.Errorf("EMAIL_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// RateLimitPolicies returns the named policies with configured overrides
// applied.
func (c *Config) RateLimitPolicies() []ratelimit.Policy {
	return []ratelimit.Policy{
		{Name: ratelimit.PolicyLogin, MaxAttempts: c.LoginMaxAttempts, Window: c.LoginWindow},
		{Name: ratelimit.PolicyCheckout, MaxAttempts: c.CheckoutMaxAttempts, Window: c.CheckoutWindow},
		{Name: ratelimit.PolicyGiftCard, MaxAttempts: c.GiftCardMaxAttempts, Window: c.GiftCardWindow},
		{Name: ratelimit.PolicyWaitlist, MaxAttempts: c.WaitlistMaxAttempts, Window: c.WaitlistWindow},
		{Name: ratelimit.PolicyTransactionalEmail, MaxAttempts: c.TransactionalEmailMaxAttempts, Window: c.TransactionalEmailWindow},
	}
}
