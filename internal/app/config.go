package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-fulfillment/internal/domain/pricing"
)

// Config holds the complete application configuration, loadable from
// environment variables (STORE_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Shop        ShopConfig
	Gateway     GatewayConfig
	Kafka       KafkaConfig
	Redis       RedisConfig
	Scheduler   SchedulerConfig
	Outbox      OutboxConfig
	Admin       AdminConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// ShopConfig holds the pricing policy of the storefront.
type ShopConfig struct {
	HomeCountry     string        `default:"Nigeria" usage:"Country treated as domestic"`
	HomeCurrency    string        `default:"NGN" usage:"Currency catalog prices are stored in"`
	ForeignCurrency string        `default:"USD" usage:"Second accepted order currency"`
	ExchangeRate    string        `default:"0.00065" usage:"Foreign currency units per home currency unit" flag:"exchange-rate"`
	TaxRate         string        `default:"0.05" usage:"Tax rate applied to international orders" flag:"tax-rate"`
	Grace           time.Duration `default:"48h" usage:"Age after which unpaid orders expire" flag:"grace"`
}

// GatewayConfig configures the payment provider.
type GatewayConfig struct {
	BaseURL             string        `default:"https://api.paystack.co" usage:"Payment provider API base URL" flag:"gateway-url"`
	SecretKey           string        `usage:"Payment provider secret key, also signs webhooks (STORE_GATEWAY_SECRET_KEY)" flag:"gateway-secret"`
	PaymentCallback     string        `usage:"Redirect URL after paying an order" flag:"payment-callback"`
	DeliveryFeeCallback string        `usage:"Redirect URL after paying a delivery fee" flag:"delivery-fee-callback"`
	SignatureHeader     string        `default:"X-Paystack-Signature" usage:"Webhook signature header"`
	Timeout             time.Duration `default:"10s" usage:"Payment provider request timeout" flag:"gateway-timeout"`
}

// KafkaConfig enables the Kafka notifier when Brokers is set.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka brokers for order notifications; log only when empty"`
	Topic   string   `default:"storefront.notifications" usage:"Notification topic"`
}

// RedisConfig enables the cross-process sweep lock when Addr is set.
type RedisConfig struct {
	Addr     string        `usage:"Redis address for the sweep lock; process local when empty" flag:"redis-addr"`
	Password string        `usage:"Redis password" flag:"redis-password"`
	DB       int           `default:"0" usage:"Redis database" flag:"redis-db"`
	LockTTL  time.Duration `default:"10m" usage:"Sweep lock lease" flag:"redis-lock-ttl"`
}

// SchedulerConfig controls the compensation sweep.
type SchedulerConfig struct {
	Interval  time.Duration `default:"1h" usage:"Compensation sweep interval" flag:"sweep-interval"`
	BatchSize int           `default:"100" usage:"Orders expired per batch" flag:"sweep-batch"`
}

// OutboxConfig controls the notification worker.
type OutboxConfig struct {
	Interval    time.Duration `default:"2s" usage:"Outbox poll interval" flag:"outbox-interval"`
	Lease       time.Duration `default:"30s" usage:"Claim lease per delivery attempt" flag:"outbox-lease"`
	BatchSize   int           `default:"50" usage:"Events claimed per poll" flag:"outbox-batch"`
	MaxAttempts int           `default:"10" usage:"Attempts before an event is parked" flag:"outbox-max-attempts"`
}

// AdminConfig secures the admin endpoints.
type AdminConfig struct {
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (STORE_ADMIN_API_KEY_PEPPER)" flag:"api-key-pepper"`
}

// RateLimitConfig controls the per-caller rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "STORE",
		Files:     []string{"config.yaml", "/etc/store/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set STORE_DATABASE_URL or DATABASE_URL")
	}
	if c.Gateway.SecretKey == "" {
		return errors.New("gateway secret key is required: set STORE_GATEWAY_SECRET_KEY")
	}
	if c.Admin.APIKeyPepper == "" {
		return errors.New("api key pepper is required: set STORE_ADMIN_API_KEY_PEPPER")
	}
	if _, err := c.Shop.Policy(); err != nil {
		return err
	}
	return nil
}

// Policy builds the pricing policy.
func (s ShopConfig) Policy() (pricing.Policy, error) {
	rate, err := decimal.NewFromString(s.ExchangeRate)
	if err != nil || !rate.IsPositive() {
		return pricing.Policy{}, errors.Errorf("invalid exchange rate %q", s.ExchangeRate)
	}
	tax, err := decimal.NewFromString(s.TaxRate)
	if err != nil || tax.IsNegative() {
		return pricing.Policy{}, errors.Errorf("invalid tax rate %q", s.TaxRate)
	}
	return pricing.Policy{
		HomeCountry:     s.HomeCountry,
		HomeCurrency:    s.HomeCurrency,
		ForeignCurrency: s.ForeignCurrency,
		TaxRate:         tax,
		Rates:           pricing.StaticRates{s.ForeignCurrency: rate},
	}, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's STORE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
