package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the API server configuration, loadable from environment
// variables (BYTEKART_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (BYTEKART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Auth        AuthConfig
	Gateway     GatewayConfig
	Orders      OrdersConfig
	Notify      NotifyConfig
	Redis       RedisConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWKSURL    string        `env:"JWKS_URL" usage:"JWKS endpoint of the token issuer" flag:"jwks-url"`
	HMACSecret string        `env:"HMAC_SECRET" usage:"HS256 secret for locally issued tokens" flag:"auth-hmac-secret"`
	Issuer     string        `usage:"Expected iss claim"`
	Leeway     time.Duration `default:"30s" usage:"Allowed clock skew on exp and nbf"`
}

// GatewayConfig selects and configures the payment gateway.
type GatewayConfig struct {
	Mode      string        `default:"sandbox" usage:"Payment gateway: razorpay or sandbox"`
	BaseURL   string        `usage:"Gateway API base URL" flag:"gateway-base-url"`
	KeyID     string        `usage:"Gateway key id" flag:"gateway-key-id"`
	KeySecret string        `usage:"Gateway key secret, also the sandbox signing secret" flag:"gateway-key-secret"`
	Currency  string        `default:"INR" usage:"Currency of every order"`
	Timeout   time.Duration `default:"15s" usage:"Gateway call timeout"`
}

// OrdersConfig is the order lifecycle policy.
type OrdersConfig struct {
	ReturnWindowDays  int           `default:"7" usage:"Days after creation a delivered order may be returned"`
	PendingTTL        time.Duration `default:"24h" usage:"Age after which unpaid orders are failed"`
	SweepInterval     time.Duration `default:"10m" usage:"Interval of the unpaid order sweep"`
	StrictTransitions bool          `default:"false" usage:"Enforce the transition table on admin status changes" flag:"strict-transitions"`
}

// NotifyConfig configures notification delivery. Without brokers events are logged.
type NotifyConfig struct {
	Brokers         []string      `usage:"Kafka brokers"`
	Topic           string        `default:"bytekart.notifications" usage:"Kafka topic"`
	AdminRecipients []string      `usage:"Administrator alert recipients" flag:"admin-recipients"`
	Timeout         time.Duration `default:"10s" usage:"Delivery timeout per event"`
}

// RedisConfig configures the shared idempotency and rate limit store.
// Without an address both fall back to process memory.
type RedisConfig struct {
	Addr           string        `usage:"Redis address (host:port) or redis:// URL" flag:"redis-addr"`
	IdempotencyTTL time.Duration `default:"24h" usage:"Lifetime of stored Idempotency-Key responses" flag:"idempotency-ttl"`
}

// RateLimitConfig controls the per-client rate limiter.
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

// LoadConfig loads configuration from environment variables and YAML files,
// then applies platform defaults and validates the result.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BYTEKART",
		Files:     []string{"config.yaml", "/etc/bytekart/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports configuration the server cannot start with.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set BYTEKART_DATABASE_URL or DATABASE_URL")
	}
	if c.Auth.JWKSURL == "" && c.Auth.HMACSecret == "" {
		return errors.New("auth: set BYTEKART_AUTH_JWKS_URL or BYTEKART_AUTH_HMAC_SECRET")
	}
	switch c.Gateway.Mode {
	case GatewayRazorpay:
		if c.Gateway.KeyID == "" || c.Gateway.KeySecret == "" {
			return errors.New("gateway: razorpay mode needs key id and key secret")
		}
	case GatewaySandbox:
		if c.Gateway.KeySecret == "" {
			return errors.New("gateway: sandbox mode needs a signing secret in key secret")
		}
	default:
		return errors.Errorf("gateway: unknown mode %q", c.Gateway.Mode)
	}
	if c.Orders.ReturnWindowDays < 0 {
		return errors.New("orders: return window must not be negative")
	}
	return nil
}

// Gateway modes.
const (
	GatewayRazorpay = "razorpay"
	GatewaySandbox  = "sandbox"
)

// applyPlatformDefaults maps DATABASE_URL, REDIS_URL and PORT, as set by
// hosting platforms, onto the BYTEKART_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
