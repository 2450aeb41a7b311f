package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the API process.
// Values come from the environment, optionally seeded from a .env file.
// No business logic should depend on raw environment variables.
type Config struct {
	App         AppConfig
	DB          DBConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Gateway     GatewayConfig
	Fulfillment FulfillmentConfig
	Kafka       KafkaConfig
	Jobs        JobsConfig
	Limits      LimitsConfig
}

type AppConfig struct {
	Env  string
	Port int

	// PublicBaseURL is where the payment gateway redirects customers after checkout.
	PublicBaseURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
	GuestTokenTTL  time.Duration
}

// GatewayConfig configures the card / mobile money charge provider.
type GatewayConfig struct {
	BaseURL       string
	SecretKey     string
	CallbackURL   string
	ChargeTimeout time.Duration
	VerifyTimeout time.Duration
}

// FulfillmentConfig configures the data bundle provisioning provider.
type FulfillmentConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type KafkaConfig struct {
	Brokers          []string
	ClientID         string
	OrderEventsTopic string
}

type JobsConfig struct {
	ReconcileInterval  time.Duration
	StaleCheckoutAfter time.Duration
	OutboxInterval     time.Duration
	OutboxBatchSize    int
	OutboxMaxRetries   int
}

type LimitsConfig struct {
	MaxInFlightOrders int
	InFlightTTL       time.Duration
	CatalogCacheTTL   time.Duration
}

func Load() (Config, error) {
	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port = readInt(&parseErrs, "APP_PORT", true)
	c.App.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = readInt(&parseErrs, "DB_PORT", true)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = readInt(&parseErrs, "REDIS_PORT", true)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Durations are optional; defaults are applied in Validate().
	c.Auth.AccessTokenTTL = optionalDuration("JWT_ACCESS_TTL")
	c.Auth.GuestTokenTTL = optionalDuration("GUEST_ORDER_TOKEN_TTL")

	c.Gateway.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("GATEWAY_BASE_URL")), "/")
	c.Gateway.SecretKey = os.Getenv("GATEWAY_SECRET_KEY")
	c.Gateway.CallbackURL = strings.TrimSpace(os.Getenv("GATEWAY_CALLBACK_URL"))
	c.Gateway.ChargeTimeout = optionalDuration("GATEWAY_CHARGE_TIMEOUT")
	c.Gateway.VerifyTimeout = optionalDuration("GATEWAY_VERIFY_TIMEOUT")

	c.Fulfillment.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("FULFILLMENT_BASE_URL")), "/")
	c.Fulfillment.APIKey = os.Getenv("FULFILLMENT_API_KEY")
	c.Fulfillment.Timeout = optionalDuration("FULFILLMENT_TIMEOUT")

	c.Kafka.Brokers = splitList(os.Getenv("KAFKA_BROKERS"))
	c.Kafka.ClientID = strings.TrimSpace(os.Getenv("KAFKA_CLIENT_ID"))
	c.Kafka.OrderEventsTopic = strings.TrimSpace(os.Getenv("ORDER_EVENTS_TOPIC"))

	c.Jobs.ReconcileInterval = optionalDuration("RECONCILE_INTERVAL")
	c.Jobs.StaleCheckoutAfter = optionalDuration("RECONCILE_STALE_AFTER")
	c.Jobs.OutboxInterval = optionalDuration("OUTBOX_INTERVAL")
	c.Jobs.OutboxBatchSize = readInt(&parseErrs, "OUTBOX_BATCH_SIZE", false)
	c.Jobs.OutboxMaxRetries = readInt(&parseErrs, "OUTBOX_MAX_RETRIES", false)

	c.Limits.MaxInFlightOrders = readInt(&parseErrs, "MAX_INFLIGHT_ORDERS", false)
	c.Limits.InFlightTTL = optionalDuration("INFLIGHT_TTL")
	c.Limits.CatalogCacheTTL = optionalDuration("CATALOG_CACHE_TTL")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required settings and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.GuestTokenTTL <= 0 {
		c.Auth.GuestTokenTTL = 24 * time.Hour
	}

	if c.Gateway.BaseURL == "" {
		c.Gateway.BaseURL = "https://api.paystack.co"
	}
	if c.Gateway.SecretKey == "" {
		errs = append(errs, errors.New("GATEWAY_SECRET_KEY is required"))
	}
	if c.Gateway.CallbackURL == "" && c.App.PublicBaseURL != "" {
		c.Gateway.CallbackURL = c.App.PublicBaseURL + "/payments/callback"
	}
	if c.Gateway.CallbackURL == "" && c.IsProduction() {
		errs = append(errs, errors.New("GATEWAY_CALLBACK_URL or PUBLIC_BASE_URL is required in production"))
	}
	if c.Gateway.ChargeTimeout <= 0 {
		c.Gateway.ChargeTimeout = 30 * time.Second
	}
	if c.Gateway.VerifyTimeout <= 0 {
		c.Gateway.VerifyTimeout = 10 * time.Second
	}

	if c.Fulfillment.BaseURL == "" {
		errs = append(errs, errors.New("FULFILLMENT_BASE_URL is required"))
	}
	if c.Fulfillment.APIKey == "" {
		errs = append(errs, errors.New("FULFILLMENT_API_KEY is required"))
	}
	if c.Fulfillment.Timeout <= 0 {
		c.Fulfillment.Timeout = 30 * time.Second
	}

	if len(c.Kafka.Brokers) == 0 && c.IsProduction() {
		errs = append(errs, errors.New("KAFKA_BROKERS is required in production"))
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = "bundle-platform"
	}
	if c.Kafka.OrderEventsTopic == "" {
		c.Kafka.OrderEventsTopic = "bundle.orders"
	}

	if c.Jobs.ReconcileInterval <= 0 {
		c.Jobs.ReconcileInterval = time.Minute
	}
	if c.Jobs.StaleCheckoutAfter <= 0 {
		c.Jobs.StaleCheckoutAfter = 30 * time.Minute
	}
	if c.Jobs.OutboxInterval <= 0 {
		c.Jobs.OutboxInterval = time.Second
	}
	if c.Jobs.OutboxBatchSize <= 0 {
		c.Jobs.OutboxBatchSize = 100
	}
	if c.Jobs.OutboxMaxRetries <= 0 {
		c.Jobs.OutboxMaxRetries = 10
	}

	if c.Limits.MaxInFlightOrders <= 0 {
		c.Limits.MaxInFlightOrders = 2
	}
	if c.Limits.InFlightTTL <= 0 {
		// Must outlast the longest synchronous purchase (fulfillment timeout).
		c.Limits.InFlightTTL = 2 * time.Minute
	}
	if c.Limits.CatalogCacheTTL <= 0 {
		c.Limits.CatalogCacheTTL = 5 * time.Minute
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// readInt parses an integer env var, collecting parse failures into errs.
func readInt(errs *[]error, key string, required bool) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		if required {
			*errs = append(*errs, fmt.Errorf("%s is required", key))
		}
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return 0
	}
	return n
}

// optionalDuration returns 0 for empty or unparsable values so Validate applies the default.
func optionalDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
