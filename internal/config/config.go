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
// All values come from env, optionally seeded from a .env file.
// No business logic should depend on raw environment variables.
type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	Auth       AuthConfig
	CallCenter CallCenterConfig
	Messaging  MessagingConfig
	Zoom       ZoomConfig
	Calendly   CalendlyConfig
	Webhook    WebhookConfig
	Phone      PhoneConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	MaxOpenConns int
}

// RedisConfig is optional. Without a host the stale sweep runs unlocked.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// AuthConfig verifies operator bearer tokens. Tokens are issued elsewhere.
type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

type CallCenterConfig struct {
	BaseURL string
}

// MessagingConfig holds environment-level fallbacks for organizations that have
// not configured their own messaging credentials.
type MessagingConfig struct {
	Endpoint           string
	APIKey             string
	GroupLinkTemplate  string
	RescheduleTemplate string
	SupportNumber      string
	RescheduleMediaURL string
}

type ZoomConfig struct {
	OAuthURL   string
	APIBaseURL string
}

type CalendlyConfig struct {
	BaseURL string
}

type WebhookConfig struct {
	// Secret is optional; when set the provider must echo it in X-Webhook-Secret.
	// Requests carrying it skip the per-IP limit.
	Secret        string
	RatePerSecond float64
	Burst         int
}

type PhoneConfig struct {
	// DefaultRegion is the ISO region for numbers without a country code.
	DefaultRegion string
}

// Load reads .env (if present) without overriding the real environment, then
// parses and validates every section.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	c := Config{}
	var parseErrs []error
	intVar := func(dst *int, key string, required bool) {
		n, err := envInt(key, required)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		*dst = n
	}

	c.App.Env = env("APP_ENV")
	intVar(&c.App.Port, "APP_PORT", true)

	c.DB.Host = env("DB_HOST")
	intVar(&c.DB.Port, "DB_PORT", true)
	c.DB.User = env("DB_USER")
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = env("DB_NAME")
	c.DB.SSLMode = env("DB_SSLMODE")
	intVar(&c.DB.MaxOpenConns, "DB_MAX_OPEN_CONNS", false)

	c.Redis.Host = env("REDIS_HOST")
	intVar(&c.Redis.Port, "REDIS_PORT", false)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	intVar(&c.Redis.DB, "REDIS_DB", false)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = env("JWT_ISSUER")
	c.Auth.JWTAudience = env("JWT_AUDIENCE")

	c.CallCenter.BaseURL = env("CALL_CENTER_BASE_URL")

	c.Messaging.Endpoint = env("WHATSAPP_API_URL")
	c.Messaging.APIKey = os.Getenv("WHATSAPP_API_KEY")
	c.Messaging.GroupLinkTemplate = env("WHATSAPP_GROUP_LINK_TEMPLATE")
	c.Messaging.RescheduleTemplate = env("WHATSAPP_RESCHEDULE_TEMPLATE")
	c.Messaging.SupportNumber = env("SUPPORT_PHONE_NUMBER")
	c.Messaging.RescheduleMediaURL = env("WHATSAPP_RESCHEDULE_MEDIA_URL")

	c.Zoom.OAuthURL = env("ZOOM_OAUTH_URL")
	c.Zoom.APIBaseURL = env("ZOOM_API_BASE_URL")
	c.Calendly.BaseURL = env("CALENDLY_API_BASE_URL")

	c.Webhook.Secret = os.Getenv("VOICE_WEBHOOK_SECRET")
	if v := env("VOICE_WEBHOOK_RATE_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			parseErrs = append(parseErrs, fmt.Errorf("VOICE_WEBHOOK_RATE_PER_SECOND must be a number, got %q", v))
		}
		c.Webhook.RatePerSecond = f
	}
	intVar(&c.Webhook.Burst, "VOICE_WEBHOOK_BURST", false)

	c.Phone.DefaultRegion = env("PHONE_DEFAULT_REGION")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every problem at once and fills defaults for optional values.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if !validPort(c.App.Port) {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if !validPort(c.DB.Port) {
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

	if c.Redis.Host != "" {
		if c.Redis.Port == 0 {
			c.Redis.Port = 6379
		}
		if !validPort(c.Redis.Port) {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
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
		if c.Webhook.Secret == "" {
			errs = append(errs, errors.New("VOICE_WEBHOOK_SECRET is required in production"))
		}
	}

	if c.CallCenter.BaseURL == "" {
		c.CallCenter.BaseURL = "https://api.bolna.ai"
	}
	if c.Messaging.Endpoint == "" {
		c.Messaging.Endpoint = "https://backend.aisensy.com/campaign/t1/api/v2"
	}
	if c.Webhook.RatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("VOICE_WEBHOOK_RATE_PER_SECOND must not be negative, got %v", c.Webhook.RatePerSecond))
	}
	if c.Webhook.RatePerSecond == 0 {
		c.Webhook.RatePerSecond = 50
	}
	if c.Webhook.Burst <= 0 {
		c.Webhook.Burst = 500
	}
	if c.Phone.DefaultRegion == "" {
		c.Phone.DefaultRegion = "IN"
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

// RedisAddr is empty when Redis is not configured.
func (c Config) RedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// ReadHeaderTimeout bounds slow clients on the public webhook.
func (c Config) ReadHeaderTimeout() time.Duration {
	return 10 * time.Second
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envInt(key string, required bool) (int, error) {
	v := env(key)
	if v == "" {
		if required {
			return 0, fmt.Errorf("%s is required", key)
		}
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

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
