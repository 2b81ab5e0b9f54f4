package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const EnvProduction = "production"

type Config struct {
	AppEnv   string `env:"APP_ENV" default:"development" validate:"required"`
	HTTPAddr string `env:"HTTP_ADDR" default:":8080" validate:"required"`

	DatabaseURL     string `env:"DATABASE_URL" validate:"required"`
	SupabaseURL     string `env:"SUPABASE_URL" validate:"required,url"`
	SupabaseAnonKey string `env:"SUPABASE_ANON_KEY" validate:"required"`
	AuthCookieName  string `env:"AUTH_COOKIE_NAME" default:"sb-access-token" validate:"required"`
	TxRefPrefix     string `env:"TX_REF_PREFIX" default:"TFT" validate:"required,alphanum"`
	// AllowedOrigins is a comma-separated list of cross-site origins that may
	// open WebSocket streams.
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`

	HeartbeatInterval  time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s" validate:"gt=0"`
	StaleAfter         time.Duration `env:"STALE_AFTER" default:"5m" validate:"gt=0"`
	StreamWriteTimeout time.Duration `env:"STREAM_WRITE_TIMEOUT" default:"10s" validate:"gt=0"`

	RelayDriver string `env:"RELAY_DRIVER" default:"local" validate:"oneof=local redis nats"`
	RedisURL    string `env:"REDIS_URL" validate:"required_if=RelayDriver redis"`
	NATSURL     string `env:"NATS_URL" validate:"required_if=RelayDriver nats"`

	LogLevel  string `env:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFormat string `env:"LOG_FORMAT" default:"json" validate:"oneof=json text console"`
	LogOutput string `env:"LOG_OUTPUT" default:"stdout" validate:"oneof=stdout stderr file"`
	LogFile   string `env:"LOG_FILE" default:"logs/app.log" validate:"required_if=LogOutput file"`
}

// IsProduction gates developer-only endpoints.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, EnvProduction)
}

// Origins splits AllowedOrigins on commas and whitespace.
func (c *Config) Origins() []string {
	return strings.FieldsFunc(c.AllowedOrigins, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

// Load reads .env (when present) and the process environment, then validates
// the result.
func Load() (*Config, error) {
	// A missing .env file is the normal case outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their environment variable name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate config: %w", err)
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required", "required_if":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		case "gt":
			msgs = append(msgs, fe.Field()+" must be positive")
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
