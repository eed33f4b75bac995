package authclient

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config is read once by Builder.Build and treated as immutable afterwards.
type Config struct {
	// BaseURL is prefixed to every relative request path.
	BaseURL string `validate:"required,url"`
	// Timeout bounds a single attempt, not the whole retry sequence.
	Timeout time.Duration `validate:"gt=0"`
	// RefreshTimeout bounds the shared refresh call.
	RefreshTimeout time.Duration `validate:"gt=0"`
	Retry          RetryConfig

	RefreshPath  string `validate:"required,startswith=/"`
	LoginPath    string `validate:"required,startswith=/"`
	RegisterPath string `validate:"required,startswith=/"`
	LogoutPath   string `validate:"required,startswith=/"`
	// AuthEndpoints are path suffixes whose 401 clears credentials instead of
	// triggering a refresh. The four paths above are always included.
	AuthEndpoints []string `validate:"dive,required"`

	// MaxResponseBytes caps a response body; larger bodies fail the request
	// with ErrResponseTooLarge. 0 disables the cap.
	MaxResponseBytes int64 `validate:"gte=0"`

	UserAgent string
	Metrics   MetricsConfig
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles the in-process counters and the latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultMaxResponseBytes is the default Config.MaxResponseBytes.
const DefaultMaxResponseBytes = 10 << 20

func defaultConfig() Config {
	return Config{
		Timeout:        15 * time.Second,
		RefreshTimeout: 10 * time.Second,
		Retry:          DefaultRetryConfig(),
		RefreshPath:    "/auth/refresh",
		LoginPath:      "/auth/login",
		RegisterPath:   "/auth/register",
		LogoutPath:     "/auth/logout",
		UserAgent:      "authclient/1",

		MaxResponseBytes: DefaultMaxResponseBytes,
	}
}

// DefaultConfig returns the defaults with baseURL applied.
func DefaultConfig(baseURL string) Config {
	cfg := defaultConfig()
	cfg.BaseURL = baseURL
	return cfg
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.AuthEndpoints != nil {
		out.AuthEndpoints = append([]string(nil), cfg.AuthEndpoints...)
	}
	return out
}

// authEndpoints returns the configured allow-list merged with the four
// session paths, de-duplicated.
func (c Config) authEndpoints() []string {
	seen := make(map[string]struct{}, len(c.AuthEndpoints)+4)
	out := make([]string, 0, len(c.AuthEndpoints)+4)
	for _, p := range append([]string{c.LoginPath, c.RegisterPath, c.RefreshPath, c.LogoutPath}, c.AuthEndpoints...) {
		p = strings.TrimRight(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field and reports the first violation.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := configValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return configFieldError(verrs[0])
		}
		return err
	}
	return nil
}

func configFieldError(fe validator.FieldError) error {
	field := strings.TrimPrefix(fe.StructNamespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "url":
		return fmt.Errorf("%s must be an absolute URL", field)
	case "gte":
		return fmt.Errorf("%s must be >= %s", field, fe.Param())
	case "gt":
		return fmt.Errorf("%s must be > %s", field, fe.Param())
	case "gtefield":
		return fmt.Errorf("%s must be >= %s", field, fe.Param())
	case "startswith":
		return fmt.Errorf("%s must start with %q", field, fe.Param())
	default:
		return fmt.Errorf("%s failed %q validation", field, fe.Tag())
	}
}

/*
====================================
ENVIRONMENT
====================================
*/

type envConfig struct {
	BaseURL          string        `env:"AUTHCLIENT_BASE_URL" env-required:"true"`
	Timeout          time.Duration `env:"AUTHCLIENT_TIMEOUT" env-default:"15s"`
	RefreshTimeout   time.Duration `env:"AUTHCLIENT_REFRESH_TIMEOUT" env-default:"10s"`
	RetryMaxAttempts int           `env:"AUTHCLIENT_RETRY_MAX_ATTEMPTS" env-default:"3"`
	RetryBaseDelay   time.Duration `env:"AUTHCLIENT_RETRY_BASE_DELAY" env-default:"300ms"`
	RetryMaxDelay    time.Duration `env:"AUTHCLIENT_RETRY_MAX_DELAY" env-default:"5s"`
	RetryJitter      bool          `env:"AUTHCLIENT_RETRY_JITTER" env-default:"false"`
	RefreshPath      string        `env:"AUTHCLIENT_REFRESH_PATH" env-default:"/auth/refresh"`
	LoginPath        string        `env:"AUTHCLIENT_LOGIN_PATH" env-default:"/auth/login"`
	RegisterPath     string        `env:"AUTHCLIENT_REGISTER_PATH" env-default:"/auth/register"`
	LogoutPath       string        `env:"AUTHCLIENT_LOGOUT_PATH" env-default:"/auth/logout"`
	AuthEndpoints    []string      `env:"AUTHCLIENT_AUTH_ENDPOINTS" env-separator:","`
	UserAgent        string        `env:"AUTHCLIENT_USER_AGENT" env-default:"authclient/1"`
	MaxResponseBytes int64         `env:"AUTHCLIENT_MAX_RESPONSE_BYTES" env-default:"10485760"`
	MetricsEnabled   bool          `env:"AUTHCLIENT_METRICS" env-default:"false"`
	LatencyEnabled   bool          `env:"AUTHCLIENT_LATENCY_HISTOGRAMS" env-default:"false"`
}

// LoadConfigFromEnv builds a validated Config from AUTHCLIENT_* variables.
func LoadConfigFromEnv() (Config, error) {
	var env envConfig
	if err := cleanenv.ReadEnv(&env); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}

	cfg := Config{
		BaseURL:        env.BaseURL,
		Timeout:        env.Timeout,
		RefreshTimeout: env.RefreshTimeout,
		Retry: RetryConfig{
			MaxAttempts: env.RetryMaxAttempts,
			BaseDelay:   env.RetryBaseDelay,
			MaxDelay:    env.RetryMaxDelay,
			Jitter:      env.RetryJitter,
		},
		RefreshPath:   env.RefreshPath,
		LoginPath:     env.LoginPath,
		RegisterPath:  env.RegisterPath,
		LogoutPath:    env.LogoutPath,
		AuthEndpoints: env.AuthEndpoints,
		UserAgent:     env.UserAgent,

		MaxResponseBytes: env.MaxResponseBytes,
		Metrics: MetricsConfig{
			Enabled:                 env.MetricsEnabled,
			EnableLatencyHistograms: env.LatencyEnabled,
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
