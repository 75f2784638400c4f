package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// EnvPrefix is prepended to every variable name read by Load.
const EnvPrefix = "XERT_"

type Config struct {
	Xert          XertConfig
	HomeAssistant HomeAssistantConfig
	Poll          PollConfig
	Token         TokenConfig
	Log           LogConfig
	Observe       ObserveConfig
	Server        ServerConfig
}

// XertConfig holds the upstream account and API settings.
type XertConfig struct {
	Username string `env:"USERNAME, required"`
	Password string `env:"PASSWORD, required"`

	// APIURL is the base of both the data endpoints and the token endpoint.
	// Overridden in tests to point at a mock server.
	APIURL string `env:"API_URL, default=https://www.xertonline.com/oauth"`

	// DetailCacheTTLSeconds keeps successful activity details for this long.
	// Zero disables the cache, so every cycle fetches fresh details.
	DetailCacheTTLSeconds int `env:"DETAIL_CACHE_TTL, default=0"`
}

// HomeAssistantConfig describes the webhook target.
type HomeAssistantConfig struct {
	URL         string `env:"HA_URL, default=http://homeassistant:8123"`
	WebhookID   string `env:"HA_WEBHOOK_ID, required"`
	Token       string `env:"HA_TOKEN"`
	EventPrefix string `env:"HA_EVENT_PREFIX"`
}

type PollConfig struct {
	TrainingInfoIntervalSeconds int `env:"TRAINING_INFO_INTERVAL, default=900"`
	ActivitiesIntervalSeconds   int `env:"ACTIVITIES_INTERVAL, default=900"`
	LookbackDays                int `env:"LOOKBACK_DAYS, default=90"`

	// DetailRateLimit caps activity detail requests per second. Zero means
	// no pacing.
	DetailRateLimit float64 `env:"DETAIL_RATE_LIMIT, default=5"`
}

type TokenConfig struct {
	File                 string `env:"TOKEN_FILE, default=/data/tokens.json"`
	RefreshMarginSeconds int    `env:"TOKEN_REFRESH_MARGIN, default=300"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL, default=info"`
	Format string `env:"LOG_FORMAT, default=json"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=xert-bridge"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

type ServerConfig struct {
	RequestTimeoutSeconds  int `env:"REQUEST_TIMEOUT, default=30"`
	ShutdownTimeoutSeconds int `env:"SHUTDOWN_TIMEOUT, default=10"`

	OutgoingHTTPMaxIdleConns    int `env:"OUTGOING_MAX_IDLE_CONNS, default=10"`
	OutgoingHTTPMaxConnsPerHost int `env:"OUTGOING_MAX_CONNS_PER_HOST, default=4"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, lookup),
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the settings that envconfig cannot express as tags.
func (c *Config) Validate() error {
	var errs []error

	if c.Poll.TrainingInfoIntervalSeconds <= 0 {
		errs = append(errs, errors.New("XERT_TRAINING_INFO_INTERVAL must be positive"))
	}
	if c.Poll.ActivitiesIntervalSeconds <= 0 {
		errs = append(errs, errors.New("XERT_ACTIVITIES_INTERVAL must be positive"))
	}
	if c.Poll.LookbackDays <= 0 {
		errs = append(errs, errors.New("XERT_LOOKBACK_DAYS must be positive"))
	}
	if c.Poll.DetailRateLimit < 0 {
		errs = append(errs, errors.New("XERT_DETAIL_RATE_LIMIT must not be negative"))
	}
	if c.Token.RefreshMarginSeconds < 0 {
		errs = append(errs, errors.New("XERT_TOKEN_REFRESH_MARGIN must not be negative"))
	}
	if c.Xert.DetailCacheTTLSeconds < 0 {
		errs = append(errs, errors.New("XERT_DETAIL_CACHE_TTL must not be negative"))
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("XERT_REQUEST_TIMEOUT must be positive"))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("XERT_LOG_FORMAT must be json or console, got %q", c.Log.Format))
	}
	if c.Observe.Enabled && c.Observe.Type != "grpc" && c.Observe.Type != "stdout" {
		errs = append(errs, fmt.Errorf("XERT_OBSERVE_TYPE must be grpc or stdout, got %q", c.Observe.Type))
	}
	if _, err := url.ParseRequestURI(c.Xert.APIURL); err != nil {
		errs = append(errs, fmt.Errorf("XERT_API_URL is not a valid URL: %w", err))
	}
	if _, err := url.ParseRequestURI(c.HomeAssistant.URL); err != nil {
		errs = append(errs, fmt.Errorf("XERT_HA_URL is not a valid URL: %w", err))
	}

	return errors.Join(errs...)
}

func (c PollConfig) TrainingInfoInterval() time.Duration {
	return time.Duration(c.TrainingInfoIntervalSeconds) * time.Second
}

func (c PollConfig) ActivitiesInterval() time.Duration {
	return time.Duration(c.ActivitiesIntervalSeconds) * time.Second
}

func (c TokenConfig) RefreshMargin() time.Duration {
	return time.Duration(c.RefreshMarginSeconds) * time.Second
}

func (c XertConfig) DetailCacheTTL() time.Duration {
	return time.Duration(c.DetailCacheTTLSeconds) * time.Second
}

func (c ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// Usage writes the list of supported settings, shown when configuration
// cannot be loaded.
func Usage(w io.Writer) {
	fmt.Fprint(w, `
Required environment variables:
  XERT_USERNAME - Xert account email
  XERT_PASSWORD - Xert account password
  XERT_HA_WEBHOOK_ID - Home Assistant webhook ID

Optional environment variables:
  XERT_HA_URL - Home Assistant URL (default: http://homeassistant:8123)
  XERT_HA_TOKEN - Home Assistant access token
  XERT_HA_EVENT_PREFIX - Prefix added to webhook event types (default: none)
  XERT_TRAINING_INFO_INTERVAL - Training info poll interval in seconds (default: 900)
  XERT_ACTIVITIES_INTERVAL - Activities poll interval in seconds (default: 900)
  XERT_LOOKBACK_DAYS - Days of activity history (default: 90)
  XERT_DETAIL_RATE_LIMIT - Activity detail requests per second, 0 for no limit (default: 5)
  XERT_DETAIL_CACHE_TTL - Seconds to cache activity details, 0 to disable (default: 0)
  XERT_TOKEN_REFRESH_MARGIN - Seconds before expiry to renew the token (default: 300)
  XERT_TOKEN_FILE - Path to store OAuth tokens (default: /data/tokens.json)
  XERT_REQUEST_TIMEOUT - Outbound request timeout in seconds (default: 30)
  XERT_LOG_LEVEL - Logging level (default: info)
  XERT_LOG_FORMAT - json or console (default: json)
`)
}
