package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Auth       AuthConfig
	Encryption EncryptionConfig
	Scheduler  SchedulerConfig
	TLS        TLSConfig
	Provider   ProviderConfig
	Firebase   FirebaseConfig
	OCR        OCRConfig
	Telemetry  TelemetryConfig
	Log        LogConfig
	Messages   MessagesConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	AllowedHosts []string
	// WriteTimeout is generous because manual refresh and webhook requests
	// run a sync inline.
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type AuthConfig struct {
	JWTSecret string
}

type EncryptionConfig struct {
	Key string
}

type SchedulerConfig struct {
	Enabled       bool
	ScheduleTimes []string
	WorkerCount   int
	JobDelay      time.Duration
	QueueSize     int
	RunOnStartup  bool

	// PendingReceiptAge is how long an upload may stay pending before a
	// scheduled run enqueues it again.
	PendingReceiptAge time.Duration
}

type TLSConfig struct {
	Enabled      bool
	CertPath     string
	KeyPath      string
	RedirectHTTP bool
}

// ProviderConfig configures the financial-data provider client.
type ProviderConfig struct {
	BaseURL        string
	ClientID       string
	Secret         string
	WebhookSecret  string
	PageSize       int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

type FirebaseConfig struct {
	CredentialsFile string
	StorageBucket   string
}

type OCRConfig struct {
	Enabled bool
	APIKey  string
	Model   string
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

type LogConfig struct {
	Environment string
	Level       string
}

type MessagesConfig struct {
	Path string
}

var defaults = map[string]any{
	"port":                     "8080",
	"host":                     "0.0.0.0",
	"allowed_hosts":            "",
	"server_write_timeout":     "90s",
	"db_host":                  "localhost",
	"db_port":                  5432,
	"db_user":                  "koffers",
	"db_password":              "",
	"db_name":                  "koffers",
	"db_sslmode":               "disable",
	"scheduler_enabled":        true,
	"scheduler_times":          "05:00,10:00,14:00,20:00",
	"scheduler_workers":        5,
	"scheduler_job_delay":      "1s",
	"scheduler_queue_size":     100,
	"scheduler_run_on_startup": false,
	"scheduler_pending_age":    "15m",
	"tls_enabled":              false,
	"tls_redirect_http":        false,
	"provider_base_url":        "https://production.plaid.com",
	"provider_page_size":       500,
	"provider_max_retries":     3,
	"provider_retry_base":      "500ms",
	"provider_retry_max":       "10s",
	"ocr_enabled":              true,
	"ocr_model":                "gemini-2.5-flash",
	"otel_enabled":             false,
	"otel_service_name":        "koffers-api",
	"otel_environment":         "production",
	"otel_exporter_endpoint":   "localhost:4317",
	"metrics_port":             "9464",
	"log_env":                  "production",
	"log_level":                "info",
	"messages_path":            "configs/notifications.yaml",
}

// Load reads configuration from the environment, optionally layered over a
// koffers.yaml file in the working directory or ./configs.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	v.SetConfigName("koffers")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	durations := map[string]time.Duration{}
	for _, key := range []string{"server_write_timeout", "scheduler_job_delay", "scheduler_pending_age", "provider_retry_base", "provider_retry_max"} {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", strings.ToUpper(key), err)
		}
		durations[key] = d
	}

	ints := map[string]int{}
	for _, key := range []string{"db_port", "scheduler_workers", "scheduler_queue_size", "provider_page_size", "provider_max_retries"} {
		n, err := parseInt(v, key)
		if err != nil {
			return nil, err
		}
		ints[key] = n
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("port"),
			Host:         v.GetString("host"),
			AllowedHosts: splitList(v.GetString("allowed_hosts")),
			WriteTimeout: durations["server_write_timeout"],
		},
		Database: DatabaseConfig{
			Host:     v.GetString("db_host"),
			Port:     ints["db_port"],
			User:     v.GetString("db_user"),
			Password: v.GetString("db_password"),
			DBName:   v.GetString("db_name"),
			SSLMode:  v.GetString("db_sslmode"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("jwt_secret"),
		},
		Encryption: EncryptionConfig{
			Key: v.GetString("encryption_key"),
		},
		Scheduler: SchedulerConfig{
			Enabled:       v.GetBool("scheduler_enabled"),
			ScheduleTimes: splitList(v.GetString("scheduler_times")),
			WorkerCount:   ints["scheduler_workers"],
			JobDelay:      durations["scheduler_job_delay"],
			QueueSize:     ints["scheduler_queue_size"],
			RunOnStartup:  v.GetBool("scheduler_run_on_startup"),

			PendingReceiptAge: durations["scheduler_pending_age"],
		},
		TLS: TLSConfig{
			Enabled:      v.GetBool("tls_enabled"),
			CertPath:     v.GetString("tls_cert_path"),
			KeyPath:      v.GetString("tls_key_path"),
			RedirectHTTP: v.GetBool("tls_redirect_http"),
		},
		Provider: ProviderConfig{
			BaseURL:        v.GetString("provider_base_url"),
			ClientID:       v.GetString("provider_client_id"),
			Secret:         v.GetString("provider_secret"),
			WebhookSecret:  v.GetString("provider_webhook_secret"),
			PageSize:       ints["provider_page_size"],
			MaxRetries:     ints["provider_max_retries"],
			RetryBaseDelay: durations["provider_retry_base"],
			RetryMaxDelay:  durations["provider_retry_max"],
		},
		Firebase: FirebaseConfig{
			CredentialsFile: v.GetString("firebase_credentials_file"),
			StorageBucket:   v.GetString("firebase_storage_bucket"),
		},
		OCR: OCRConfig{
			Enabled: v.GetBool("ocr_enabled"),
			APIKey:  v.GetString("gemini_api_key"),
			Model:   v.GetString("ocr_model"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      v.GetBool("otel_enabled"),
			ServiceName:  v.GetString("otel_service_name"),
			Environment:  v.GetString("otel_environment"),
			OTLPEndpoint: v.GetString("otel_exporter_endpoint"),
			MetricsPort:  v.GetString("metrics_port"),
		},
		Log: LogConfig{
			Environment: v.GetString("log_env"),
			Level:       v.GetString("log_level"),
		},
		Messages: MessagesConfig{
			Path: v.GetString("messages_path"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Encryption.Key == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if len(c.Encryption.Key) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}
	if c.Provider.PageSize < 1 || c.Provider.PageSize > 500 {
		return fmt.Errorf("PROVIDER_PAGE_SIZE must be between 1 and 500")
	}
	if c.Provider.MaxRetries < 1 {
		return fmt.Errorf("PROVIDER_MAX_RETRIES must be at least 1")
	}
	if c.TLS.Enabled {
		if c.TLS.CertPath == "" {
			return fmt.Errorf("TLS_CERT_PATH is required when TLS_ENABLED=true")
		}
		if c.TLS.KeyPath == "" {
			return fmt.Errorf("TLS_KEY_PATH is required when TLS_ENABLED=true")
		}
	}
	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func parseInt(v *viper.Viper, key string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || fmt.Sprint(n) != raw {
		return 0, fmt.Errorf("invalid %s: %q is not an integer", strings.ToUpper(key), raw)
	}
	return n, nil
}

// splitList splits a comma-separated value, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
