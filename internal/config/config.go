// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage, rate limiting, the quote lifecycle knobs, the external
// collaborators (extraction, sourcing, mail) and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-quote-engine")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// LifecycleConfig tunes classification, comparison and sourcing.
type LifecycleConfig struct {
	ComparisonWindow  time.Duration // COMPARISON_WINDOW_MINUTES
	Stakeholders      []string      // STAKEHOLDER_EMAILS
	UserPatterns      []string      // USER_SUBMISSION_PATTERNS
	ProviderPatterns  []string      // PROVIDER_RESPONSE_PATTERNS
	AcceptPatterns    []string      // ACCEPTANCE_PATTERNS
	DeclinePatterns   []string      // DECLINE_PATTERNS
	AutoResource      bool          // AUTO_RESOURCE
	MaxBatches        int           // MAX_SOURCING_BATCHES
	FanOut            int           // RFQ_FANOUT
	SweepInterval     time.Duration // SWEEP_INTERVAL
	ReceiptTTL        time.Duration // RECEIPT_TTL
	Workers           int           // WORKERS
	QueueSize         int           // QUEUE_SIZE
	EventMaxAttempts  int           // EVENT_MAX_ATTEMPTS
	EventRetryBackoff time.Duration // EVENT_RETRY_BACKOFF
}

// ExtractionConfig configures the model-backed distiller.
type ExtractionConfig struct {
	APIKey  string        // ANTHROPIC_API_KEY; empty disables extraction
	Model   string        // ANTHROPIC_MODEL
	Timeout time.Duration // EXTRACTION_TIMEOUT
}

// SourcingConfig configures the provider discovery endpoint.
type SourcingConfig struct {
	URL     string        // SOURCING_URL; empty disables sourcing
	Timeout time.Duration // SOURCING_TIMEOUT
}

// MailConfig configures outbound SMTP. An empty host logs mail instead.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	RPS      float64
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test
	APIBasePath       string        // base path for API routes

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Storage
	DBPath string // SQLite path

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	Lifecycle  LifecycleConfig
	Extraction ExtractionConfig
	Sourcing   SourcingConfig
	Mail       MailConfig

	// Observability
	OTEL OTELConfig
}

const (
	defaultUserPatterns     = "quote request,need a quote,request a quote,moving quote"
	defaultProviderPatterns = "re:,our rate,quotation,---"
	defaultAcceptPatterns   = "we accept,accepted,agreed,we agree"
	defaultDeclinePatterns  = "decline,cannot accept,can't accept,not able to accept"
)

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		APIBasePath:       normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Storage
		DBPath: getenv("DB_PATH", "quotes.db"),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		Lifecycle: LifecycleConfig{
			ComparisonWindow:  time.Duration(getint("COMPARISON_WINDOW_MINUTES", 30)) * time.Minute,
			Stakeholders:      splitCSV(getenv("STAKEHOLDER_EMAILS", "")),
			UserPatterns:      lowerCSV(getenv("USER_SUBMISSION_PATTERNS", defaultUserPatterns)),
			ProviderPatterns:  lowerCSV(getenv("PROVIDER_RESPONSE_PATTERNS", defaultProviderPatterns)),
			AcceptPatterns:    lowerCSV(getenv("ACCEPTANCE_PATTERNS", defaultAcceptPatterns)),
			DeclinePatterns:   lowerCSV(getenv("DECLINE_PATTERNS", defaultDeclinePatterns)),
			AutoResource:      getbool("AUTO_RESOURCE", true),
			MaxBatches:        getint("MAX_SOURCING_BATCHES", 3),
			FanOut:            getint("RFQ_FANOUT", 4),
			SweepInterval:     getdur("SWEEP_INTERVAL", time.Minute),
			ReceiptTTL:        getdur("RECEIPT_TTL", 72*time.Hour),
			Workers:           getint("WORKERS", 8),
			QueueSize:         getint("QUEUE_SIZE", 256),
			EventMaxAttempts:  getint("EVENT_MAX_ATTEMPTS", 3),
			EventRetryBackoff: getdur("EVENT_RETRY_BACKOFF", 2*time.Second),
		},

		Extraction: ExtractionConfig{
			APIKey:  getenv("ANTHROPIC_API_KEY", ""),
			Model:   getenv("ANTHROPIC_MODEL", ""),
			Timeout: getdur("EXTRACTION_TIMEOUT", 30*time.Second),
		},
		Sourcing: SourcingConfig{
			URL:     getenv("SOURCING_URL", ""),
			Timeout: getdur("SOURCING_TIMEOUT", 10*time.Second),
		},
		Mail: MailConfig{
			Host:     getenv("SMTP_HOST", ""),
			Port:     getint("SMTP_PORT", 587),
			Username: getenv("SMTP_USERNAME", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     getenv("MAIL_FROM", "quotes@localhost"),
			RPS:      getfloat("MAIL_RPS", 5),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-quote-engine"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if err := cfg.Lifecycle.validate(); err != nil {
		return cfg, err
	}
	if cfg.Extraction.Timeout <= 0 || cfg.Sourcing.Timeout <= 0 {
		return cfg, errors.New("EXTRACTION_TIMEOUT and SOURCING_TIMEOUT must be positive")
	}
	if cfg.Mail.RPS < 0 {
		return cfg, errors.New("MAIL_RPS must be >= 0")
	}
	if cfg.Mail.Host != "" && strings.TrimSpace(cfg.Mail.From) == "" {
		return cfg, errors.New("MAIL_FROM must be set when SMTP_HOST is set")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

func (l LifecycleConfig) validate() error {
	switch {
	case l.ComparisonWindow <= 0:
		return errors.New("COMPARISON_WINDOW_MINUTES must be > 0")
	case l.MaxBatches < 1:
		return errors.New("MAX_SOURCING_BATCHES must be >= 1")
	case l.FanOut < 1:
		return errors.New("RFQ_FANOUT must be >= 1")
	case l.SweepInterval <= 0:
		return errors.New("SWEEP_INTERVAL must be > 0")
	case l.ReceiptTTL <= 0:
		return errors.New("RECEIPT_TTL must be > 0")
	case l.Workers < 1:
		return errors.New("WORKERS must be >= 1")
	case l.QueueSize < 1:
		return errors.New("QUEUE_SIZE must be >= 1")
	case l.EventMaxAttempts < 1:
		return errors.New("EVENT_MAX_ATTEMPTS must be >= 1")
	case l.EventRetryBackoff < 0:
		return errors.New("EVENT_RETRY_BACKOFF must be >= 0")
	case len(l.UserPatterns) == 0 || len(l.ProviderPatterns) == 0:
		return errors.New("classification patterns must not be empty")
	}
	return nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// lowerCSV is splitCSV with every pattern lower-cased.
func lowerCSV(s string) []string {
	out := splitCSV(s)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
