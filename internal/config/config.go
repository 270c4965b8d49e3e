package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultIndex is used when ES_INDEX is unset.
const DefaultIndex = "salesforce-opportunities"

// Elasticsearch holds connection parameters for the target cluster.
type Elasticsearch struct {
	ClusterURL  string
	Username    string
	Password    string
	APIKey      string
	Index       string
	VerifyCerts bool
	CACertPath  string
	Timeout     time.Duration
}

// UsesAPIKey reports whether API key auth is configured.
func (e Elasticsearch) UsesAPIKey() bool { return e.APIKey != "" }

// Salesforce describes how to reach the org through the Salesforce CLI.
type Salesforce struct {
	TargetOrg  string
	CLIPath    string
	APIVersion string
	Timeout    time.Duration
}

// Retry bounds the backoff applied to transient failures.
type Retry struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Logging configures the slog handler and the per-program log file.
type Logging struct {
	Level  string
	Format string
	Dir    string
}

// Dashboard describes the read-only HTTP layer.
type Dashboard struct {
	BindAddr    string
	DefaultPage int
	MaxPage     int
}

// Config is built once at startup and handed to every component.
type Config struct {
	Elasticsearch Elasticsearch
	Salesforce    Salesforce
	Retry         Retry
	Logging       Logging
	Dashboard     Dashboard
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	// A missing .env is fine; real environment variables always win.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (*Config, error) {
	c := &Config{
		Elasticsearch: Elasticsearch{
			ClusterURL:  getEnv("ES_CLUSTER_URL", "http://localhost:9200"),
			Username:    os.Getenv("ES_USERNAME"),
			Password:    os.Getenv("ES_PASSWORD"),
			APIKey:      os.Getenv("ES_API_KEY"),
			Index:       getEnv("ES_INDEX", DefaultIndex),
			VerifyCerts: getBool("ES_VERIFY_CERTS", true),
			CACertPath:  os.Getenv("ES_CA_CERT"),
			Timeout:     getDuration("ES_TIMEOUT", "30s"),
		},
		Salesforce: Salesforce{
			TargetOrg:  os.Getenv("SF_TARGET_ORG"),
			CLIPath:    getEnv("SF_CLI_PATH", "sf"),
			APIVersion: getEnv("SF_API_VERSION", "v65.0"),
			Timeout:    getDuration("SF_TIMEOUT", "30s"),
		},
		Retry: Retry{
			MaxAttempts:     getInt("RETRY_MAX_ATTEMPTS", 5),
			InitialInterval: getDuration("RETRY_INITIAL_INTERVAL", "500ms"),
			MaxInterval:     getDuration("RETRY_MAX_INTERVAL", "10s"),
		},
		Logging: Logging{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
			Dir:    getEnv("LOG_DIR", "."),
		},
		Dashboard: Dashboard{
			BindAddr:    getEnv("DASHBOARD_ADDR", "0.0.0.0:8080"),
			DefaultPage: getInt("DASHBOARD_PAGE_SIZE", 20),
			MaxPage:     getInt("DASHBOARD_MAX_PAGE_SIZE", 100),
		},
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks cross-field rules.
func (c *Config) Validate() error {
	es := c.Elasticsearch
	if !strings.HasPrefix(es.ClusterURL, "http://") && !strings.HasPrefix(es.ClusterURL, "https://") {
		return fmt.Errorf("ES_CLUSTER_URL must start with http:// or https://")
	}
	if es.APIKey != "" && (es.Username != "" || es.Password != "") {
		return errors.New("ES_API_KEY cannot be combined with ES_USERNAME/ES_PASSWORD")
	}
	if (es.Username == "") != (es.Password == "") {
		return errors.New("ES_USERNAME and ES_PASSWORD must be set together")
	}
	if strings.TrimSpace(es.Index) == "" {
		return errors.New("ES_INDEX cannot be blank")
	}
	if es.Index != strings.ToLower(es.Index) {
		return fmt.Errorf("ES_INDEX must be lowercase, got %q", es.Index)
	}
	if es.Timeout <= 0 {
		return errors.New("ES_TIMEOUT must be positive")
	}
	if c.Salesforce.CLIPath == "" {
		return errors.New("SF_CLI_PATH cannot be blank")
	}
	if c.Salesforce.Timeout <= 0 {
		return errors.New("SF_TIMEOUT must be positive")
	}
	if !strings.HasPrefix(c.Salesforce.APIVersion, "v") {
		return fmt.Errorf("SF_API_VERSION must look like v65.0, got %q", c.Salesforce.APIVersion)
	}
	if c.Retry.MaxAttempts <= 0 {
		return errors.New("RETRY_MAX_ATTEMPTS must be positive")
	}
	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		return errors.New("RETRY_INITIAL_INTERVAL must be positive and not exceed RETRY_MAX_INTERVAL")
	}
	switch c.Logging.Format {
	case "text", "json", "pretty":
	default:
		return fmt.Errorf("LOG_FORMAT must be text, json or pretty, got %q", c.Logging.Format)
	}
	if c.Dashboard.DefaultPage <= 0 {
		return errors.New("DASHBOARD_PAGE_SIZE must be positive")
	}
	if c.Dashboard.MaxPage <= 0 {
		return errors.New("DASHBOARD_MAX_PAGE_SIZE must be positive")
	}
	if c.Dashboard.DefaultPage > c.Dashboard.MaxPage {
		return errors.New("DASHBOARD_PAGE_SIZE cannot exceed DASHBOARD_MAX_PAGE_SIZE")
	}
	return nil
}

// AuthMode names the configured Elasticsearch authentication.
func (c *Config) AuthMode() string {
	switch {
	case c.Elasticsearch.UsesAPIKey():
		return "api_key"
	case c.Elasticsearch.Username != "":
		return "basic"
	default:
		return "none"
	}
}

// Redacted returns printable key/value pairs with secrets masked.
func (c *Config) Redacted() [][2]string {
	es := c.Elasticsearch
	org := c.Salesforce.TargetOrg
	if org == "" {
		org = "(sf default org)"
	}
	return [][2]string{
		{"Cluster", es.ClusterURL},
		{"Authentication", authLabel(c)},
		{"Password", mask(es.Password)},
		{"API key", mask(es.APIKey)},
		{"SSL verification", enabled(es.VerifyCerts)},
		{"Index", es.Index},
		{"Salesforce org", org},
		{"Salesforce API", c.Salesforce.APIVersion},
		{"Log level", c.Logging.Level},
		{"Log directory", c.Logging.Dir},
	}
}

func authLabel(c *Config) string {
	switch c.AuthMode() {
	case "api_key":
		return "API key"
	case "basic":
		return fmt.Sprintf("Username/Password (%s)", c.Elasticsearch.Username)
	default:
		return "None"
	}
}

func mask(secret string) string {
	if secret == "" {
		return "Not set"
	}
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
}

func enabled(b bool) string {
	if b {
		return "Enabled"
	}
	return "Disabled"
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}
