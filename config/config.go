package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rorycl/d365cli/apiclients/d365"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v2"
)

// DefaultEnvFile is loaded when present and no other env file is named.
const DefaultEnvFile = ".env"

// Environment variables that override the d365 section of the config file.
const (
	EnvTenantID       = "D365_TENANT_ID"
	EnvClientID       = "D365_CLIENT_ID"
	EnvClientSecret   = "D365_CLIENT_SECRET"
	EnvEnvironmentURL = "D365_ENVIRONMENT_URL"
)

// Config represents the entire application configuration.
type Config struct {
	D365         D365Config  `yaml:"d365"`
	Retry        RetryConfig `yaml:"retry"`
	Web          WebConfig   `yaml:"web"`
	DatabasePath string      `yaml:"database_path"`
	LogFile      string      `yaml:"log_file"`
}

// D365Config holds the environment and app registration settings.
type D365Config struct {
	TenantID             string `yaml:"tenant_id"`
	ClientID             string `yaml:"client_id"`
	ClientSecret         string `yaml:"client_secret"`
	EnvironmentURL       string `yaml:"environment_url"`
	AuthorityHost        string `yaml:"authority_host"` // defaults to d365.DefaultAuthorityHost
	ReauthOnUnauthorized bool   `yaml:"reauth_on_unauthorized"`
}

// RetryConfig holds the retry policy settings. Durations are written as Go
// duration strings such as "1s" or "250ms".
type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	BackoffBase       float64 `yaml:"backoff_base"`
	BackoffUnitStr    string  `yaml:"backoff_unit"`
	AttemptTimeoutStr string  `yaml:"attempt_timeout"`
	BackoffUnit       time.Duration // Parsed from BackoffUnitStr
	AttemptTimeout    time.Duration // Parsed from AttemptTimeoutStr
}

// WebConfig holds settings specific to the dashboard.
type WebConfig struct {
	ListenAddress string `yaml:"listen_address"`
	TemplatesPath string `yaml:"templates_path"`
	DashboardFile string `yaml:"dashboard_file"`
}

// Load loads configuration from the optional YAML file at filePath and the
// optional env file, applies environment overrides and validates the result.
// An empty envFile loads DefaultEnvFile if it exists. Values already set in
// the process environment are not overwritten by the env file.
func Load(filePath, envFile string) (*Config, error) {
	var cfg Config

	if filePath != "" {
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", filePath)
		}
		configFile, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(configFile, &cfg); err != nil {
			return nil, fmt.Errorf("unable to parse YAML config file: %w", err)
		}
	}

	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}
	applyEnv(&cfg)

	if err := validateAndPrepare(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadEnvFile loads a dotenv file. A missing default file is not an error.
func loadEnvFile(envFile string) error {
	if envFile == "" {
		if _, err := os.Stat(DefaultEnvFile); err != nil {
			return nil
		}
		envFile = DefaultEnvFile
	}
	if err := gotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}
	return nil
}

// applyEnv overrides d365 settings with any non-empty environment variables.
func applyEnv(c *Config) {
	for env, field := range map[string]*string{
		EnvTenantID:       &c.D365.TenantID,
		EnvClientID:       &c.D365.ClientID,
		EnvClientSecret:   &c.D365.ClientSecret,
		EnvEnvironmentURL: &c.D365.EnvironmentURL,
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*field = v
		}
	}
}

// validateAndPrepare checks for required fields, fills defaults and sets up
// derived values. All missing credentials are reported together.
func validateAndPrepare(c *Config) error {
	// D365
	var missing []string
	for _, m := range []struct {
		env, value string
	}{
		{EnvTenantID, c.D365.TenantID},
		{EnvClientID, c.D365.ClientID},
		{EnvClientSecret, c.D365.ClientSecret},
		{EnvEnvironmentURL, c.D365.EnvironmentURL},
	} {
		if m.value == "" {
			missing = append(missing, m.env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	if !strings.HasPrefix(c.D365.EnvironmentURL, "https://") && !strings.HasPrefix(c.D365.EnvironmentURL, "http://") {
		return errors.New("d365.environment_url must start with https://")
	}
	c.D365.EnvironmentURL = strings.TrimRight(c.D365.EnvironmentURL, "/")
	if c.D365.AuthorityHost == "" {
		c.D365.AuthorityHost = d365.DefaultAuthorityHost
	}

	// Retry
	def := d365.DefaultRetryPolicy()
	r := &c.Retry
	if r.MaxAttempts == 0 {
		r.MaxAttempts = def.MaxAttempts
	}
	if r.BackoffBase == 0 {
		r.BackoffBase = def.BackoffBase
	}
	r.BackoffUnit = def.BackoffUnit
	if r.BackoffUnitStr != "" {
		d, err := time.ParseDuration(r.BackoffUnitStr)
		if err != nil {
			return fmt.Errorf("invalid retry.backoff_unit: %w", err)
		}
		r.BackoffUnit = d
	}
	r.AttemptTimeout = def.AttemptTimeout
	if r.AttemptTimeoutStr != "" {
		d, err := time.ParseDuration(r.AttemptTimeoutStr)
		if err != nil {
			return fmt.Errorf("invalid retry.attempt_timeout: %w", err)
		}
		r.AttemptTimeout = d
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("invalid retry settings: %w", err)
	}

	// Web
	if c.Web.ListenAddress == "" {
		c.Web.ListenAddress = "127.0.0.1:8080"
	}
	if c.Web.DashboardFile == "" {
		c.Web.DashboardFile = "customer_dashboard.html"
	}
	if c.Web.TemplatesPath != "" {
		if fi, err := os.Stat(c.Web.TemplatesPath); err != nil || !fi.IsDir() {
			return fmt.Errorf("web.templates_path %s is not a directory", c.Web.TemplatesPath)
		}
	}

	return nil
}

// Credentials returns the client-credentials inputs.
func (c *Config) Credentials() d365.Credentials {
	return d365.Credentials{
		TenantID:       c.D365.TenantID,
		ClientID:       c.D365.ClientID,
		ClientSecret:   c.D365.ClientSecret,
		EnvironmentURL: c.D365.EnvironmentURL,
	}
}

// RetryPolicy returns the configured retry policy.
func (c *Config) RetryPolicy() d365.RetryPolicy {
	return d365.RetryPolicy{
		MaxAttempts:    c.Retry.MaxAttempts,
		BackoffBase:    c.Retry.BackoffBase,
		BackoffUnit:    c.Retry.BackoffUnit,
		AttemptTimeout: c.Retry.AttemptTimeout,
	}
}
