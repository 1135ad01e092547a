package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "QUOTESHELF"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "quoteshelf.db"
	defaultLogLevel     = "info"
	defaultUpstreamURL  = "https://api.quotable.io"
	defaultTimeoutSecs  = 60
	defaultCacheTTLMins = 1440
	defaultPageSize     = 30
)

// AppConfig captures runtime configuration for the catalog cache service.
type AppConfig struct {
	HTTPAddress        string
	DatabasePath       string
	LogLevel           string
	UpstreamBaseURL    string
	UpstreamTimeout    time.Duration
	CacheTTL           time.Duration
	PageSize           int
	AdminSigningSecret string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("upstream.base_url", defaultUpstreamURL)
	configViper.SetDefault("upstream.timeout_s", defaultTimeoutSecs)
	configViper.SetDefault("cache.ttl_minutes", defaultCacheTTLMins)
	configViper.SetDefault("page.size", defaultPageSize)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		UpstreamBaseURL:    configViper.GetString("upstream.base_url"),
		UpstreamTimeout:    time.Duration(configViper.GetInt("upstream.timeout_s")) * time.Second,
		CacheTTL:           time.Duration(configViper.GetInt("cache.ttl_minutes")) * time.Minute,
		PageSize:           configViper.GetInt("page.size"),
		AdminSigningSecret: configViper.GetString("admin.signing_secret"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	trimmedURL := strings.TrimSpace(c.UpstreamBaseURL)
	if trimmedURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	parsed, err := url.Parse(trimmedURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("upstream.base_url is not a valid absolute url")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream.timeout_s must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache.ttl_minutes must be positive")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page.size must be positive")
	}
	return nil
}
