package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Provider ProviderConfig `mapstructure:"provider"`
	Webhooks WebhookConfig  `mapstructure:"webhooks"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type ProviderConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	CallbackSecret string `mapstructure:"callback_secret"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type WebhookConfig struct {
	MaxAttempts    int `mapstructure:"max_attempts"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Load reads config.yaml from path and applies ORBITPAY_* environment
// overrides (e.g. ORBITPAY_DATABASE_URL, ORBITPAY_PROVIDER_API_KEY).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("ORBITPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", "8080")
	v.SetDefault("provider.timeout_seconds", 15)
	v.SetDefault("webhooks.max_attempts", 8)
	v.SetDefault("webhooks.timeout_seconds", 10)

	// A missing file is fine when everything comes from the environment.
	if _, statErr := os.Stat(path); statErr == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
