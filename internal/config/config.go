package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env               string        `mapstructure:"ENV"`
	Port              string        `mapstructure:"PORT"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	AdminKey          string        `mapstructure:"ADMIN_KEY"`
	ChatURL           string        `mapstructure:"CHAT_URL"`
	ChatAPIKey        string        `mapstructure:"CHAT_API_KEY"`
	RetrievalURL      string        `mapstructure:"RETRIEVAL_URL"`
	FirstTokenTimeout time.Duration `mapstructure:"FIRST_TOKEN_TIMEOUT"`
	FallbackWindow    time.Duration `mapstructure:"FALLBACK_WINDOW"`
	FallbackThreshold int           `mapstructure:"FALLBACK_THRESHOLD"`
	CORSAllowed       string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("FIRST_TOKEN_TIMEOUT", "6s")
	v.SetDefault("FALLBACK_WINDOW", "10m")
	v.SetDefault("FALLBACK_THRESHOLD", 2)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
