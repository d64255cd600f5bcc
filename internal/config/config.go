package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	infisical "github.com/infisical/go-sdk"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Port           string `env:"PORT,default=8080"`
	DatabaseURL    string `env:"DATABASE_URL"`
	TelegramToken  string `env:"TELEGRAM_BOT_TOKEN"`
	FrontendOrigin string `env:"FRONTEND_ORIGIN,default=*"`
	RedisURL       string `env:"REDIS_URL,default=redis://localhost:6379/0"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	LogLevel       string `env:"LOG_LEVEL,default=info"`

	AnalyticsBaseURL string        `env:"ANALYTICS_BASE_URL,default=https://api.vybenetwork.xyz"`
	AnalyticsAPIKey  string        `env:"ANALYTICS_API_KEY"`
	AnalyticsTimeout time.Duration `env:"ANALYTICS_TIMEOUT,default=10s"`
	AnalyticsRPS     float64       `env:"ANALYTICS_RPS,default=5"`

	AlertInterval time.Duration `env:"ALERT_INTERVAL,default=5m"`
	SessionTTL    time.Duration `env:"SESSION_TTL,default=10m"`

	Infisical InfisicalConfig
}

// InfisicalConfig enables the secret overlay when client credentials are set.
type InfisicalConfig struct {
	ClientID     string `env:"INFISICAL_CLIENT_ID"`
	ClientSecret string `env:"INFISICAL_CLIENT_SECRET"`
	ProjectID    string `env:"INFISICAL_PROJECT_ID"`
	SiteURL      string `env:"INFISICAL_SITE_URL,default=https://app.infisical.com"`
	Env          string `env:"INFISICAL_ENV,default=prod"`
}

// Load reads the environment and, if Infisical credentials are present,
// fills empty secrets from Infisical.
func Load(ctx context.Context, logger *slog.Logger) (Config, error) {
	cfg, err := load(ctx, envconfig.OsLookuper())
	if err != nil {
		return Config{}, err
	}
	if cfg.Infisical.ClientID != "" && cfg.Infisical.ClientSecret != "" {
		loadFromInfisical(ctx, &cfg, logger)
	}
	return cfg, nil
}

func load(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// RequireDatabase reports a missing DATABASE_URL.
func (c Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	return nil
}

// RequireBot reports the settings needed to run the bot and scheduler.
func (c Config) RequireBot() error {
	if err := c.RequireDatabase(); err != nil {
		return err
	}
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func loadFromInfisical(ctx context.Context, cfg *Config, logger *slog.Logger) {
	ic := cfg.Infisical
	if ic.ProjectID == "" {
		logger.Warn("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          ic.SiteURL,
		AutoTokenRefresh: false,
	})

	_, err := client.Auth().UniversalAuthLogin(ic.ClientID, ic.ClientSecret)
	if err != nil {
		logger.Error("infisical auth failed", "error", err)
		return
	}

	secrets := map[string]*string{
		"TELEGRAM_BOT_TOKEN": &cfg.TelegramToken,
		"REDIS_PASSWORD":     &cfg.RedisPassword,
		"ANALYTICS_API_KEY":  &cfg.AnalyticsAPIKey,
		"DATABASE_URL":       &cfg.DatabaseURL,
	}

	for key, target := range secrets {
		if *target != "" {
			continue // env var already set, skip
		}
		secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
			SecretKey:   key,
			Environment: ic.Env,
			ProjectID:   ic.ProjectID,
			SecretPath:  "/",
		})
		if err != nil {
			logger.Warn("failed to retrieve secret from infisical", "key", key, "error", err)
			continue
		}
		*target = secret.SecretValue
		logger.Info("loaded secret from infisical", "key", key)
	}
}
