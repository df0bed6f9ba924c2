package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                = "PUZZLEMINT"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabaseDriver    = "sqlite"
	defaultDatabaseDSN       = "puzzlemint.db"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultWebhookIssuer     = "puzzlemint-relay"
	defaultXPPerMint         = 10
	defaultDropRate          = 0.05
	defaultReconcileInterval = time.Hour
	defaultRotationInterval  = 5 * time.Minute
	defaultPresignTTL        = 15 * time.Minute
)

// AppConfig captures runtime configuration for the API server and its commands.
type AppConfig struct {
	HTTPAddress          string
	DatabaseDriver       string
	DatabaseDSN          string
	LogLevel             string
	LogFormat            string
	WebhookSigningSecret string
	WebhookIssuer        string
	XPPerMint            int64
	ReconcileInterval    time.Duration
	DropRate             float64
	RewardSeed           uint64
	SeasonAutoRotate     bool
	SeasonRotationEvery  time.Duration
	Storage              StorageConfig
	AllowedOrigins       []string
}

// StorageConfig locates piece images. An empty bucket with a public base URL serves images
// without presigning.
type StorageConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
	PresignTTL      time.Duration
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
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("webhook.issuer", defaultWebhookIssuer)
	configViper.SetDefault("ledger.xp_per_mint", defaultXPPerMint)
	configViper.SetDefault("ledger.reconcile_interval", defaultReconcileInterval)
	configViper.SetDefault("rewards.drop_rate", defaultDropRate)
	configViper.SetDefault("rewards.seed", 0)
	configViper.SetDefault("seasons.auto_rotate", true)
	configViper.SetDefault("seasons.rotation_interval", defaultRotationInterval)
	configViper.SetDefault("storage.region", "auto")
	configViper.SetDefault("storage.presign_ttl", defaultPresignTTL)
	configViper.SetDefault("cors.allowed_origins", []string{})
	// Keys without defaults still need explicit binding for AutomaticEnv lookups via Get.
	for _, key := range []string{
		"webhook.signing_secret",
		"storage.bucket",
		"storage.endpoint",
		"storage.access_key_id",
		"storage.secret_access_key",
		"storage.public_base_url",
	} {
		_ = configViper.BindEnv(key)
	}
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		LogLevel:             configViper.GetString("log.level"),
		LogFormat:            strings.ToLower(strings.TrimSpace(configViper.GetString("log.format"))),
		WebhookSigningSecret: configViper.GetString("webhook.signing_secret"),
		WebhookIssuer:        configViper.GetString("webhook.issuer"),
		XPPerMint:            configViper.GetInt64("ledger.xp_per_mint"),
		ReconcileInterval:    configViper.GetDuration("ledger.reconcile_interval"),
		DropRate:             configViper.GetFloat64("rewards.drop_rate"),
		RewardSeed:           configViper.GetUint64("rewards.seed"),
		SeasonAutoRotate:     configViper.GetBool("seasons.auto_rotate"),
		SeasonRotationEvery:  configViper.GetDuration("seasons.rotation_interval"),
		Storage: StorageConfig{
			Bucket:          configViper.GetString("storage.bucket"),
			Region:          configViper.GetString("storage.region"),
			Endpoint:        configViper.GetString("storage.endpoint"),
			AccessKeyID:     configViper.GetString("storage.access_key_id"),
			SecretAccessKey: configViper.GetString("storage.secret_access_key"),
			PublicBaseURL:   configViper.GetString("storage.public_base_url"),
			PresignTTL:      configViper.GetDuration("storage.presign_ttl"),
		},
		AllowedOrigins: splitOrigins(configViper.GetStringSlice("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// splitOrigins accepts both list values and a single comma separated env value.
func splitOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		for _, origin := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	return origins
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.WebhookSigningSecret) == "" {
		return fmt.Errorf("webhook.signing_secret is required")
	}
	if strings.TrimSpace(c.WebhookIssuer) == "" {
		return fmt.Errorf("webhook.issuer is required")
	}
	if c.DatabaseDriver != "sqlite" && c.DatabaseDriver != "postgres" {
		return fmt.Errorf("database.driver must be sqlite or postgres")
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("log.format must be json or console")
	}
	if c.XPPerMint <= 0 {
		return fmt.Errorf("ledger.xp_per_mint must be positive")
	}
	if c.DropRate < 0 || c.DropRate > 1 {
		return fmt.Errorf("rewards.drop_rate must be within [0, 1]")
	}
	return nil
}
