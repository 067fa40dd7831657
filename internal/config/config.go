package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the billing backend.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Provider ProviderConfig
	Billing  BillingConfig
	JWT      JWTConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// ProviderConfig configures the external payment processor client.
type ProviderConfig struct {
	APIBaseURL    string
	APIKey        string
	WebhookSecret string
	// Tolerance is the maximum accepted age of a signed webhook timestamp.
	Tolerance time.Duration
}

type BillingConfig struct {
	// MonthlyDuesCents is the standard membership charge in minor units.
	// Zero disables the monthly charge run entirely.
	MonthlyDuesCents int64
	Currency         string
}

type JWTConfig struct {
	SecretKey string
}

// Load reads .env plus environment overrides and returns the typed config.
func Load() *Config {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.BindEnv("server.port", "PORT")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("provider.api_base_url", "PROVIDER_API_BASE_URL")
	viper.BindEnv("provider.api_key", "PROVIDER_API_KEY")
	viper.BindEnv("provider.webhook_secret", "PROVIDER_WEBHOOK_SECRET")

	viper.BindEnv("billing.monthly_dues_cents", "BILLING_MONTHLY_DUES_CENTS")
	viper.BindEnv("billing.currency", "BILLING_CURRENCY")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	viper.SetDefault("server.port", "8080")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "clubledger")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Minute*5)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("provider.api_base_url", "https://api.payments.example.com")
	viper.SetDefault("provider.tolerance", 5*time.Minute)

	viper.SetDefault("billing.monthly_dues_cents", 0)
	viper.SetDefault("billing.currency", "USD")

	return &Config{
		Server: ServerConfig{
			Port: viper.GetString("server.port"),
		},
		Database: DatabaseConfig{
			Host:            viper.GetString("database.host"),
			Port:            viper.GetString("database.port"),
			User:            viper.GetString("database.user"),
			Password:        viper.GetString("database.password"),
			Name:            viper.GetString("database.name"),
			SSLMode:         viper.GetString("database.ssl_mode"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: viper.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Host:     viper.GetString("redis.host"),
			Port:     viper.GetString("redis.port"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Provider: ProviderConfig{
			APIBaseURL:    viper.GetString("provider.api_base_url"),
			APIKey:        viper.GetString("provider.api_key"),
			WebhookSecret: viper.GetString("provider.webhook_secret"),
			Tolerance:     viper.GetDuration("provider.tolerance"),
		},
		Billing: BillingConfig{
			MonthlyDuesCents: viper.GetInt64("billing.monthly_dues_cents"),
			Currency:         viper.GetString("billing.currency"),
		},
		JWT: JWTConfig{
			SecretKey: viper.GetString("jwt.secret_key"),
		},
	}
}
