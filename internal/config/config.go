package config

import (
	"time"

	"github.com/caarlos0/env/v9"
)

type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	AppEnv   string `env:"APP_ENV" envDefault:"production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DBDriver               string `env:"DB_DRIVER" envDefault:"mysql"` // mysql or sqlite
	DBUser                 string `env:"DB_USER"`
	DBPassword             string `env:"DB_PASSWORD"`
	DBHost                 string `env:"DB_HOST"` // e.g. tcp(host:3306) or unix(/cloudsql/instance)
	DBName                 string `env:"DB_NAME"`
	DBPort                 string `env:"DB_PORT" envDefault:"3306"`
	InstanceConnectionName string `env:"INSTANCE_CONNECTION_NAME"`
	SQLitePath             string `env:"SQLITE_PATH" envDefault:"./data/marketchat.db"`

	FirebaseProjectID     string `env:"FIREBASE_PROJECT_ID"`
	GoogleCredentialsFile string `env:"GOOGLE_CREDENTIALS_FILE"`
	StorageBucket         string `env:"STORAGE_BUCKET"`

	RedisAddr          string `env:"REDIS_ADDR"`
	RedisPassword      string `env:"REDIS_PASSWORD"`
	RedisDB            int    `env:"REDIS_DB" envDefault:"0"`
	RedisChannelPrefix string `env:"REDIS_CHANNEL_PREFIX" envDefault:"marketchat:"`
	AblyKey            string `env:"ABLY_KEY"`

	PaymentGatewayURL        string        `env:"PAYMENT_GATEWAY_URL"`
	PaymentGatewayKey        string        `env:"PAYMENT_GATEWAY_KEY"`
	PaymentWebhookSecret     string        `env:"PAYMENT_WEBHOOK_SECRET"`
	PaymentReturnURL         string        `env:"PAYMENT_RETURN_URL"`
	GatewayTimeout           time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
	GatewayRPS               float64       `env:"GATEWAY_RPS" envDefault:"5"`
	AllowManualConfirmPriced bool          `env:"ALLOW_MANUAL_CONFIRM_PRICED" envDefault:"true"`
	ReconcileInterval        time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`

	CORSAllowedSuffix string `env:"CORS_ALLOWED_SUFFIX" envDefault:"vercel.app"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "dev"
}
