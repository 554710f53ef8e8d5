package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	DBDriver       string `env:"DB_DRIVER" envDefault:"mysql"`
	DBUser         string `env:"DB_USER" envDefault:"root"`
	DBPassword     string `env:"DB_PASSWORD"`
	DBPasswordFile string `env:"DB_PASSWORD_FILE,file"`
	DBHost         string `env:"DB_HOST" envDefault:"localhost"`
	DBPort         string `env:"DB_PORT" envDefault:"3306"`
	DBName         string `env:"DB_NAME" envDefault:"marketplace"`
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"settlement.db"`

	JWTSecret     string `env:"JWT_SECRET"`
	JWTSecretFile string `env:"JWT_SECRET_FILE,file"`

	// An empty RabbitMQURL runs without the broker: no timers and
	// notifications go to the store only.
	RabbitMQURL          string `env:"RABBITMQ_URL"`
	OrderExchange        string `env:"ORDER_EXCHANGE" envDefault:"orders_exchange"`
	OrderQueue           string `env:"ORDER_QUEUE" envDefault:"orders_queue"`
	DeadLetterQueue      string `env:"DEAD_LETTER_QUEUE" envDefault:"dead_letter_queue"`
	DelayExchange        string `env:"DELAY_EXCHANGE" envDefault:"delay_exchange"`
	NotificationExchange string `env:"NOTIFICATION_EXCHANGE" envDefault:"notifications_exchange"`
	NotificationQueue    string `env:"NOTIFICATION_QUEUE" envDefault:"notifications_queue"`
	MaxPriority          int    `env:"MAX_PRIORITY" envDefault:"10"`

	PaymentTimeout   time.Duration `env:"PAYMENT_TIMEOUT" envDefault:"15m"`
	AutoReleaseAfter time.Duration `env:"AUTO_RELEASE_AFTER" envDefault:"72h"`
	NotifyBuffer     int           `env:"NOTIFY_BUFFER" envDefault:"256"`

	LogJSON  bool   `env:"LOG_JSON" envDefault:"true"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig reads the environment. *_FILE variables name files holding the
// secret and win over the plain variable.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if v := strings.TrimSpace(cfg.DBPasswordFile); v != "" {
		cfg.DBPassword = v
	}
	if v := strings.TrimSpace(cfg.JWTSecretFile); v != "" {
		cfg.JWTSecret = v
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "mysql", "sqlite", "memory":
	default:
		return fmt.Errorf("DB_DRIVER must be mysql, sqlite or memory, got %q", c.DBDriver)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET or JWT_SECRET_FILE is required")
	}
	if c.MaxPriority < 1 || c.MaxPriority > 255 {
		return fmt.Errorf("MAX_PRIORITY must be between 1 and 255")
	}
	return nil
}

// MySQLDSN is the go-sql-driver DSN for the configured database.
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&multiStatements=false",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}
