package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
	Logger    Logger    `mapstructure:"logger"`
	Ledger    Ledger    `mapstructure:"ledger"`
	Worker    Worker    `mapstructure:"worker"`
	Gains     Gains     `mapstructure:"gains"`
	Admission Admission `mapstructure:"admission"`
	Notify    Notify    `mapstructure:"notify"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Database holds the configuration for the database.
type Database struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "postgres"
	DSN    string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Ledger selects where trade history is read from.
type Ledger struct {
	Source         string        `mapstructure:"source"` // "db" or "rest"
	BaseURL        string        `mapstructure:"base_url"`
	ApiKey         string        `mapstructure:"apiKey"`
	SecretKey      string        `mapstructure:"secretKey"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Worker holds the configuration for the calculation worker pool.
type Worker struct {
	Concurrency   int           `mapstructure:"concurrency"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	ClaimTimeout  time.Duration `mapstructure:"claim_timeout"`
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	// Embedded runs the pool inside the API process.
	Embedded bool `mapstructure:"embedded"`
}

// Gains holds matching engine options.
type Gains struct {
	OversoldPolicy string `mapstructure:"oversold_policy"` // "error" or "zero_basis"
	LotEligibility string `mapstructure:"lot_eligibility"` // "any" or "prior"
}

// Admission limits how fast one user may create sessions.
type Admission struct {
	Rate  float64 `mapstructure:"rate"` // sessions per second per user
	Burst int     `mapstructure:"burst"`
}

// Notify selects the publish/subscribe backend.
type Notify struct {
	Backend string `mapstructure:"backend"` // "memory" or "postgres"
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	err = v.ReadInConfig()
	if err != nil {
		return
	}

	err = v.Unmarshal(&config)
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "sandbox.db")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")

	v.SetDefault("ledger.source", "db")
	v.SetDefault("ledger.rate_limit", 20) // requests per second
	v.SetDefault("ledger.rate_limit_burst", 5)
	v.SetDefault("ledger.timeout", "10s")

	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_interval", "500ms")
	v.SetDefault("worker.claim_timeout", "2m")
	v.SetDefault("worker.queue_timeout", "10m")
	v.SetDefault("worker.sweep_interval", "15s")
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.embedded", true)

	v.SetDefault("gains.oversold_policy", "error")
	v.SetDefault("gains.lot_eligibility", "any")

	v.SetDefault("admission.rate", 1)
	v.SetDefault("admission.burst", 5)

	v.SetDefault("notify.backend", "memory")
}
