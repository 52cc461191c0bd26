package config

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	Log          LogConfig
	JWT          JWTConfig
	Features     map[string]bool
	Settlement   SettlementConfig
	RateLimit    RateLimitConfig
	Reconcile    ReconcileConfig
	MoneyRequest MoneyRequestConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type LogConfig struct {
	Level  string
	Format string // text or json
}

type JWTConfig struct {
	SecretKey string
}

type SettlementConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type ReconcileConfig struct {
	Schedule     string
	PendingAfter time.Duration
	Lookback     time.Duration
}

type MoneyRequestConfig struct {
	TTL time.Duration
}

// FeatureNames lists every flag the services consult.
var FeatureNames = []string{"topUp", "withdraw", "moneySend", "moneyRequest", "cardPayment"}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.allowed_origins", []string{"https://*", "http://*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	for _, name := range FeatureNames {
		v.SetDefault("features."+name, true)
	}

	v.SetDefault("settlement.base_url", "http://localhost:9090")
	v.SetDefault("settlement.timeout", 10*time.Second)

	v.SetDefault("ratelimit.rps", 10)
	v.SetDefault("ratelimit.burst", 20)

	v.SetDefault("reconcile.schedule", "@every 15m")
	v.SetDefault("reconcile.pending_after", 30*time.Minute)
	v.SetDefault("reconcile.lookback", 24*time.Hour)

	v.SetDefault("money_request.ttl", 15*time.Minute)
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("server.port", "PORT")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")
	v.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	v.BindEnv("settlement.base_url", "SETTLEMENT_BASE_URL")
	v.BindEnv("settlement.api_key", "SETTLEMENT_API_KEY")
	v.BindEnv("settlement.timeout", "SETTLEMENT_TIMEOUT")
	v.BindEnv("ratelimit.rps", "RATE_LIMIT_RPS")
	v.BindEnv("ratelimit.burst", "RATE_LIMIT_BURST")
	v.BindEnv("reconcile.schedule", "RECONCILE_SCHEDULE")
	v.BindEnv("money_request.ttl", "MONEY_REQUEST_TTL")

	v.BindEnv("features.topUp", "FEATURE_TOPUP")
	v.BindEnv("features.withdraw", "FEATURE_WITHDRAW")
	v.BindEnv("features.moneySend", "FEATURE_MONEY_SEND")
	v.BindEnv("features.moneyRequest", "FEATURE_MONEY_REQUEST")
	v.BindEnv("features.cardPayment", "FEATURE_CARD_PAYMENT")
}

// Load reads the application config from v. Callers own reading the config
// file; a missing file just leaves the defaults in place.
func Load(v *viper.Viper) *Config {
	setDefaults(v)
	bindEnv(v)

	features := make(map[string]bool, len(FeatureNames))
	for _, name := range FeatureNames {
		features[name] = v.GetBool("features." + name)
	}

	return &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			IdleTimeout:     v.GetDuration("server.idle_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			AllowedOrigins:  v.GetStringSlice("server.allowed_origins"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		JWT: JWTConfig{
			SecretKey: v.GetString("jwt.secret_key"),
		},
		Features: features,
		Settlement: SettlementConfig{
			BaseURL: v.GetString("settlement.base_url"),
			APIKey:  v.GetString("settlement.api_key"),
			Timeout: v.GetDuration("settlement.timeout"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: v.GetFloat64("ratelimit.rps"),
			Burst:             v.GetInt("ratelimit.burst"),
		},
		Reconcile: ReconcileConfig{
			Schedule:     v.GetString("reconcile.schedule"),
			PendingAfter: v.GetDuration("reconcile.pending_after"),
			Lookback:     v.GetDuration("reconcile.lookback"),
		},
		MoneyRequest: MoneyRequestConfig{
			TTL: v.GetDuration("money_request.ttl"),
		},
	}
}

// ConfigureLogger applies the log section to the global logrus logger.
func (c LogConfig) ConfigureLogger(logger *logrus.Logger) {
	if c.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		logger.WithField("level", c.Level).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}
