package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading core.
type Config struct {
	Port     string
	LogLevel string

	// Binance USDT-M futures
	BinanceTestnet    bool
	BinanceUSDTKey    string
	BinanceUSDTSecret string
	BinanceSymbols    []string

	// Trade journal
	DBPath string

	// Auth
	JWTSecret string

	// Redis event fan-out; disabled when RedisAddr is empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	// TradingProfile is an optional YAML file with the startTrading payload.
	TradingProfile string
	AutoStart      bool

	Engine EngineSettings
}

// EngineSettings are the tunables of the signal-to-execution pipeline.
type EngineSettings struct {
	MaxRetries        int
	RetryDelay        time.Duration
	ReconcileInterval time.Duration
	StatsInterval     time.Duration
	Cooldown          time.Duration
	MaxErrors         int
	HistoryLimit      int
	Workers           int

	GroupSize            int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxAttempts int
	PingInterval         time.Duration

	OrderLimit    int
	OrderWindow   time.Duration
	RequestLimit  int
	RequestWindow time.Duration
}

// DefaultEngineSettings mirrors the production constants of the bot.
func DefaultEngineSettings() EngineSettings {
	return EngineSettings{
		MaxRetries:           3,
		RetryDelay:           time.Second,
		ReconcileInterval:    30 * time.Second,
		StatsInterval:        time.Minute,
		Cooldown:             time.Minute,
		MaxErrors:            3,
		HistoryLimit:         100,
		Workers:              4,
		GroupSize:            5,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxAttempts: 5,
		PingInterval:         30 * time.Second,
		OrderLimit:           50,
		OrderWindow:          10 * time.Second,
		RequestLimit:         1200,
		RequestWindow:        time.Minute,
	}
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	def := DefaultEngineSettings()
	return &Config{
		Port:              getEnv("PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		BinanceTestnet:    getEnv("BINANCE_TESTNET", "false") == "true",
		BinanceUSDTKey:    os.Getenv("BINANCE_USDT_KEY"),
		BinanceUSDTSecret: os.Getenv("BINANCE_USDT_SECRET"),
		BinanceSymbols:    splitAndTrim(getEnv("BINANCE_SYMBOLS", "BTCUSDT,ETHUSDT")),
		DBPath:            getEnv("DB_PATH", "./data/trading.db"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RedisChannel:      getEnv("REDIS_CHANNEL", "vortex:events"),
		TradingProfile:    os.Getenv("TRADING_PROFILE"),
		AutoStart:         getEnv("AUTO_START", "false") == "true",
		Engine: EngineSettings{
			MaxRetries:           getEnvInt("ORDER_MAX_RETRIES", def.MaxRetries),
			RetryDelay:           getEnvDuration("ORDER_RETRY_DELAY", def.RetryDelay),
			ReconcileInterval:    getEnvDuration("RECONCILE_INTERVAL", def.ReconcileInterval),
			StatsInterval:        getEnvDuration("STATS_INTERVAL", def.StatsInterval),
			Cooldown:             getEnvDuration("TRADE_COOLDOWN", def.Cooldown),
			MaxErrors:            getEnvInt("MAX_ERRORS", def.MaxErrors),
			HistoryLimit:         getEnvInt("TRADE_HISTORY_LIMIT", def.HistoryLimit),
			Workers:              getEnvInt("EXECUTION_WORKERS", def.Workers),
			GroupSize:            getEnvInt("STREAM_GROUP_SIZE", def.GroupSize),
			ReconnectBaseDelay:   getEnvDuration("RECONNECT_BASE_DELAY", def.ReconnectBaseDelay),
			ReconnectMaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", def.ReconnectMaxAttempts),
			PingInterval:         getEnvDuration("PING_INTERVAL", def.PingInterval),
			OrderLimit:           getEnvInt("RATE_LIMIT_ORDERS", def.OrderLimit),
			OrderWindow:          getEnvDuration("RATE_LIMIT_ORDERS_WINDOW", def.OrderWindow),
			RequestLimit:         getEnvInt("RATE_LIMIT_REQUESTS", def.RequestLimit),
			RequestWindow:        getEnvDuration("RATE_LIMIT_REQUESTS_WINDOW", def.RequestWindow),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, strings.ToUpper(t))
		}
	}
	return out
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("1500ms", "30s") or plain milliseconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
