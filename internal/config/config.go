package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server     ServerConfig
	DB         DBConfig
	Redis      RedisConfig
	NATS       NATSConfig
	JWT        JWTConfig
	CORS       CORSConfig
	Log        LogConfig
	Chat       ChatConfig
	RateLimit  RateLimitConfig
	Ledger     LedgerConfig
	Chain      ChainConfig
	LLM        LLMConfig
	Summary    SummaryConfig
	Engagement EngagementConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MinConns       int32
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL string
}

type JWTConfig struct {
	Secret string
	Expiry time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// ChatConfig controls the per-turn cost and prompt context size.
type ChatConfig struct {
	Cost            decimal.Decimal
	ContextMessages int
	MaxMessageLen   int
}

type RateLimitConfig struct {
	ChatMax    int
	ChatWindow time.Duration
	AuthMax    int
	AuthWindow time.Duration
}

type LedgerConfig struct {
	StartingGrant decimal.Decimal
	DailyReward   decimal.Decimal
	ExchangeRate  decimal.Decimal
}

type ChainConfig struct {
	RPCURL          string
	TreasuryAddress string
	Tolerance       decimal.Decimal
}

type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
	MaxAttempts int
	RPS         float64
	Timeout     time.Duration
}

type SummaryConfig struct {
	Delay       time.Duration
	MaxAttempts int
	Backoff     time.Duration
	Concurrency int
	Window      int
	MinMessages int
}

type EngagementConfig struct {
	Schedule        string
	DefaultTimezone string
	Lookback        time.Duration
	QuietPeriod     time.Duration
	MarkerTTL       time.Duration
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	return fromKoanf(k)
}

func fromKoanf(k *koanf.Koanf) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MinConns:       int32(k.Int("db.min.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
			PoolSize: k.Int("redis.pool.size"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		JWT: JWTConfig{
			Secret: k.String("jwt.secret"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
		Chat: ChatConfig{
			ContextMessages: k.Int("chat.context.messages"),
			MaxMessageLen:   k.Int("chat.max.message.len"),
		},
		RateLimit: RateLimitConfig{
			ChatMax: k.Int("ratelimit.chat.max"),
			AuthMax: k.Int("ratelimit.auth.max"),
		},
		Chain: ChainConfig{
			RPCURL:          k.String("chain.rpc.url"),
			TreasuryAddress: k.String("chain.treasury.address"),
		},
		LLM: LLMConfig{
			BaseURL:     k.String("llm.base.url"),
			APIKey:      k.String("llm.api.key"),
			Model:       k.String("llm.model"),
			Temperature: k.Float64("llm.temperature"),
			TopP:        k.Float64("llm.top.p"),
			MaxTokens:   k.Int("llm.max.tokens"),
			MaxAttempts: k.Int("llm.max.attempts"),
			RPS:         k.Float64("llm.rps"),
		},
		Summary: SummaryConfig{
			MaxAttempts: k.Int("summary.max.attempts"),
			Concurrency: k.Int("summary.concurrency"),
			Window:      k.Int("summary.window"),
			MinMessages: k.Int("summary.min.messages"),
		},
		Engagement: EngagementConfig{
			Schedule:        k.String("engagement.schedule"),
			DefaultTimezone: k.String("engagement.default.timezone"),
		},
	}

	if origins := k.String("cors.allowed.origins"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORS.AllowedOrigins = append(cfg.CORS.AllowedOrigins, o)
			}
		}
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "companion"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "companion"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "debug"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Chat.ContextMessages == 0 {
		cfg.Chat.ContextMessages = 15
	}
	if cfg.Chat.MaxMessageLen == 0 {
		cfg.Chat.MaxMessageLen = 2000
	}
	if cfg.RateLimit.ChatMax == 0 {
		cfg.RateLimit.ChatMax = 20
	}
	if cfg.RateLimit.AuthMax == 0 {
		cfg.RateLimit.AuthMax = 10
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://ai.sumopod.com"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "deepseek-v3-2-251201"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.85
	}
	if cfg.LLM.TopP == 0 {
		cfg.LLM.TopP = 0.9
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 512
	}
	if cfg.LLM.MaxAttempts == 0 {
		cfg.LLM.MaxAttempts = 3
	}
	if cfg.LLM.RPS == 0 {
		cfg.LLM.RPS = 5
	}
	if cfg.Summary.MaxAttempts == 0 {
		cfg.Summary.MaxAttempts = 3
	}
	if cfg.Summary.Concurrency == 0 {
		cfg.Summary.Concurrency = 2
	}
	if cfg.Summary.Window == 0 {
		cfg.Summary.Window = 75
	}
	if cfg.Summary.MinMessages == 0 {
		cfg.Summary.MinMessages = 10
	}
	if cfg.Engagement.Schedule == "" {
		cfg.Engagement.Schedule = "0 * * * *"
	}
	if cfg.Engagement.DefaultTimezone == "" {
		cfg.Engagement.DefaultTimezone = "Asia/Jakarta"
	}

	// Parse durations
	durations := []struct {
		key  string
		def  string
		dest *time.Duration
	}{
		{"jwt.expiry", "168h", &cfg.JWT.Expiry},
		{"ratelimit.chat.window", "60s", &cfg.RateLimit.ChatWindow},
		{"ratelimit.auth.window", "60s", &cfg.RateLimit.AuthWindow},
		{"llm.timeout", "60s", &cfg.LLM.Timeout},
		{"summary.delay", "5s", &cfg.Summary.Delay},
		{"summary.backoff", "10s", &cfg.Summary.Backoff},
		{"engagement.lookback", "168h", &cfg.Engagement.Lookback},
		{"engagement.quiet.period", "2h", &cfg.Engagement.QuietPeriod},
		{"engagement.marker.ttl", "24h", &cfg.Engagement.MarkerTTL},
	}
	for _, d := range durations {
		raw := k.String(d.key)
		if raw == "" {
			raw = d.def
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", d.key, err)
		}
		*d.dest = parsed
	}

	// Parse decimal amounts
	amounts := []struct {
		key  string
		def  string
		dest *decimal.Decimal
	}{
		{"chat.cost", "1", &cfg.Chat.Cost},
		{"ledger.starting.grant", "50", &cfg.Ledger.StartingGrant},
		{"ledger.daily.reward", "5", &cfg.Ledger.DailyReward},
		{"ledger.exchange.rate", "100", &cfg.Ledger.ExchangeRate},
		{"chain.tolerance", "0.0001", &cfg.Chain.Tolerance},
	}
	for _, a := range amounts {
		raw := k.String(a.key)
		if raw == "" {
			raw = a.def
		}
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", a.key, err)
		}
		*a.dest = parsed
	}

	return cfg, nil
}
