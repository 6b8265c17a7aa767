package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const (
	envPrefix = "SKILLNEST"

	BrokerRedis  = "redis"
	BrokerMemory = "memory"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	ServerAddr     string
	DatabaseDriver string
	DatabaseDSN    string
	SigningKey     []byte
	CookieName     string
	AllowedOrigins []string
	LogLevel       string

	Broker        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NodeId        string
	MemberTTL     time.Duration

	NatsURL     string
	EventsTopic string
	EventsQueue string

	MeetingDomain   string
	MeetingAppId    string
	MeetingSecret   []byte
	MeetingTokenTTL time.Duration

	HistoryPageSize    int
	MaxHistoryPageSize int

	InboundRate  float64
	InboundBurst int

	HeartbeatInterval time.Duration
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.address", "0.0.0.0:8000")
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=skillnest sslmode=disable")
	v.SetDefault("auth.cookie_name", "access_token")
	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("log.level", "info")
	v.SetDefault("broker.backend", BrokerRedis)
	v.SetDefault("broker.redis_addr", "localhost:6379")
	v.SetDefault("broker.redis_db", 0)
	v.SetDefault("broker.member_ttl", 90*time.Second)
	v.SetDefault("events.subject", "skillnest.events.notifications")
	v.SetDefault("events.queue", "realtime-notify")
	v.SetDefault("meeting.domain", "meet.jit.si")
	v.SetDefault("meeting.app_id", "skillnest")
	v.SetDefault("meeting.token_ttl", time.Hour)
	v.SetDefault("chat.history_page_size", 50)
	v.SetDefault("chat.max_history_page_size", 100)
	v.SetDefault("ws.inbound_rate", 10.0)
	v.SetDefault("ws.inbound_burst", 20)
	v.SetDefault("presence.heartbeat_interval", 30*time.Second)
}

// Load parses runtime configuration from viper.
func Load(v *viper.Viper) (*Config, error) {
	cfg, err := NewConfig(
		v.GetString("http.address"),
		v.GetString("database.dsn"),
		v.GetString("auth.signing_key"),
		v.GetStringSlice("cors.allowed_origins"),
	)
	if err != nil {
		return nil, err
	}

	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(v.GetString("database.driver")))
	cfg.CookieName = v.GetString("auth.cookie_name")
	cfg.LogLevel = v.GetString("log.level")
	cfg.Broker = strings.ToLower(strings.TrimSpace(v.GetString("broker.backend")))
	cfg.RedisAddr = v.GetString("broker.redis_addr")
	cfg.RedisPassword = v.GetString("broker.redis_password")
	cfg.RedisDB = v.GetInt("broker.redis_db")
	cfg.NodeId = v.GetString("broker.node_id")
	cfg.MemberTTL = v.GetDuration("broker.member_ttl")
	cfg.NatsURL = v.GetString("events.nats_url")
	cfg.EventsTopic = v.GetString("events.subject")
	cfg.EventsQueue = v.GetString("events.queue")
	cfg.MeetingDomain = v.GetString("meeting.domain")
	cfg.MeetingAppId = v.GetString("meeting.app_id")
	cfg.MeetingTokenTTL = v.GetDuration("meeting.token_ttl")
	cfg.HistoryPageSize = v.GetInt("chat.history_page_size")
	cfg.MaxHistoryPageSize = v.GetInt("chat.max_history_page_size")
	cfg.InboundRate = v.GetFloat64("ws.inbound_rate")
	cfg.InboundBurst = v.GetInt("ws.inbound_burst")
	cfg.HeartbeatInterval = v.GetDuration("presence.heartbeat_interval")

	if secret := v.GetString("meeting.secret"); secret != "" {
		cfg.MeetingSecret = []byte(secret)
	} else {
		cfg.MeetingSecret = cfg.SigningKey
	}
	if cfg.NodeId == "" {
		cfg.NodeId = uuid.NewString()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("empty signing secret")
	}
	return key, nil
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:    databaseDSN,
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
	}, nil
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}

	switch c.Broker {
	case BrokerRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return fmt.Errorf("broker.redis_addr is required for the redis broker")
		}
	case BrokerMemory:
	default:
		return fmt.Errorf("unsupported broker backend %q", c.Broker)
	}

	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.HistoryPageSize <= 0 || c.MaxHistoryPageSize < c.HistoryPageSize {
		return fmt.Errorf("invalid history page sizes: default %d, max %d", c.HistoryPageSize, c.MaxHistoryPageSize)
	}
	if c.InboundRate <= 0 || c.InboundBurst <= 0 {
		return fmt.Errorf("ws.inbound_rate and ws.inbound_burst must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("presence.heartbeat_interval must be positive")
	}
	if c.MemberTTL <= c.HeartbeatInterval {
		return fmt.Errorf("broker.member_ttl (%s) must exceed presence.heartbeat_interval (%s)", c.MemberTTL, c.HeartbeatInterval)
	}
	if c.MeetingTokenTTL <= 0 {
		return fmt.Errorf("meeting.token_ttl must be positive")
	}
	return nil
}
