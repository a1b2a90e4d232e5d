package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	Admin          AdminConfig
	Redis          RedisConfig
	Registry       RegistryConfig
	Session        SessionConfig
	Signaling      SignalingConfig
	Log            LogConfig
}

type AdminConfig struct {
	User     string
	Password string
}

// MinPresenceTTL leaves room for two ping periods between claim refreshes.
const MinPresenceTTL = 2 * time.Minute

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
	// PresenceTTL bounds how long an identity claim survives an instance crash.
	// Claims of connected peers are refreshed every PresenceTTL/2, so it must
	// be longer than the 54s ping period.
	PresenceTTL time.Duration
}

type RegistryConfig struct {
	MaxPeers int
	IDLength int
}

type SessionConfig struct {
	// Policy is "reject" or "preempt".
	Policy         string
	PendingTimeout time.Duration
	TombstoneTTL   time.Duration
}

type SignalingConfig struct {
	SendBuffer           int
	MaxMessagesPerSecond int
	MaxMessageBytes      int64
}

type LogConfig struct {
	Level      string
	Filename   string
	MaxSize    int
	MaxAge     int
	MaxBackups int
}

// ClientConfig configures the peercam command line client.
type ClientConfig struct {
	SignalURL string
	STUNURLs  []string
	DeviceID  string
	Log       LogConfig
}

// LoadEnvFiles loads .env and .env.<mode> when present. Missing files are not an error.
func LoadEnvFiles(mode string) error {
	files := []string{}
	for _, name := range []string{".env." + mode, ".env"} {
		if _, err := os.Stat(name); err == nil {
			files = append(files, name)
		}
	}
	if len(files) == 0 {
		return nil
	}
	// godotenv.Load never overrides variables that are already set, so the
	// mode specific file wins over the shared one.
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load env files %v: %w", files, err)
	}
	return nil
}

func Load() (*Config, error) {
	env := getEnv("ENVIRONMENT", "development")
	if err := LoadEnvFiles(env); err != nil {
		return nil, err
	}

	// Parse allowed origins (comma-separated)
	origins := splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"))

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		Admin: AdminConfig{
			User:     getEnv("ADMIN_USER", "admin"),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
		Redis: RedisConfig{
			Enabled:     getBool("REDIS_ENABLED", false),
			Host:        getEnv("REDIS_HOST", "localhost"),
			Port:        getEnv("REDIS_PORT", "6379"),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getInt("REDIS_DB", 0),
			PresenceTTL: getDuration("REDIS_PRESENCE_TTL", 24*time.Hour),
		},
		Registry: RegistryConfig{
			MaxPeers: getInt("MAX_PEERS", 0),
			IDLength: getInt("ID_LENGTH", 12),
		},
		Session: SessionConfig{
			Policy:         strings.ToLower(getEnv("SESSION_POLICY", "reject")),
			PendingTimeout: getDuration("PENDING_TIMEOUT", 0),
			TombstoneTTL:   getDuration("SESSION_TOMBSTONE_TTL", 5*time.Minute),
		},
		Signaling: SignalingConfig{
			SendBuffer:           getInt("SEND_BUFFER", 256),
			MaxMessagesPerSecond: getInt("MAX_MESSAGES_PER_SECOND", 50),
			MaxMessageBytes:      int64(getInt("MAX_MESSAGE_BYTES", 64*1024)),
		},
		Log: loadLogConfig("./logs/signaling.log"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Session.Policy {
	case "reject", "preempt":
	default:
		return fmt.Errorf("invalid SESSION_POLICY %q (want reject or preempt)", c.Session.Policy)
	}
	if c.Registry.MaxPeers < 0 {
		return fmt.Errorf("MAX_PEERS must be >= 0")
	}
	if c.Registry.IDLength < 8 {
		return fmt.Errorf("ID_LENGTH must be >= 8")
	}
	if c.Signaling.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be > 0")
	}
	if c.Redis.Enabled && c.Redis.PresenceTTL < MinPresenceTTL {
		return fmt.Errorf("REDIS_PRESENCE_TTL must be >= %s", MinPresenceTTL)
	}
	if c.Environment == "production" && c.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func LoadClient() (*ClientConfig, error) {
	if err := LoadEnvFiles(getEnv("ENVIRONMENT", "development")); err != nil {
		return nil, err
	}
	return &ClientConfig{
		SignalURL: getEnv("SIGNAL_URL", "ws://localhost:8080/ws/signal"),
		STUNURLs:  splitList(getEnv("STUN_URLS", "stun:stun.l.google.com:19302")),
		DeviceID:  getEnv("DEVICE_ID", ""),
		Log:       loadLogConfig("./logs/peercam.log"),
	}, nil
}

func loadLogConfig(defaultFile string) LogConfig {
	return LogConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Filename:   getEnv("LOG_FILENAME", defaultFile),
		MaxSize:    getInt("LOG_MAX_SIZE", 100),
		MaxAge:     getInt("LOG_MAX_AGE", 30),
		MaxBackups: getInt("LOG_MAX_BACKUPS", 5),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
