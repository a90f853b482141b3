package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken      string           `yaml:"discord_token"`
	DatabasePath      string           `yaml:"database_path"`
	DatabaseURL       string           `yaml:"database_url"`
	LogLevel          string           `yaml:"log_level"`
	DefaultLogChannel string           `yaml:"default_log_channel"`
	RetentionDays     int              `yaml:"retention_days"`
	Health            HealthConfig     `yaml:"health"`
	Protection        ProtectionConfig `yaml:"protection"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// ProtectionConfig supplies the process-level defaults for guilds that have
// not written their own settings, plus engine tuning knobs.
type ProtectionConfig struct {
	Enabled          bool       `yaml:"enabled"`
	ResponseType     string     `yaml:"response_type"`
	WindowSeconds    int        `yaml:"window_seconds"`
	PanicModeEnabled bool       `yaml:"panic_mode_enabled"`
	Thresholds       Thresholds `yaml:"thresholds"`

	DispatchTimeoutSeconds int `yaml:"dispatch_timeout_seconds"`
	CacheTTLSeconds        int `yaml:"cache_ttl_seconds"`
	AuditQueueSize         int `yaml:"audit_queue_size"`
	SweepIntervalSeconds   int `yaml:"sweep_interval_seconds"`
	LockdownMinutes        int `yaml:"lockdown_minutes"`
}

type Thresholds struct {
	ChannelCreate int `yaml:"channel_create"`
	ChannelDelete int `yaml:"channel_delete"`
	RoleCreate    int `yaml:"role_create"`
	RoleDelete    int `yaml:"role_delete"`
	MemberBan     int `yaml:"member_ban"`
	MemberKick    int `yaml:"member_kick"`
	MemberPrune   int `yaml:"member_prune"`
	WebhookCreate int `yaml:"webhook_create"`
	WebhookDelete int `yaml:"webhook_delete"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath:  "/data/nukeguard.db",
		LogLevel:      "info",
		RetentionDays: 30,
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		Protection: ProtectionConfig{
			Enabled:       false,
			ResponseType:  "quarantine",
			WindowSeconds: 60,
			Thresholds: Thresholds{
				ChannelCreate: 10,
				ChannelDelete: 5,
				RoleCreate:    10,
				RoleDelete:    5,
				MemberBan:     10,
				MemberKick:    10,
				MemberPrune:   50,
				WebhookCreate: 10,
				WebhookDelete: 10,
			},
			DispatchTimeoutSeconds: 5,
			CacheTTLSeconds:        15,
			AuditQueueSize:         256,
			SweepIntervalSeconds:   120,
			LockdownMinutes:        10,
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// validate rejects invariant violations at load time so the detection path
// never re-checks them.
func validate(cfg Config) error {
	p := cfg.Protection
	if p.WindowSeconds < 1 {
		return fmt.Errorf("protection.window_seconds must be >= 1, got %d", p.WindowSeconds)
	}
	switch p.ResponseType {
	case "quarantine", "ban", "kick", "log_only", "panic":
	default:
		return fmt.Errorf("unknown protection.response_type %q", p.ResponseType)
	}
	thresholds := []int{
		p.Thresholds.ChannelCreate, p.Thresholds.ChannelDelete,
		p.Thresholds.RoleCreate, p.Thresholds.RoleDelete,
		p.Thresholds.MemberBan, p.Thresholds.MemberKick, p.Thresholds.MemberPrune,
		p.Thresholds.WebhookCreate, p.Thresholds.WebhookDelete,
	}
	for _, value := range thresholds {
		if value < 1 {
			return fmt.Errorf("protection thresholds must be >= 1, got %d", value)
		}
	}
	if p.DispatchTimeoutSeconds < 1 {
		return fmt.Errorf("protection.dispatch_timeout_seconds must be >= 1, got %d", p.DispatchTimeoutSeconds)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.DatabaseURL = envString("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.DefaultLogChannel = envString("DEFAULT_LOG_CHANNEL", cfg.DefaultLogChannel)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Protection.Enabled = envBool("PROTECTION_ENABLED", cfg.Protection.Enabled)
	cfg.Protection.ResponseType = envString("PROTECTION_RESPONSE", cfg.Protection.ResponseType)
	cfg.Protection.WindowSeconds = envInt("PROTECTION_WINDOW_SECONDS", cfg.Protection.WindowSeconds)
	cfg.Protection.DispatchTimeoutSeconds = envInt("DISPATCH_TIMEOUT_SECONDS", cfg.Protection.DispatchTimeoutSeconds)
	cfg.Protection.CacheTTLSeconds = envInt("CONFIG_CACHE_TTL_SECONDS", cfg.Protection.CacheTTLSeconds)
	cfg.Protection.LockdownMinutes = envInt("LOCKDOWN_MINUTES", cfg.Protection.LockdownMinutes)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
