package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SocketConfig holds relay server configuration.
type SocketConfig struct {
	Port           int    `mapstructure:"port"`
	AllowedOrigin  string `mapstructure:"allowed_origin"`
	LogLevel       string `mapstructure:"log_level"`
	MaxConnections int    `mapstructure:"max_connections"`

	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ReadLimit       int64         `mapstructure:"read_limit"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	SendBuffer      int           `mapstructure:"send_buffer"`

	ChatBurst  int           `mapstructure:"chat_burst"`
	ChatWindow time.Duration `mapstructure:"chat_window"`

	JWTSecret   string `mapstructure:"jwt_secret"`
	MirrorQueue int    `mapstructure:"mirror_queue"`

	Poll    PollConfig    `mapstructure:"poll"`
	Redis   RedisConfig   `mapstructure:"redis"`
	History HistoryConfig `mapstructure:"history"`
}

// PollConfig tunes the long-poll fallback transport.
type PollConfig struct {
	Wait        time.Duration `mapstructure:"wait"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// RedisConfig enables the Redis mirror.
type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	Prefix      string        `mapstructure:"prefix"`
	PlaybackTTL time.Duration `mapstructure:"playback_ttl"`
}

// HistoryConfig enables the SQLite history mirror. An empty path disables it.
type HistoryConfig struct {
	Path  string `mapstructure:"path"`
	Limit int    `mapstructure:"limit"`
}

// DefaultConfig returns the default relay configuration.
func DefaultConfig() *SocketConfig {
	return &SocketConfig{
		Port:            3001,
		AllowedOrigin:   "http://localhost:5173",
		LogLevel:        "info",
		MaxConnections:  1000,
		PingInterval:    54 * time.Second,
		PongWait:        60 * time.Second,
		WriteTimeout:    10 * time.Second,
		ReadLimit:       64 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		ChatBurst:       10,
		ChatWindow:      10 * time.Second,
		Poll: PollConfig{
			Wait:        25 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			Prefix:      "syncwave:ws:",
			PlaybackTTL: 6 * time.Hour,
		},
		MirrorQueue: 1024,
		History: HistoryConfig{
			Limit: 50,
		},
	}
}

// env names that do not follow the key path.
var envAliases = map[string]string{
	"port":           "PORT",
	"allowed_origin": "ALLOWED_ORIGIN",
	"log_level":      "LOG_LEVEL",
	"jwt_secret":     "JWT_SECRET",
	"redis.enabled":  "REDIS_ENABLED",
	"redis.addr":     "REDIS_ADDR",
	"redis.password": "REDIS_PASSWORD",
	"redis.db":       "REDIS_DB",
	"redis.prefix":   "REDIS_WS_PREFIX",
	"history.path":   "HISTORY_PATH",
}

// Load reads defaults, then the YAML file named by CONFIG_FILE if set, then
// the environment.
func Load() (*SocketConfig, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg SocketConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *SocketConfig) {
	v.SetDefault("port", d.Port)
	v.SetDefault("allowed_origin", d.AllowedOrigin)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("max_connections", d.MaxConnections)
	v.SetDefault("ping_interval", d.PingInterval)
	v.SetDefault("pong_wait", d.PongWait)
	v.SetDefault("write_timeout", d.WriteTimeout)
	v.SetDefault("read_limit", d.ReadLimit)
	v.SetDefault("read_buffer_size", d.ReadBufferSize)
	v.SetDefault("write_buffer_size", d.WriteBufferSize)
	v.SetDefault("send_buffer", d.SendBuffer)
	v.SetDefault("chat_burst", d.ChatBurst)
	v.SetDefault("chat_window", d.ChatWindow)
	v.SetDefault("jwt_secret", d.JWTSecret)
	v.SetDefault("mirror_queue", d.MirrorQueue)
	v.SetDefault("poll.wait", d.Poll.Wait)
	v.SetDefault("poll.idle_timeout", d.Poll.IdleTimeout)
	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.prefix", d.Redis.Prefix)
	v.SetDefault("redis.playback_ttl", d.Redis.PlaybackTTL)
	v.SetDefault("history.path", d.History.Path)
	v.SetDefault("history.limit", d.History.Limit)
}

var ErrInvalidConfig = errors.New("invalid config")

// Validate checks values that would otherwise fail at runtime.
func (c *SocketConfig) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	case c.PongWait <= 0:
		return fmt.Errorf("%w: pong_wait must be positive", ErrInvalidConfig)
	case c.PingInterval <= 0 || c.PingInterval >= c.PongWait:
		return fmt.Errorf("%w: ping_interval must be positive and shorter than pong_wait", ErrInvalidConfig)
	case c.SendBuffer <= 0:
		return fmt.Errorf("%w: send_buffer must be positive", ErrInvalidConfig)
	case c.Poll.Wait <= 0 || c.Poll.IdleTimeout <= c.Poll.Wait:
		return fmt.Errorf("%w: poll.idle_timeout must exceed poll.wait", ErrInvalidConfig)
	}
	return nil
}

// Addr returns the listen address.
func (c *SocketConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
