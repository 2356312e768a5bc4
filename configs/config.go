// Package configs 提供应用配置的加载与热更新
package configs

import (
	"strings"

	"wspump/internal/bus/nats"
	"wspump/internal/bus/redis"
	"wspump/internal/socket"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"log/slog"
)

type Server struct {
	Addr   string        `mapstructure:"addr"`
	Socket socket.Config `mapstructure:"socket"`
}

type Cluster struct {
	Enabled bool         `mapstructure:"enabled"`
	BusType string       `mapstructure:"bus_type"` // 消息总线类型: "nats", "redis", "noop"
	NATS    nats.Config  `mapstructure:"nats"`
	Redis   redis.Config `mapstructure:"redis"`
}

type Auth struct {
	Enabled        bool   `mapstructure:"enabled"`
	SecretKey      string `mapstructure:"secret_key"`
	Issuer         string `mapstructure:"issuer"`
	AllowAnonymous bool   `mapstructure:"allow_anonymous"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Server  `mapstructure:"server"`
	Cluster `mapstructure:"cluster"`
	Auth    `mapstructure:"auth"`
	Log     `mapstructure:"log"`
	Version string `mapstructure:"version"`
}

// NewDefaultConfig creates a new Config with default values
func NewDefaultConfig() Config {
	config := Config{}

	// 服务器默认配置
	config.Server.Addr = ":8080"
	config.Server.Socket = socket.DefaultConfig()

	// 集群默认配置
	config.Cluster.Enabled = false
	config.Cluster.BusType = "noop"
	config.Cluster.NATS = nats.DefaultConfig()
	config.Cluster.Redis = redis.DefaultConfig()

	// 认证默认配置
	config.Auth.Enabled = false
	config.Auth.SecretKey = "changeme"
	config.Auth.Issuer = "wspump"
	config.Auth.AllowAnonymous = true

	// 日志默认配置
	config.Log.Level = "info"

	config.Version = "dev"

	return config
}

// LoadConfig loads configuration from the specified file
func LoadConfig(configFile string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	// 支持环境变量
	v.SetEnvPrefix("WSPUMP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		slog.Error("Failed to read config file, using default config", "error", err)
		return NewDefaultConfig(), nil
	}

	config := NewDefaultConfig()
	if err := v.Unmarshal(&config); err != nil {
		slog.Error("Failed to unmarshal config, using default config", "error", err)
		return NewDefaultConfig(), nil
	}

	// 设置配置文件热更新
	SetupConfigHotReload(v, &config)

	return config, nil
}

// SetupConfigHotReload sets up hot reload for the configuration file
func SetupConfigHotReload(v *viper.Viper, config *Config) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("Config file changed")

		if err := v.Unmarshal(config); err != nil {
			slog.Error("Failed to unmarshal updated config", "error", err)
			return
		}

		slog.Info("Config reloaded successfully")
	})
}

// ParseLogLevel parses a string log level to slog.Level
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
