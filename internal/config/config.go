package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	Secret         string        `mapstructure:"secret"`
	// Strict answers rejected events with an error event instead of
	// dropping them silently.
	Strict bool `mapstructure:"strict"`

	Rooms struct {
		IdleTTL       time.Duration `mapstructure:"idle_ttl"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
	} `mapstructure:"rooms"`
	JoinLimit struct {
		Count    int           `mapstructure:"count"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"join_limit"`
	Redis struct {
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		TTL      time.Duration `mapstructure:"ttl"`
	} `mapstructure:"redis"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
}

// Load reads config/config.<CONFIG_ENV>.yaml. Every key can be overridden
// from the environment as SKETCH_<KEY>, nested keys joined by "_".
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("sketch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 4000)
	v.SetDefault("allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("secret", "sketch-dev-secret")
	v.SetDefault("strict", false)
	v.SetDefault("rooms.idle_ttl", "0s")
	v.SetDefault("rooms.sweep_interval", "1m")
	v.SetDefault("join_limit.count", 10)
	v.SetDefault("join_limit.interval", "10s")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.ttl", "2m")
	v.SetDefault("metrics.enabled", true)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.PongWait <= cfg.PingPeriod {
		return nil, fmt.Errorf("pong_wait (%s) must be longer than ping_period (%s)", cfg.PongWait, cfg.PingPeriod)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Strs("origins", cfg.AllowedOrigins).Bool("strict", cfg.Strict).Msg("config ready")
	return &cfg, nil
}
