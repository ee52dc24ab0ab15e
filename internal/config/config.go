package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Config struct {
	Mode        string `mapstructure:"mode"`
	Port        int    `mapstructure:"port"`
	StaticPath  string `mapstructure:"static_path"`
	Secret      string `mapstructure:"secret"`
	AnnouncedIP string `mapstructure:"announced_ip"`

	Redis RedisConfig `mapstructure:"redis"`

	RosterTTL      time.Duration `mapstructure:"roster_ttl"`
	CASMaxAttempts int           `mapstructure:"cas_max_attempts"`
	CASBackoff     time.Duration `mapstructure:"cas_backoff"`

	LockTimeout     time.Duration `mapstructure:"lock_timeout"`
	JoinLockTimeout time.Duration `mapstructure:"join_lock_timeout"`
	SyncStagger     time.Duration `mapstructure:"sync_stagger"`

	CaptionSilence time.Duration `mapstructure:"caption_silence"`
	CaptionClear   time.Duration `mapstructure:"caption_clear"`
	TargetLang     string        `mapstructure:"target_lang"`
	TranslateURL   string        `mapstructure:"translate_url"`
	TranslateToken string        `mapstructure:"translate_token"`

	JoinRateLimit  int           `mapstructure:"join_rate_limit"`
	JoinRateWindow time.Duration `mapstructure:"join_rate_window"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("roster_ttl", "24h")
	v.SetDefault("cas_max_attempts", 3)
	v.SetDefault("cas_backoff", "50ms")
	v.SetDefault("lock_timeout", "5s")
	v.SetDefault("join_lock_timeout", "30s")
	v.SetDefault("sync_stagger", "300ms")
	v.SetDefault("caption_silence", "900ms")
	v.SetDefault("caption_clear", "3500ms")
	v.SetDefault("target_lang", "en")
	v.SetDefault("join_rate_limit", 5)
	v.SetDefault("join_rate_window", "1m")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Static: %s\n", cfg.Mode, cfg.Port, cfg.StaticPath)
	return &cfg, nil
}
