package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds the runtime configuration loaded from config/settings.json.
type Config struct {
	AccountStrategy     string `mapstructure:"account_strategy"`
	AutoSaveTokens      bool   `mapstructure:"auto_save_tokens"`
	Retry429Interval    int    `mapstructure:"retry_429_interval"` // minutes
	DisableWarpTools    bool   `mapstructure:"disable_warp_tools"`
	MaxHistoryMessages  int    `mapstructure:"max_history_messages"`
	MaxToolResults      int    `mapstructure:"max_tool_results"`
	SplitToolcallResult bool   `mapstructure:"split_toolcall_result"`
	AccountsDir         string `mapstructure:"accounts_dir"`
	AccountStore        string `mapstructure:"account_store"` // "file" or "redis"
	APIKey              string `mapstructure:"api_key"`       // empty disables client auth

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Stats struct {
		Database string `mapstructure:"database"`
	} `mapstructure:"stats"`

	Server struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"server"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`

	// Runtime-only fields, not read from the settings file
	InsecureTLS   bool `mapstructure:"-"`
	ShowLoginInfo bool `mapstructure:"-"`
}

// DefaultSettingsPath is where settings are read from and written to.
const DefaultSettingsPath = "config/settings.json"

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetDefault("account_strategy", "round_robin")
	v.SetDefault("auto_save_tokens", true)
	v.SetDefault("retry_429_interval", 10)
	v.SetDefault("disable_warp_tools", false)
	v.SetDefault("max_history_messages", 20)
	v.SetDefault("max_tool_results", 10)
	v.SetDefault("split_toolcall_result", false)
	v.SetDefault("accounts_dir", "config/accounts/warp")
	v.SetDefault("account_store", "file")
	v.SetDefault("api_key", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("stats.database", "config/stats.db")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 9980)
	v.SetDefault("logging.level", "info")

	return v
}

// Load reads settings from path. A missing settings file is not an error;
// defaults apply and the file is created on the next Save.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultSettingsPath
	}

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read settings: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	cfg.InsecureTLS = envTruthy("WARP_INSECURE_TLS")
	cfg.ShowLoginInfo = envTruthyDefault("WARP_SHOW_LOGIN_INFO", true)

	return cfg, nil
}

// Save writes the current settings back to path.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = DefaultSettingsPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	v := newViper(path)
	v.Set("account_strategy", cfg.AccountStrategy)
	v.Set("auto_save_tokens", cfg.AutoSaveTokens)
	v.Set("retry_429_interval", cfg.Retry429Interval)
	v.Set("disable_warp_tools", cfg.DisableWarpTools)
	v.Set("max_history_messages", cfg.MaxHistoryMessages)
	v.Set("max_tool_results", cfg.MaxToolResults)
	v.Set("split_toolcall_result", cfg.SplitToolcallResult)
	v.Set("accounts_dir", cfg.AccountsDir)
	v.Set("account_store", cfg.AccountStore)
	v.Set("api_key", cfg.APIKey)
	v.Set("redis.addr", cfg.Redis.Addr)
	v.Set("redis.db", cfg.Redis.DB)
	v.Set("stats.database", cfg.Stats.Database)
	v.Set("server.host", cfg.Server.Host)
	v.Set("server.port", cfg.Server.Port)
	v.Set("logging.level", cfg.Logging.Level)

	return v.WriteConfigAs(path)
}

func envTruthy(name string) bool {
	switch os.Getenv(name) {
	case "1", "true", "TRUE", "True", "yes", "YES":
		return true
	}
	return false
}

func envTruthyDefault(name string, def bool) bool {
	val, ok := os.LookupEnv(name)
	if !ok || val == "" {
		return def
	}
	switch val {
	case "1", "true", "TRUE", "True", "yes", "YES":
		return true
	}
	return false
}
