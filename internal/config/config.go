// Package config loads the immutable TOML configuration document
// consumed at bringup (spec.md §6).
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// AppConfig is the app.* section.
type AppConfig struct {
	Version  string `toml:"version"`
	Timezone string `toml:"timezone"`
}

// DecoderConfig is the decoder.* section.
type DecoderConfig struct {
	Executable     string `toml:"executable"`
	CommandArgs    string `toml:"command_args"`
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	TimeoutSeconds int    `toml:"timeout"`
	ReconnectDelay int    `toml:"reconnect_delay"`
	MaxAttempts    int    `toml:"max_attempts"`
	ConnectTimeout int    `toml:"connect_timeout"`
}

func (d DecoderConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

func (d DecoderConfig) Reconnect() time.Duration {
	return time.Duration(d.ReconnectDelay) * time.Second
}

func (d DecoderConfig) Connect() time.Duration {
	return time.Duration(d.ConnectTimeout) * time.Second
}

// APIConfig is the api.* section.
type APIConfig struct {
	URL            string `toml:"url"`
	StatusURL      string `toml:"status_url"`
	ClientID       int64  `toml:"client_id"`
	SecretKey      string `toml:"secret_key"`
	BearerToken    string `toml:"bearer_token"`
	TimeoutSeconds int    `toml:"timeout"`
	PingInterval   int    `toml:"ping_interval"`
}

func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

func (a APIConfig) Ping() time.Duration {
	return time.Duration(a.PingInterval) * time.Second
}

// DatabaseConfig is the database.* section.
type DatabaseConfig struct {
	File string `toml:"file"`
}

// CyclesConfig is the cycles.* section.
type CyclesConfig struct {
	ParserIntervalMS    int `toml:"parser_interval_ms"`
	AnalyserIntervalSec int `toml:"analyser_interval"`
	SenderIntervalSec   int `toml:"sender_interval"`
	BatchSize           int `toml:"batch_size"`
	NTPSyncIntervalSec  int `toml:"ntp_sync_interval"`
	CorrelationWindowMS int `toml:"correlation_window_ms"`
	StaleThresholdSec   int `toml:"stale_threshold"`
}

func (c CyclesConfig) ParserInterval() time.Duration {
	return time.Duration(c.ParserIntervalMS) * time.Millisecond
}

func (c CyclesConfig) AnalyserInterval() time.Duration {
	return time.Duration(c.AnalyserIntervalSec) * time.Second
}

func (c CyclesConfig) SenderInterval() time.Duration {
	return time.Duration(c.SenderIntervalSec) * time.Second
}

func (c CyclesConfig) NTPSyncInterval() time.Duration {
	return time.Duration(c.NTPSyncIntervalSec) * time.Second
}

func (c CyclesConfig) CorrelationWindow() time.Duration {
	return time.Duration(c.CorrelationWindowMS) * time.Millisecond
}

func (c CyclesConfig) StaleThreshold() time.Duration {
	return time.Duration(c.StaleThresholdSec) * time.Second
}

// AdminConfig is the admin.* section controlling internal/statusapi.
type AdminConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// Config is the full immutable bringup document, spec.md §6.
type Config struct {
	App      AppConfig      `toml:"app"`
	Decoder  DecoderConfig  `toml:"decoder"`
	API      APIConfig      `toml:"api"`
	Database DatabaseConfig `toml:"database"`
	Cycles   CyclesConfig   `toml:"cycles"`
	Admin    AdminConfig    `toml:"admin"`
}

// Defaults mirrors original_source/vrl_client/initialization.py's
// DEFAULT_CONFIG, translated to this client's units.
func Defaults() Config {
	return Config{
		App: AppConfig{
			Version:  "0.1.0",
			Timezone: "Local",
		},
		Decoder: DecoderConfig{
			Host:           "127.0.0.1",
			Port:           31003,
			TimeoutSeconds: 10,
			ReconnectDelay: 5,
			MaxAttempts:    10,
			ConnectTimeout: 10,
		},
		API: APIConfig{
			TimeoutSeconds: 30,
			PingInterval:   30,
		},
		Database: DatabaseConfig{
			File: "base.db",
		},
		Cycles: CyclesConfig{
			ParserIntervalMS:    100,
			AnalyserIntervalSec: 5,
			SenderIntervalSec:   10,
			BatchSize:           100,
			NTPSyncIntervalSec:  3600,
			CorrelationWindowMS: 5000,
			StaleThresholdSec:   60,
		},
		Admin: AdminConfig{
			Enabled: true,
			Addr:    "127.0.0.1:9091",
		},
	}
}

// Load reads path, overlaying values onto Defaults(), and validates the
// required keys spec.md §6 names.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.Decoder.Executable == "":
		return fmt.Errorf("decoder.executable is required")
	case c.Decoder.Host == "":
		return fmt.Errorf("decoder.host is required")
	case c.Decoder.Port == 0:
		return fmt.Errorf("decoder.port is required")
	case c.API.URL == "":
		return fmt.Errorf("api.url is required")
	case c.API.StatusURL == "":
		return fmt.Errorf("api.status_url is required")
	case c.API.SecretKey == "":
		return fmt.Errorf("api.secret_key is required")
	case c.API.BearerToken == "":
		return fmt.Errorf("api.bearer_token is required")
	case c.Database.File == "":
		return fmt.Errorf("database.file is required")
	}
	return nil
}
