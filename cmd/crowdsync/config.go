package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the service configuration.
// Priority: CROWDSYNC_* env vars > config file > defaults.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	LogLevel   string `mapstructure:"log_level"`
	LogFormat  string `mapstructure:"log_format"`

	Scheduler struct {
		Cadence time.Duration `mapstructure:"cadence"`
	} `mapstructure:"scheduler"`

	ReportStore struct {
		DSN       string        `mapstructure:"dsn"`
		Retention time.Duration `mapstructure:"retention"`
	} `mapstructure:"report_store"`

	Mail struct {
		Enabled      bool          `mapstructure:"enabled"`
		Interval     time.Duration `mapstructure:"interval"`
		MailInterval time.Duration `mapstructure:"mail_interval"`
		SMTPAddr     string        `mapstructure:"smtp_addr"`
		From         string        `mapstructure:"from"`
		To           []string      `mapstructure:"to"`
	} `mapstructure:"mail"`

	Backflow struct {
		Enabled       bool          `mapstructure:"enabled"`
		Interval      time.Duration `mapstructure:"interval"`
		Catalog       string        `mapstructure:"catalog"`
		SolrURL       string        `mapstructure:"solr_url"`
		SolrFilter    string        `mapstructure:"solr_filter"`
		ModifiedField string        `mapstructure:"modified_field"`
		CatalogURL    string        `mapstructure:"catalog_url"`
	} `mapstructure:"backflow"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("scheduler.cadence", time.Minute)
	v.SetDefault("report_store.dsn", "sqlite://crowdsync.db")
	v.SetDefault("report_store.retention", 30*24*time.Hour)
	v.SetDefault("mail.enabled", true)
	v.SetDefault("mail.interval", 24*time.Hour)
	v.SetDefault("mail.smtp_addr", "localhost:25")
	v.SetDefault("backflow.enabled", true)
	v.SetDefault("backflow.interval", time.Hour)
	v.SetDefault("backflow.modified_field", "last_modified")

	// Keys without a real default are still registered so env vars bind.
	v.SetDefault("mail.mail_interval", time.Duration(0))
	v.SetDefault("mail.from", "")
	v.SetDefault("mail.to", []string{})
	for _, key := range []string{"catalog", "solr_url", "solr_filter", "catalog_url"} {
		v.SetDefault("backflow."+key, "")
	}
}

// loadConfig reads the config file (explicit path, or crowdsync.yaml in
// . and ./config) and the environment.
func loadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("crowdsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("CROWDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Mail.Enabled {
		if c.Mail.From == "" || len(c.Mail.To) == 0 {
			return fmt.Errorf("mail.from and mail.to are required when mail is enabled")
		}
	}
	if c.Backflow.Enabled {
		if c.Backflow.SolrURL == "" || c.Backflow.CatalogURL == "" || c.Backflow.Catalog == "" {
			return fmt.Errorf("backflow.solr_url, backflow.catalog_url and backflow.catalog are required when backflow is enabled")
		}
	}
	return nil
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
