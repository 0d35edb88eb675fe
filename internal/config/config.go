// Package config reads settings from the environment, optionally layered
// over a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPPort        int    `yaml:"http_port"`
	SMTPPort        int    `yaml:"smtp_port"`
	DBPath          string `yaml:"db_path"`
	AuthSecret      string `yaml:"auth_secret"`
	SMTPAuthEnabled bool   `yaml:"smtp_auth_enabled"`
	SMTPUsername    string `yaml:"smtp_username"`
	SMTPPassword    string `yaml:"smtp_password"`
	SMTPSite        int64  `yaml:"smtp_site"`
	TablePrefix     string `yaml:"table_prefix"`
	SiteTimezone    string `yaml:"site_timezone"`
	PerPage         int    `yaml:"per_page"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`
}

func defaults() Config {
	return Config{
		HTTPPort:        3025,
		SMTPPort:        2025,
		SMTPAuthEnabled: true,
		SMTPUsername:    "emaillog",
		SMTPPassword:    "emaillog",
		SMTPSite:        1,
		TablePrefix:     "wp_",
		SiteTimezone:    "Local",
		PerPage:         20,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

func Load() Config {
	cfg := defaults()
	cfg.applyEnv()
	return cfg
}

// LoadFromFile reads path as the base layer. Environment variables still
// override anything the file sets.
func LoadFromFile(path string) (Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// Location resolves SiteTimezone, falling back to the host zone.
func (c Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.SiteTimezone)
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load site timezone: %w", err)
	}
	return loc, nil
}

func (c *Config) applyEnv() {
	c.HTTPPort = getEnvInt("HTTP_PORT", c.HTTPPort)
	c.SMTPPort = getEnvInt("SMTP_PORT", c.SMTPPort)
	c.DBPath = getEnvString("DB_PATH", c.DBPath)
	c.AuthSecret = getEnvString("AUTH_SECRET", c.AuthSecret)
	c.SMTPAuthEnabled = getEnvBool("SMTP_AUTH_ENABLED", c.SMTPAuthEnabled)
	c.SMTPUsername = getEnvString("SMTP_USERNAME", c.SMTPUsername)
	c.SMTPPassword = getEnvString("SMTP_PASSWORD", c.SMTPPassword)
	c.SMTPSite = int64(getEnvInt("SMTP_SITE", int(c.SMTPSite)))
	c.TablePrefix = getEnvString("TABLE_PREFIX", c.TablePrefix)
	c.SiteTimezone = getEnvString("SITE_TIMEZONE", c.SiteTimezone)
	c.PerPage = getEnvInt("PER_PAGE", c.PerPage)
	c.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", c.LogLevel))
	c.LogFormat = strings.ToLower(getEnvString("LOG_FORMAT", c.LogFormat))
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
