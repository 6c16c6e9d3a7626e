package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort         = 3200
	DefaultModel        = "gemini-1.5-flash"
	DefaultMaxBodyBytes = 100 << 10
	DefaultDrainTimeout = 30 * time.Second
)

// ServerConfig holds configuration for the promptrelay server.
type ServerConfig struct {
	Port           int           `yaml:"port"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	BaseURL        string        `yaml:"base_url"`
	PublicDir      string        `yaml:"public_dir"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	LogLevel       string        `yaml:"log_level"`
	ConfigFile     string        `yaml:"-"`
	EnvFile        string        `yaml:"-"`
}

// SetDefaults initializes unset fields of c with built-in defaults.
func (c *ServerConfig) SetDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = []string{"*"}
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ConfigFile == "" {
		c.ConfigFile = DefaultConfigPath("server.yaml")
	}
	if c.EnvFile == "" {
		c.EnvFile = ".env"
	}
}

// ApplyEnv overlays environment variables onto the current config values.
func (c *ServerConfig) ApplyEnv() {
	if v := GetEnv("CONFIG_FILE", ""); v != "" {
		c.ConfigFile = v
	}
	if v := GetEnv("ENV_FILE", ""); v != "" {
		c.EnvFile = v
	}
	if v := GetEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := GetEnv("PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := GetEnv("METRICS_PORT", ""); v != "" {
		c.MetricsAddr = normalizeAddr(v)
	}
	// GAPI_KEY is the historical name and wins over GEMINI_API_KEY.
	if v := GetEnv("GEMINI_API_KEY", ""); v != "" {
		c.APIKey = v
	}
	if v := GetEnv("GAPI_KEY", ""); v != "" {
		c.APIKey = v
	}
	if v := GetEnv("GEMINI_MODEL", ""); v != "" {
		c.Model = v
	}
	if v := GetEnv("GEMINI_BASE_URL", ""); v != "" {
		c.BaseURL = v
	}
	if v := GetEnv("PUBLIC_DIR", ""); v != "" {
		c.PublicDir = v
	}
	if v := GetEnv("ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = splitComma(v)
	}
	if v := GetEnv("MAX_BODY_BYTES", ""); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxBodyBytes = n
		}
	}
	if v := GetEnv("DRAIN_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DrainTimeout = d
		}
	}
}

// ScanPathArgs picks --config and --env-file out of args so the files can be
// loaded before the remaining flags are bound and parsed.
func (c *ServerConfig) ScanPathArgs(args []string) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		for _, name := range []string{"--config", "--env-file"} {
			var v string
			switch {
			case a == name && i+1 < len(args):
				v = args[i+1]
			case strings.HasPrefix(a, name+"="):
				v = strings.TrimPrefix(a, name+"=")
			default:
				continue
			}
			if name == "--config" {
				c.ConfigFile = v
			} else {
				c.EnvFile = v
			}
		}
	}
}

// LoadFile populates the config from a YAML file.
func (c *ServerConfig) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables already set in the environment are left untouched and a missing
// file is not an error.
func (c *ServerConfig) LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// BindFlagsFromCurrent binds command line flags on flags using the current
// config values as defaults.
func (c *ServerConfig) BindFlagsFromCurrent(flags *flag.FlagSet) {
	flags.StringVar(&c.ConfigFile, "config", c.ConfigFile, "server config file path")
	flags.StringVar(&c.EnvFile, "env-file", c.EnvFile, "dotenv file loaded into the environment before reading it")
	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log verbosity (all, debug, info, warn, error, fatal, none)")
	flags.IntVar(&c.Port, "port", c.Port, "HTTP listen port")
	flags.Func("metrics-port", "Prometheus metrics listen address or port; defaults to the value of --port", func(v string) error {
		c.MetricsAddr = normalizeAddr(v)
		return nil
	})
	flags.StringVar(&c.APIKey, "api-key", c.APIKey, "Gemini API key")
	flags.StringVar(&c.Model, "model", c.Model, "Gemini model used for generation")
	flags.StringVar(&c.BaseURL, "base-url", c.BaseURL, "override the Gemini API base URL")
	flags.StringVar(&c.PublicDir, "public-dir", c.PublicDir, "serve the landing page and assets from this directory instead of the embedded copy")
	flags.Int64Var(&c.MaxBodyBytes, "max-body-bytes", c.MaxBodyBytes, "maximum accepted request body size")
	flags.DurationVar(&c.DrainTimeout, "drain-timeout", c.DrainTimeout, "time to wait for in-flight relays on shutdown (0 to exit immediately)")
	flags.Func("allowed-origins", "comma separated list of allowed CORS origins", func(v string) error {
		c.AllowedOrigins = splitComma(v)
		return nil
	})
}

// Validate reports configuration errors that prevent startup.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("gemini api key is required (GAPI_KEY)")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid max body bytes %d", c.MaxBodyBytes)
	}
	return nil
}

// ListenAddr is the address of the public HTTP listener.
func (c *ServerConfig) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// MetricsOnMain reports whether /metrics is served by the public listener.
func (c *ServerConfig) MetricsOnMain() bool {
	return c.MetricsAddr == "" || c.MetricsAddr == c.ListenAddr()
}

func normalizeAddr(v string) string {
	if strings.Contains(v, ":") {
		return v
	}
	return ":" + v
}

func splitComma(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
