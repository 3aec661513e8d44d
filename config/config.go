// Package config loads the ironsession CLI configuration from a YAML file,
// IRONSESSION_* environment variables and command-line flags.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jmcleod/ironsession/session"
)

// EnvPrefix is prepended to every environment override, e.g.
// IRONSESSION_POLICIES_SERVICE_MAX_AGE for policies.service.max_age.
const EnvPrefix = "IRONSESSION"

// Backend names accepted by the backend setting.
const (
	BackendBBolt    = "bbolt"
	BackendPostgres = "postgres"
	BackendValkey   = "valkey"
	BackendMemory   = "memory"
)

// Config is the CLI configuration.
type Config struct {
	DataDir       string         `mapstructure:"data_dir"`
	Backend       string         `mapstructure:"backend"`
	PostgresDSN   string         `mapstructure:"postgres_dsn"`
	ValkeyAddr    string         `mapstructure:"valkey_addr"`
	ValkeyPrefix  string         `mapstructure:"valkey_prefix"`
	IssuerURL     string         `mapstructure:"issuer_url"`
	IssuerTimeout time.Duration  `mapstructure:"issuer_timeout"`
	Identity      string         `mapstructure:"identity"`
	PassphraseEnv string         `mapstructure:"passphrase_env"`
	KDFProfile    string         `mapstructure:"kdf_profile"`
	Policies      PoliciesConfig `mapstructure:"policies"`
	LogLevel      string         `mapstructure:"log_level"`
}

// PoliciesConfig holds the two validity windows.
type PoliciesConfig struct {
	Primary PolicyConfig `mapstructure:"primary"`
	Service PolicyConfig `mapstructure:"service"`
}

// PolicyConfig is one validity window.
type PolicyConfig struct {
	MaxAge time.Duration `mapstructure:"max_age"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:       filepath.Join(ConfigDir(), "data"),
		Backend:       BackendBBolt,
		ValkeyPrefix:  "ironsession",
		IssuerURL:     "http://127.0.0.1:8080",
		IssuerTimeout: 10 * time.Second,
		PassphraseEnv: EnvPrefix + "_PASSPHRASE",
		KDFProfile:    "moderate",
		Policies: PoliciesConfig{
			Primary: PolicyConfig{MaxAge: session.PrimaryPolicy.MaxAge},
			Service: PolicyConfig{MaxAge: session.ServicePolicy.MaxAge},
		},
		LogLevel: "info",
	}
}

// SetDefaults registers the built-in values on v so that file, env and
// flag sources only need to override what they change.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("backend", d.Backend)
	v.SetDefault("postgres_dsn", d.PostgresDSN)
	v.SetDefault("valkey_addr", d.ValkeyAddr)
	v.SetDefault("valkey_prefix", d.ValkeyPrefix)
	v.SetDefault("issuer_url", d.IssuerURL)
	v.SetDefault("issuer_timeout", d.IssuerTimeout)
	v.SetDefault("identity", d.Identity)
	v.SetDefault("passphrase_env", d.PassphraseEnv)
	v.SetDefault("kdf_profile", d.KDFProfile)
	v.SetDefault("policies.primary.max_age", d.Policies.Primary.MaxAge)
	v.SetDefault("policies.service.max_age", d.Policies.Service.MaxAge)
	v.SetDefault("log_level", d.LogLevel)
}

// New returns a viper instance wired for ironsession: defaults, env
// overrides and, if configFile is empty, the standard search path.
func New(configFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("ironsession")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file if present, decodes v into a Config and
// validates it. A missing file is not an error unless it was named explicitly.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// ConfigDir returns $XDG_CONFIG_HOME/ironsession or ~/.config/ironsession.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ironsession")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ironsession"
	}
	return filepath.Join(home, ".config", "ironsession")
}

// PrimaryPolicy returns the configured long-lived window.
func (c *Config) PrimaryPolicy() session.Policy {
	return session.Policy{Name: session.PrimaryPolicy.Name, MaxAge: c.Policies.Primary.MaxAge}
}

// ServicePolicy returns the configured short-lived window.
func (c *Config) ServicePolicy() session.Policy {
	return session.Policy{Name: session.ServicePolicy.Name, MaxAge: c.Policies.Service.MaxAge}
}

// ValkeyAddrs splits the comma-separated valkey_addr.
func (c *Config) ValkeyAddrs() []string {
	var out []string
	for a := range strings.SplitSeq(c.ValkeyAddr, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// SlogLevel maps log_level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
