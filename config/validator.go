package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/jmcleod/ironsession/keystore"
)

// ValidationError is a single invalid setting.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid setting found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidBackends lists the accepted storage backends.
func ValidBackends() []string {
	return []string{BackendBBolt, BackendPostgres, BackendValkey, BackendMemory}
}

// ValidLogLevels lists the accepted log levels.
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate returns every problem with c.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateIssuer()...)
	errs = append(errs, c.validateKeys()...)
	errs = append(errs, c.validatePolicies()...)
	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.LogLevel)) {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Value:   c.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	return errs
}

func (c *Config) validateStorage() []ValidationError {
	var errs []ValidationError
	switch c.Backend {
	case BackendBBolt:
		if c.DataDir == "" {
			errs = append(errs, ValidationError{Field: "data_dir", Value: c.DataDir, Message: "is required for the bbolt backend"})
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, ValidationError{Field: "postgres_dsn", Value: c.PostgresDSN, Message: "is required for the postgres backend"})
		}
	case BackendValkey:
		if len(c.ValkeyAddrs()) == 0 {
			errs = append(errs, ValidationError{Field: "valkey_addr", Value: c.ValkeyAddr, Message: "is required for the valkey backend"})
		}
	case BackendMemory:
	default:
		errs = append(errs, ValidationError{
			Field:   "backend",
			Value:   c.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackends(), ", ")),
		})
	}
	return errs
}

func (c *Config) validateIssuer() []ValidationError {
	var errs []ValidationError
	u, err := url.Parse(c.IssuerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{Field: "issuer_url", Value: c.IssuerURL, Message: "must be an absolute http or https URL"})
	}
	if c.IssuerTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "issuer_timeout", Value: c.IssuerTimeout, Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateKeys() []ValidationError {
	var errs []ValidationError
	if c.PassphraseEnv == "" {
		errs = append(errs, ValidationError{Field: "passphrase_env", Value: c.PassphraseEnv, Message: "must name an environment variable"})
	}
	if _, err := keystore.KDFProfile(c.KDFProfile); err != nil {
		errs = append(errs, ValidationError{Field: "kdf_profile", Value: c.KDFProfile, Message: err.Error()})
	}
	return errs
}

func (c *Config) validatePolicies() []ValidationError {
	var errs []ValidationError
	if c.Policies.Primary.MaxAge <= 0 {
		errs = append(errs, ValidationError{Field: "policies.primary.max_age", Value: c.Policies.Primary.MaxAge, Message: "must be positive"})
	}
	if c.Policies.Service.MaxAge <= 0 {
		errs = append(errs, ValidationError{Field: "policies.service.max_age", Value: c.Policies.Service.MaxAge, Message: "must be positive"})
	}
	return errs
}
