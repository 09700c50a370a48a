package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	// Report fields by their yaml key so messages match the config file.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateTags(cfg, ve)
	validateRetry(cfg, ve)
	validateRateLimit(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

// RequireCredentials reports an error when no API key is configured.
// Commands that talk to the service call it after Load.
func (c *Config) RequireCredentials() error {
	if c.Provider.APIKey == "" {
		return errors.New("provider.api_key is empty (set via QIANFAN_API_KEY)")
	}
	return nil
}

func validateTags(cfg *Config, ve *ValidationError) {
	err := validate.Struct(cfg)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		ve.Add("%v", err)
		return
	}
	for _, fe := range fieldErrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			ve.Add("%s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
		} else {
			ve.Add("%s: failed %s (got %v)", field, fe.Tag(), fe.Value())
		}
	}
}

func validateRetry(cfg *Config, ve *ValidationError) {
	r := cfg.Retry
	if r.MaxDelay > 0 && r.BaseDelay > r.MaxDelay {
		ve.Add("retry.base_delay (%s) must not exceed retry.max_delay (%s)", r.BaseDelay, r.MaxDelay)
	}
}

func validateRateLimit(cfg *Config, ve *ValidationError) {
	rl := cfg.Provider.RateLimit
	if rl.RequestsPerSecond > 0 && rl.Burst == 0 {
		ve.Add("provider.rate_limit.burst must be > 0 when requests_per_second is set")
	}
}
