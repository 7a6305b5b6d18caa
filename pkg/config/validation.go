package config

import (
	"errors"
	"fmt"
	"path"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags first, then the cross-field rules tags
// cannot express. Log levels are upper-cased by ApplyDefaults before this
// runs.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return describeValidationError(err)
	}
	return validateCustomRules(cfg)
}

// validateCustomRules holds the rules that span fields or exports.
func validateCustomRules(cfg *Config) error {
	if len(cfg.Exports) == 0 {
		return fmt.Errorf("exports: at least one export must be configured (run 'unfsd init' for a sample)")
	}

	// Export paths must be unique once cleaned
	paths := make(map[string]bool)
	for i, exp := range cfg.Exports {
		p := path.Clean(exp.Path)
		if paths[p] {
			return fmt.Errorf("exports[%d]: duplicate export path %q", i, exp.Path)
		}
		paths[p] = true

		im := exp.IdentityMapping
		if im.SingleUser && (im.MapAllToAnonymous || im.MapPrivilegedToAnonymous) {
			return fmt.Errorf("exports[%d]: single_user cannot be combined with anonymous mapping", i)
		}
	}

	if cfg.Server.RateLimit.Burst > 0 && cfg.Server.RateLimit.RequestsPerSecond == 0 {
		return fmt.Errorf("server.rate_limit: burst requires requests_per_second")
	}

	if cfg.Backend.Type == "s3" {
		if _, ok := cfg.Backend.S3["bucket"]; !ok {
			return fmt.Errorf("backend.s3: bucket is required")
		}
	}

	return nil
}

// describeValidationError reports the first failing field as
// "<namespace>: fails <tag> (got <value>)".
func describeValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	if fe.Param() != "" {
		return fmt.Errorf("%s: fails %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Errorf("%s: fails %s (got %v)", fe.Namespace(), fe.Tag(), fe.Value())
}
