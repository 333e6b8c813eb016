package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

	// Identity fields end up in bucket names, which are lowercase only.
	identityPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
)

// ValidationErrors collects every problem found in a configuration.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return yamlName(f.Tag.Get("yaml"), f.Name)
	})
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("identity", func(fl validator.FieldLevel) bool {
		return identityPattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks struct constraints plus the cross-field rules the tags
// cannot express. Defaults must already be applied.
func (c *DeploymentConfig) Validate() error {
	var problems ValidationErrors

	if err := newValidator().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			problems = append(problems, ValidationError{
				Path:    fieldPath(fe.Namespace()),
				Message: describe(fe),
			})
		}
	}

	if c.ResumeFunction != "" && len(c.Functions) > 0 {
		if _, ok := c.Function(c.ResumeFunction); !ok {
			problems = append(problems, ValidationError{
				Path:    "resume_function",
				Message: fmt.Sprintf("%q is not one of the configured functions", c.ResumeFunction),
			})
		}
	}

	if c.ManifestPath != "" && len(c.InstallCommand) == 0 {
		problems = append(problems, ValidationError{
			Path:    "install_command",
			Message: "required when manifest_path is set",
		})
	}

	if len(problems) > 0 {
		return problems
	}
	return nil
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "identifier":
		return "must start with a letter or digit and contain only letters, digits, '-' and '_'"
	case "identity":
		return "must start with a lowercase letter or digit and contain only lowercase letters, digits and '-'"
	case "unique":
		return "names must be unique"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "url":
		return "must be a URL"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

func yamlName(tag, fallback string) string {
	name, _, _ := strings.Cut(tag, ",")
	if name == "" || name == "-" {
		return fallback
	}
	return name
}

func filepathLine(file string, line, col int) string {
	if col > 0 {
		return fmt.Sprintf("%s:%d:%d", file, line, col)
	}
	return fmt.Sprintf("%s:%d", file, line)
}
