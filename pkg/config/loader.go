package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted by ApplyEnv.
const (
	EnvEndpoint    = "CONVERGE_ENDPOINT"
	EnvAWSEndpoint = "AWS_ENDPOINT"
	EnvRegion      = "AWS_REGION"
)

// Load reads a deployment configuration from a YAML, CUE or Starlark file, applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*DeploymentConfig, error) {
	cfg, err := Parse(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads a configuration file without validating it.
func Parse(path string) (*DeploymentConfig, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg *DeploymentConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		cfg, err = NewCUEParser().Parse(path, content)
	case ".yaml", ".yml", ".json":
		cfg, err = ParseYAML(path, content)
	case ".star":
		cfg, err = NewStarlarkEvaluator(0).Parse(context.Background(), path, content)
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .yaml, .yml, .json, .cue or .star)", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	if cfg.Root == "" {
		abs, err := filepath.Abs(filepath.Dir(path))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config directory: %w", err)
		}
		cfg.Root = abs
	}
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	return cfg, nil
}

// ParseYAML decodes YAML (or JSON) content. Unknown fields are rejected.
func ParseYAML(file string, content []byte) (*DeploymentConfig, error) {
	var cfg DeploymentConfig
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			problems := make(ValidationErrors, 0, len(typeErr.Errors))
			for _, msg := range typeErr.Errors {
				problems = append(problems, ValidationError{File: file, Message: msg})
			}
			return nil, problems
		}
		return nil, ValidationErrors{{File: file, Message: err.Error()}}
	}
	return &cfg, nil
}

// ApplyEnv applies environment overrides. The endpoint variables take
// precedence over the file; the region variable only fills a missing region.
func (c *DeploymentConfig) ApplyEnv() {
	for _, key := range []string{EnvEndpoint, EnvAWSEndpoint} {
		if v := os.Getenv(key); v != "" {
			c.Endpoint = v
			break
		}
	}
	if c.Region == "" {
		c.Region = os.Getenv(EnvRegion)
	}
}
