package config

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestStarlarkEvaluator_Parse(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		env     map[string]string
		check   func(*testing.T, *DeploymentConfig)
		wantErr string
	}{
		{
			name: "dict",
			script: `
deployment = {
    "deployment_id": "dev",
    "service_name": "shop",
    "region": "eu-west-2",
    "code_path": "src",
    "function_timeout": 45,
}
`,
			check: func(t *testing.T, c *DeploymentConfig) {
				if c.DeploymentID != "dev" || c.ServiceName != "shop" || c.FunctionTimeout != 45 {
					t.Errorf("unexpected config %+v", c)
				}
			},
		},
		{
			name: "generated functions and getenv",
			script: `
stage = getenv("STAGE", "dev")

def fn(name, shared = False):
    return struct(name = name, handler = "shop.handlers." + name, needs_shared_code = shared)

deployment = struct(
    deployment_id = stage,
    service_name = "shop",
    region = "eu-west-2",
    code_path = "src",
    function_timeout = 60 if stage == "prod" else 30,
    functions = [fn("new", True), fn("resume", True), fn("version")],
    resume_function = "resume",
)
`,
			env: map[string]string{"STAGE": "prod"},
			check: func(t *testing.T, c *DeploymentConfig) {
				if c.DeploymentID != "prod" || c.FunctionTimeout != 60 {
					t.Errorf("getenv not applied: %+v", c)
				}
				if len(c.Functions) != 3 || c.Functions[0].Name != "new" || !c.Functions[1].NeedsSharedCode || c.Functions[2].NeedsSharedCode {
					t.Errorf("functions = %+v", c.Functions)
				}
			},
		},
		{
			name:    "missing global",
			script:  `config = {"deployment_id": "dev"}`,
			wantErr: `must define "deployment"`,
		},
		{
			name:    "not a mapping",
			script:  `deployment = ["dev"]`,
			wantErr: "must be a dict or struct",
		},
		{
			name:    "unknown field",
			script:  `deployment = {"deployment_id": "dev", "colour": "blue"}`,
			wantErr: "colour",
		},
		{
			name:    "script error",
			script:  `deployment = undefined_name`,
			wantErr: "undefined_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := NewStarlarkEvaluator(time.Second)
			se.getenv = func(k string) (string, bool) {
				v, ok := tt.env[k]
				return v, ok
			}

			cfg, err := se.Parse(context.Background(), "converge.star", []byte(tt.script))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Parse() error = %v, want mention of %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	se := NewStarlarkEvaluator(50 * time.Millisecond)
	script := `
def spin():
    n = 0
    for i in range(1000000000):
        n += i
    return n

deployment = {"deployment_id": str(spin())}
`
	_, err := se.Parse(context.Background(), "converge.star", []byte(script))
	if err == nil || !strings.Contains(err.Error(), "exceeded") {
		t.Fatalf("expected a timeout, got %v", err)
	}
}

func TestLoadStarlark(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "converge.star", `
deployment = {
    "deployment_id": "dev",
    "service_name": "shop",
    "region": "eu-west-2",
    "code_path": "src",
}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.Functions) != 6 || cfg.ResumeFunction != "resume" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}
