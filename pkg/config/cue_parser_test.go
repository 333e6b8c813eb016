package config

import (
	"errors"
	"strings"
	"testing"
)

func TestCUEParser_Parse(t *testing.T) {
	parser := NewCUEParser()

	tests := []struct {
		name      string
		content   string
		wantErr   string
		checkFunc func(*testing.T, *DeploymentConfig)
	}{
		{
			name: "top level",
			content: `
deployment_id: "dev"
service_name:  "shop"
region:        "eu-west-2"
code_path:     "src"
function_timeout: 60
`,
			checkFunc: func(t *testing.T, cfg *DeploymentConfig) {
				if cfg.DeploymentID != "dev" || cfg.ServiceName != "shop" {
					t.Errorf("unexpected identity: %+v", cfg.Identity())
				}
				if cfg.FunctionTimeout != 60 {
					t.Errorf("expected timeout 60, got %d", cfg.FunctionTimeout)
				}
			},
		},
		{
			name: "nested with functions",
			content: `
deployment: {
	deployment_id: "prod"
	service_name:  "shop"
	code_path:     "build/code.zip"
	functions: [
		{name: "new", handler: "shop.new", needs_shared_code: true},
		{name: "resume", handler: "shop.resume", needs_shared_code: true},
	]
}
`,
			checkFunc: func(t *testing.T, cfg *DeploymentConfig) {
				if len(cfg.Functions) != 2 || !cfg.Functions[1].NeedsSharedCode {
					t.Errorf("unexpected functions: %+v", cfg.Functions)
				}
			},
		},
		{
			name: "unknown field",
			content: `
deployment_id: "dev"
service_name:  "shop"
code_path:     "src"
colour:        "blue"
`,
			wantErr: "colour",
		},
		{
			name: "timeout out of range",
			content: `
deployment_id: "dev"
service_name:  "shop"
code_path:     "src"
function_timeout: 1200
`,
			wantErr: "function_timeout",
		},
		{
			name: "bad identifier",
			content: `
deployment_id: "-dev"
service_name:  "shop"
code_path:     "src"
`,
			wantErr: "deployment_id",
		},
		{
			name:    "syntax error",
			content: `deployment_id: "dev`,
			wantErr: "deploy.cue",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parser.Parse("deploy.cue", []byte(tt.content))
			if tt.wantErr != "" {
				if err == nil {
					t.Fatal("expected an error")
				}
				var problems ValidationErrors
				if !errors.As(err, &problems) {
					t.Fatalf("expected ValidationErrors, got %T", err)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error %q does not mention %q", err.Error(), tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, cfg)
			}
		})
	}
}
