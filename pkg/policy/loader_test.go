package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFromPaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "no-scan.rego"), `# Forbid table scans
# in every environment.
package converge.guard.no_scan

import rego.v1

deny contains "scan" if {
	some statement in input.permissions_policy.Statement
	"dynamodb:Scan" in statement.Action
}
`)
	writeFile(t, filepath.Join(dir, "nested", "named.json"),
		`{"name":"from-json","rego":"package x\n","severity":"warning"}`)
	writeFile(t, filepath.Join(dir, "README.md"), "ignored")
	writeFile(t, filepath.Join(dir, "broken.json"), "{")

	policies, err := NewLoader(nil).LoadFromPaths([]string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths() error: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("expected 2 policies, got %d", len(policies))
	}

	byName := map[string]Policy{}
	for _, p := range policies {
		byName[p.Name] = p
	}

	rego, ok := byName["no-scan"]
	if !ok {
		t.Fatal("rego policy not loaded")
	}
	if rego.Description != "Forbid table scans in every environment." {
		t.Errorf("unexpected description %q", rego.Description)
	}
	if rego.Severity != SeverityError || !rego.Enabled {
		t.Errorf("unexpected defaults %+v", rego)
	}

	js, ok := byName["from-json"]
	if !ok {
		t.Fatal("json policy not loaded")
	}
	if js.Severity != SeverityWarning || !js.Enabled || js.Source == "" {
		t.Errorf("unexpected json policy %+v", js)
	}
}

func TestLoadFromPathsSingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unnamed.json")
	writeFile(t, path, `{"rego":"package x\n"}`)

	policies, err := NewLoader(nil).LoadFromPaths([]string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths() error: %v", err)
	}
	if len(policies) != 1 || policies[0].Name != "unnamed" {
		t.Errorf("unexpected policies %+v", policies)
	}
}

func TestLoadFromPathsErrors(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.json")
	writeFile(t, broken, "{")
	other := filepath.Join(dir, "policy.txt")
	writeFile(t, other, "")

	tests := []struct {
		name string
		path string
	}{
		{"missing path", filepath.Join(dir, "missing")},
		{"malformed json file", broken},
		{"unsupported extension", other},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLoader(nil).LoadFromPaths([]string{tt.path}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestExtractDescription(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"none", "package x\n", ""},
		{"leading block", "# one\n# two\n\npackage x\n# later\n", "one two"},
		{"blank comment lines", "#\n# only\n#\npackage x\n", "only"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractDescription(tt.content); got != tt.want {
				t.Errorf("extractDescription() = %q, want %q", got, tt.want)
			}
		})
	}
}
