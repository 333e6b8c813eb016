package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/openfroyo/converge/pkg/telemetry"
)

// Engine evaluates execution role documents against a set of Rego
// guardrails. It satisfies engine.RolePolicyGuard.
type Engine struct {
	logger   *telemetry.Logger
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
}

// compiledPolicy represents a prepared policy query.
type compiledPolicy struct {
	policy Policy
	query  rego.PreparedEvalQuery
}

// NewEngine creates an engine loaded with the builtin guardrails.
func NewEngine(ctx context.Context, logger *telemetry.Logger) (*Engine, error) {
	if logger == nil {
		logger = telemetry.Nop()
	}
	e := &Engine{
		logger:   logger.NewComponentLogger("policy"),
		policies: make(map[string]*compiledPolicy),
	}

	for _, p := range BuiltinPolicies() {
		if err := e.Add(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to load builtin policy %s: %w", p.Name, err)
		}
	}
	e.logger.Debugf("loaded %d builtin policies", len(e.policies))
	return e, nil
}

// Add compiles a policy and registers it, replacing any policy of the
// same name.
func (e *Engine) Add(ctx context.Context, p Policy) error {
	if p.Name == "" {
		return fmt.Errorf("policy name is required")
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}

	module, err := ast.ParseModule(p.Name+".rego", p.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy %s: %w", p.Name, err)
	}

	query, err := rego.New(
		rego.Query(module.Package.Path.String()+".deny"),
		rego.Module(p.Name+".rego", p.Rego),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
	}

	e.mu.Lock()
	e.policies[p.Name] = &compiledPolicy{policy: p, query: query}
	e.mu.Unlock()
	return nil
}

// LoadPolicies adds every policy found under paths.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(paths)
	if err != nil {
		return err
	}
	for _, p := range policies {
		if err := e.Add(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate runs every enabled policy against input.
func (e *Engine) Evaluate(ctx context.Context, input Input) (*Result, error) {
	start := time.Now()

	doc, err := toDocument(input)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	policies := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			policies = append(policies, cp)
		}
	}
	e.mu.RUnlock()
	sort.Slice(policies, func(i, j int) bool { return policies[i].policy.Name < policies[j].policy.Name })

	result := &Result{Allowed: true}
	for _, cp := range policies {
		violations, err := evaluate(ctx, cp, doc)
		if err != nil {
			return nil, err
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, cp.policy.Name)
		for _, v := range violations {
			if v.Severity == SeverityError {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}
	result.Duration = time.Since(start)
	return result, nil
}

// CheckRolePolicy evaluates the trust and permissions documents of an
// execution role and returns a *DeniedError when a blocking policy fires.
func (e *Engine) CheckRolePolicy(ctx context.Context, trustPolicy, permissionsPolicy string) error {
	var input Input
	if err := json.Unmarshal([]byte(trustPolicy), &input.TrustPolicy); err != nil {
		return fmt.Errorf("trust policy is not valid JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(permissionsPolicy), &input.PermissionsPolicy); err != nil {
		return fmt.Errorf("permissions policy is not valid JSON: %w", err)
	}

	result, err := e.Evaluate(ctx, input)
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		e.logger.WithField("policy", w.Policy).Warn(w.Message)
	}
	if !result.Allowed {
		return &DeniedError{Violations: result.Violations}
	}
	return nil
}

// List returns all registered policies sorted by name.
func (e *Engine) List() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, cp.policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Enable activates a policy by name.
func (e *Engine) Enable(name string) error {
	return e.setEnabled(name, true)
}

// Disable deactivates a policy by name.
func (e *Engine) Disable(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	return nil
}

// toDocument round-trips the input through JSON so policies see plain
// objects regardless of the Go types the caller used.
func toDocument(input Input) (map[string]interface{}, error) {
	b, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy input: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode policy input: %w", err)
	}
	return doc, nil
}

func evaluate(ctx context.Context, cp *compiledPolicy, doc map[string]interface{}) ([]Violation, error) {
	rs, err := cp.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate policy %s: %w", cp.policy.Name, err)
	}

	var violations []Violation
	for _, r := range rs {
		for _, expr := range r.Expressions {
			members, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, m := range members {
				violations = append(violations, newViolation(cp.policy, m))
			}
		}
	}
	sort.SliceStable(violations, func(i, j int) bool { return violations[i].Statement < violations[j].Statement })
	return violations, nil
}

// newViolation converts one member of a deny set.
func newViolation(p Policy, member interface{}) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity, Statement: -1}

	switch m := member.(type) {
	case string:
		v.Message = m
	case map[string]interface{}:
		if msg, ok := m["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := m["severity"].(string); ok && sev != "" {
			v.Severity = Severity(sev)
		}
		if idx, ok := statementIndex(m["statement"]); ok {
			v.Statement = idx
		}
	default:
		v.Message = fmt.Sprint(m)
	}
	return v
}

func statementIndex(v interface{}) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	}
	return 0, false
}
