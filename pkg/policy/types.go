package policy

import (
	"strings"
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityWarning is reported but does not block the role.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the role from being applied.
	SeverityError Severity = "error"
)

// Policy represents a guardrail rule with its Rego code. The module must
// define a "deny" set; each member is a violation message or an object
// with "message" and optional "statement" and "severity" fields.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from, if any.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Statement is the offending statement index, or -1.
	Statement int `json:"statement"`
}

// Input is the document evaluated by every policy.
type Input struct {
	// TrustPolicy is the decoded assume-role document.
	TrustPolicy interface{} `json:"trust_policy"`

	// PermissionsPolicy is the decoded inline permissions document.
	PermissionsPolicy interface{} `json:"permissions_policy"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when any violation has error severity.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that do not block.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// DeniedError is returned by CheckRolePolicy when a role is rejected.
type DeniedError struct {
	Violations []Violation
}

func (e *DeniedError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Policy+": "+v.Message)
	}
	return "role policy denied: " + strings.Join(msgs, "; ")
}
