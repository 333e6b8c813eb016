package policy

// BuiltinPolicies returns the guardrails applied to every execution role.
func BuiltinPolicies() []Policy {
	return []Policy{
		tableScopePolicy(),
		trustPrincipalPolicy(),
		invokeScopePolicy(),
	}
}

// tableScopePolicy forbids table actions on anything but a single table ARN.
func tableScopePolicy() Policy {
	return Policy{
		Name:        "table-scope",
		Description: "Table actions must be granted on exactly one table ARN",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package converge.guard.table_scope

import rego.v1

deny contains violation if {
	some i
	statement := input.permissions_policy.Statement[i]
	statement.Effect == "Allow"
	some action in actions(statement)
	startswith(action, "dynamodb:")
	not single_table(statement)
	violation := {
		"message": sprintf("statement %d grants %s on %v; table actions must name one table ARN", [i, action, object.get(statement, "Resource", "nothing")]),
		"statement": i,
	}
}

single_table(statement) if {
	is_string(statement.Resource)
	startswith(statement.Resource, "arn:")
	contains(statement.Resource, ":table/")
	not contains(statement.Resource, "*")
}

actions(statement) := statement.Action if is_array(statement.Action)

actions(statement) := [statement.Action] if is_string(statement.Action)
`,
	}
}

// trustPrincipalPolicy requires the function service as the only principal.
func trustPrincipalPolicy() Policy {
	return Policy{
		Name:        "trust-principal",
		Description: "Only lambda.amazonaws.com may assume the execution role",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package converge.guard.trust_principal

import rego.v1

deny contains violation if {
	not lambda_trusted
	violation := {"message": "trust policy must allow lambda.amazonaws.com to assume the role"}
}

deny contains violation if {
	some i
	statement := input.trust_policy.Statement[i]
	statement.Effect == "Allow"
	some key, value in statement.Principal
	not lambda_service(key, value)
	violation := {
		"message": sprintf("trust statement %d admits %s principal %v", [i, key, value]),
		"statement": i,
	}
}

lambda_trusted if {
	some statement in input.trust_policy.Statement
	statement.Effect == "Allow"
	statement.Principal.Service == "lambda.amazonaws.com"
}

lambda_service(key, value) if {
	key == "Service"
	value == "lambda.amazonaws.com"
}
`,
	}
}

// invokeScopePolicy warns about wildcard invocation grants.
func invokeScopePolicy() Policy {
	return Policy{
		Name:        "invoke-scope",
		Description: "Invocation grants should name a single function",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package converge.guard.invoke_scope

import rego.v1

deny contains violation if {
	some i
	statement := input.permissions_policy.Statement[i]
	statement.Effect == "Allow"
	some action in actions(statement)
	startswith(action, "lambda:")
	contains(statement.Resource, "*")
	violation := {
		"message": sprintf("statement %d grants %s on %s", [i, action, statement.Resource]),
		"statement": i,
	}
}

actions(statement) := statement.Action if is_array(statement.Action)

actions(statement) := [statement.Action] if is_string(statement.Action)
`,
	}
}
