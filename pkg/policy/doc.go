// Package policy vets generated execution roles with Open Policy Agent.
//
// Every policy is a Rego module that defines a "deny" set over an input of
// the form
//
//	{"trust_policy": {...}, "permissions_policy": {...}}
//
// Members of the set are either plain messages or objects carrying
// "message", "statement" and "severity". Violations with error severity
// block the role; warnings are logged.
//
// # Builtin guardrails
//
//   - table-scope: table actions must target exactly one table ARN
//   - trust-principal: only lambda.amazonaws.com may assume the role
//   - invoke-scope: invocation grants should not use wildcards (warning)
//
// # Usage
//
//	guard, err := policy.NewEngine(ctx, logger)
//	if err != nil {
//	    return err
//	}
//	if err := guard.LoadPolicies(ctx, []string{"./policies"}); err != nil {
//	    return err
//	}
//	r, err := engine.NewReconciler(cfg, engine.Options{Client: client, Guard: guard})
//
// Extra policies may be .rego files, named after the file, or .json files
// holding a serialized Policy.
package policy
