// Package config loads and validates deployment configuration.
//
// A deployment is described in YAML, CUE or Starlark:
//
//	deployment_id: dev
//	service_name: shop
//	region: eu-west-2
//	code_path: src
//	manifest_path: requirements.txt
//	functions:
//	  - name: new
//	    handler: shop.handlers.new
//	    needs_shared_code: true
//
// CUE files are unified with a closed #Deployment schema before decoding.
// Starlark files (.star) are executed and must assign the configuration to
// a global named deployment:
//
//	stage = getenv("STAGE", "dev")
//	deployment = {
//	    "deployment_id": stage,
//	    "service_name": "shop",
//	    "region": "eu-west-2",
//	    "code_path": "src",
//	    "function_timeout": 60 if stage == "prod" else 30,
//	}
//
// Every format then gets environment overrides (CONVERGE_ENDPOINT,
// AWS_ENDPOINT, AWS_REGION), defaults and go-playground/validator checks.
// When no functions are listed the six standard entry points are used.
package config
