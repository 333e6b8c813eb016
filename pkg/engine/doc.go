// Package engine converges the cloud resources of one deployment.
//
// # Overview
//
// A deployment is a fixed, ordered list of resource descriptors derived from
// a DeploymentConfig:
//
//  1. bucket - private artifact bucket
//  2. code-package - code archive stored in the bucket
//  3. layer-package - shared layer archive stored in the bucket
//  4. table - on-demand session table
//  5. role - execution role with its inline and managed policies
//  6. layer - published shared layer version
//  7. function - one per configured function, in configuration order
//
// Deploy walks the sequence forward and stops at the first failure. Destroy
// walks it in reverse, attempts every step and joins the failures. Neither
// consults a state file: every step reads live provider state, so re-running
// either operation after a partial failure resumes where it stopped.
//
// # Descriptors
//
// Each resource kind implements Descriptor:
//
//	type Descriptor interface {
//	    Kind() Kind
//	    Label() string
//	    ResourceName(cfg *config.DeploymentConfig) string
//	    DependsOn() []Kind
//	    Exists(ctx context.Context, env *Env) (bool, error)
//	    CreateOrUpdate(ctx context.Context, env *Env) (Outcome, error)
//	    DeleteIfExists(ctx context.Context, env *Env) (Outcome, error)
//	}
//
// CreateOrUpdate on a converged resource issues no mutating provider call.
// Packages are uploaded only when the digest stored in object metadata
// differs from the local build; the layer is published only when its latest
// version digest differs; functions compare code digest and configuration
// separately and publish a version only when something changed.
//
// # Error Classification
//
// Failures surface as *EngineError with one of the classes not_found,
// already_exists, timeout, transport, invocation, validation or deployment.
// Errors returned by a run carry the kind, resource name and operation of
// the failing step:
//
//	report, err := r.Deploy(ctx)
//	if engine.IsTimeout(err) {
//	    // a consistency wait ran out of attempts; deploy again to resume
//	}
//
// # Example Usage
//
//	r, err := engine.NewReconciler(cfg, engine.Options{
//	    Client:    client,
//	    Builder:   builder,
//	    Telemetry: tel,
//	})
//	if err != nil {
//	    return err
//	}
//	report, err := r.Deploy(ctx)
//
// A Reconciler runs one operation at a time. Nothing prevents two processes
// from converging the same deployment concurrently.
package engine
