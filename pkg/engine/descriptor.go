package engine

import (
	"context"
	"fmt"

	"github.com/openfroyo/converge/pkg/build"
	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/naming"
	"github.com/openfroyo/converge/pkg/provider"
	"github.com/openfroyo/converge/pkg/telemetry"
	"github.com/openfroyo/converge/pkg/waiter"
)

// Kind is the closed set of managed resource kinds.
type Kind string

const (
	KindBucket       Kind = "bucket"
	KindCodePackage  Kind = "code-package"
	KindLayerPackage Kind = "layer-package"
	KindTable        Kind = "table"
	KindRole         Kind = "role"
	KindLayer        Kind = "layer"
	KindFunction     Kind = "function"
)

// Outcome is the effect a step had on its resource.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeDeleted   Outcome = "deleted"
	OutcomeAbsent    Outcome = "absent"
	OutcomeFailed    Outcome = "failed"
)

// Descriptor manages one resource. Every method is idempotent: running
// CreateOrUpdate on a converged resource issues no mutating provider call,
// and DeleteIfExists treats absence as success.
type Descriptor interface {
	Kind() Kind

	// Label identifies the descriptor within a sequence (e.g., "function:new").
	Label() string

	// ResourceName derives the provider name. It performs no I/O.
	ResourceName(cfg *config.DeploymentConfig) string

	// DependsOn lists the kinds that must converge before this one.
	DependsOn() []Kind

	Exists(ctx context.Context, env *Env) (bool, error)
	CreateOrUpdate(ctx context.Context, env *Env) (Outcome, error)
	DeleteIfExists(ctx context.Context, env *Env) (Outcome, error)
}

// Referencer is implemented by descriptors whose resource is referenced by
// others through a provider handle (table ARN, role ARN, layer version ARN).
type Referencer interface {
	Reference(ctx context.Context, env *Env) (string, error)
}

// RolePolicyGuard vets a generated execution role before it is applied.
type RolePolicyGuard interface {
	CheckRolePolicy(ctx context.Context, trustPolicy, permissionsPolicy string) error
}

// Env carries everything a descriptor needs during one run. It is built by
// the Reconciler and passed explicitly; descriptors hold no client state.
type Env struct {
	Config  *config.DeploymentConfig
	Client  *provider.Client
	Builder build.Builder
	Wait    waiter.Options
	Guard   RolePolicyGuard
	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics

	artifacts map[Kind]*build.Artifact
}

// wait polls cond and counts every poll.
func (e *Env) wait(ctx context.Context, what string, cond waiter.Condition) error {
	opts := e.Wait
	opts.OnPoll = func(attempt int, done bool) {
		e.Metrics.RecordWaiterPoll(what)
		if !done {
			e.logger().Debugf("waiting for %s (attempt %d)", what, attempt)
		}
	}
	return waiter.Until(ctx, opts, what, cond)
}

// retry repeats op while it fails with a retryable error.
func (e *Env) retry(ctx context.Context, what string, op func(context.Context) error, retryable func(error) bool) error {
	opts := e.Wait
	opts.OnPoll = func(int, bool) { e.Metrics.RecordWaiterPoll(what) }
	return waiter.Retry(ctx, opts, what, op, retryable)
}

// artifact builds the package of kind once per run.
func (e *Env) artifact(ctx context.Context, kind Kind) (*build.Artifact, error) {
	if a, ok := e.artifacts[kind]; ok {
		return a, nil
	}
	if e.Builder == nil {
		return nil, NewValidationError("no artifact builder configured")
	}

	var (
		a   *build.Artifact
		err error
	)
	switch kind {
	case KindCodePackage:
		a, err = e.Builder.BuildCode(ctx)
	case KindLayerPackage:
		a, err = e.Builder.BuildLayer(ctx)
	default:
		return nil, fmt.Errorf("kind %s has no artifact", kind)
	}
	if err != nil {
		return nil, NewError(ErrorClassValidation, "build failed", err)
	}
	if e.artifacts == nil {
		e.artifacts = make(map[Kind]*build.Artifact)
	}
	e.artifacts[kind] = a
	return a, nil
}

func (e *Env) logger() *telemetry.Logger {
	if e.Logger == nil {
		return telemetry.Nop()
	}
	return e.Logger
}

// Derived names shared between descriptors.

// BucketName is the artifact bucket of the deployment.
func BucketName(cfg *config.DeploymentConfig) string {
	return naming.Name(cfg.Identity(), naming.KindBucket, "")
}

// TableName is the session table of the deployment.
func TableName(cfg *config.DeploymentConfig) string {
	return naming.Name(cfg.Identity(), naming.KindTable, "")
}

// RoleName is the execution role of the deployment.
func RoleName(cfg *config.DeploymentConfig) string {
	return naming.Name(cfg.Identity(), naming.KindRole, "")
}

// LayerName is the shared code layer of the deployment.
func LayerName(cfg *config.DeploymentConfig) string {
	return naming.Name(cfg.Identity(), naming.KindLayer, "shared")
}

// FunctionName is the provider name of the configured function fn.
func FunctionName(cfg *config.DeploymentConfig, fn string) string {
	return naming.Name(cfg.Identity(), naming.KindFunction, fn)
}
