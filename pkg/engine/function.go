package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/provider"
)

// Environment variables set on every function.
const (
	EnvRegion         = "CONVERGE_REGION"
	EnvTable          = "CONVERGE_TABLE"
	EnvResumeFunction = "CONVERGE_RESUME_FUNCTION"
)

// functionDescriptor manages one compute function and its published
// versions.
type functionDescriptor struct {
	fn    config.FunctionConfig
	role  roleDescriptor
	layer layerDescriptor
}

func newFunction(fn config.FunctionConfig) functionDescriptor {
	return functionDescriptor{fn: fn}
}

func (d functionDescriptor) Kind() Kind    { return KindFunction }
func (d functionDescriptor) Label() string { return string(KindFunction) + ":" + d.fn.Name }

func (d functionDescriptor) DependsOn() []Kind {
	deps := []Kind{KindCodePackage, KindTable, KindRole}
	if d.fn.NeedsSharedCode {
		deps = append(deps, KindLayer)
	}
	return deps
}

func (d functionDescriptor) ResourceName(cfg *config.DeploymentConfig) string {
	return FunctionName(cfg, d.fn.Name)
}

// desired is the configuration the function should converge to.
type desired struct {
	spec provider.FunctionSpec
	sha  string
}

func (d functionDescriptor) desired(ctx context.Context, env *Env) (*desired, error) {
	cfg := env.Config

	code, err := env.artifact(ctx, KindCodePackage)
	if err != nil {
		return nil, err
	}
	roleARN, err := d.role.Reference(ctx, env)
	if err != nil {
		return nil, err
	}
	var layers []string
	if d.fn.NeedsSharedCode {
		arn, err := d.layer.Reference(ctx, env)
		if err != nil {
			return nil, err
		}
		layers = []string{arn}
	}

	return &desired{
		spec: provider.FunctionSpec{
			Name:    FunctionName(cfg, d.fn.Name),
			Role:    roleARN,
			Handler: d.fn.Handler,
			Runtime: cfg.Runtime,
			Code:    codePackage().Location(cfg),
			Layers:  layers,
			Environment: map[string]string{
				EnvRegion:         cfg.Region,
				EnvTable:          TableName(cfg),
				EnvResumeFunction: FunctionName(cfg, cfg.ResumeFunction),
			},
			Timeout:    int32(cfg.FunctionTimeout),
			MemorySize: int32(cfg.MemorySize),
		},
		sha: code.Digest.String(),
	}, nil
}

func (d functionDescriptor) get(ctx context.Context, env *Env, qualifier string) (*provider.FunctionInfo, error) {
	info, err := env.Client.Functions.GetFunction(ctx, FunctionName(env.Config, d.fn.Name), qualifier)
	if provider.IsNotFound(err) {
		return nil, nil
	}
	return info, err
}

func (d functionDescriptor) Exists(ctx context.Context, env *Env) (bool, error) {
	info, err := d.get(ctx, env, "")
	return info != nil, err
}

func (d functionDescriptor) CreateOrUpdate(ctx context.Context, env *Env) (Outcome, error) {
	want, err := d.desired(ctx, env)
	if err != nil {
		return "", err
	}

	live, err := d.get(ctx, env, "")
	if err != nil {
		return "", err
	}
	if live == nil {
		created, err := d.create(ctx, env, want)
		if err != nil {
			return "", err
		}
		if created {
			return OutcomeCreated, nil
		}
		if live, err = d.get(ctx, env, ""); err != nil {
			return "", err
		}
		if live == nil {
			return "", NewDeploymentError("function vanished after creation conflict", nil)
		}
	}
	return d.update(ctx, env, want, live)
}

// create creates and publishes the function. It reports false when the
// function appeared concurrently.
func (d functionDescriptor) create(ctx context.Context, env *Env, want *desired) (bool, error) {
	name := want.spec.Name

	var exists bool
	err := env.retry(ctx, "execution role assumable", func(ctx context.Context) error {
		_, err := env.Client.Functions.CreateFunction(ctx, want.spec)
		if provider.IsAlreadyExists(err) {
			exists = true
			return nil
		}
		return err
	}, provider.IsPropagating)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if err := d.waitSettled(ctx, env, name); err != nil {
		return false, err
	}
	return true, d.publish(ctx, env, name)
}

// update applies code and configuration drift separately, then publishes
// a version if anything changed.
func (d functionDescriptor) update(ctx context.Context, env *Env, want *desired, live *provider.FunctionInfo) (Outcome, error) {
	name := want.spec.Name
	codeDrift := live.CodeSha256 != want.sha
	cfgUpdate := configDrift(want.spec, live)

	if !codeDrift && cfgUpdate.Empty() {
		return OutcomeUnchanged, nil
	}

	log := env.logger().WithFields(map[string]interface{}{
		"code_drift":   codeDrift,
		"config_drift": !cfgUpdate.Empty(),
	})
	log.Info("function drifted")

	if err := d.waitSettled(ctx, env, name); err != nil {
		return "", err
	}

	if codeDrift {
		if err := env.retry(ctx, "function update slot", func(ctx context.Context) error {
			return env.Client.Functions.UpdateFunctionCode(ctx, name, want.spec.Code)
		}, provider.IsConflict); err != nil {
			return "", err
		}
		if err := d.waitSettled(ctx, env, name); err != nil {
			return "", err
		}
	}

	if !cfgUpdate.Empty() {
		if err := env.retry(ctx, "function update slot", func(ctx context.Context) error {
			return env.Client.Functions.UpdateFunctionConfiguration(ctx, name, cfgUpdate)
		}, func(err error) bool {
			return provider.IsConflict(err) || provider.IsPropagating(err)
		}); err != nil {
			return "", err
		}
		if err := d.waitSettled(ctx, env, name); err != nil {
			return "", err
		}
	}

	if err := d.publish(ctx, env, name); err != nil {
		return "", err
	}
	return OutcomeUpdated, nil
}

// configDrift returns the configuration aspects that differ.
func configDrift(want provider.FunctionSpec, live *provider.FunctionInfo) provider.FunctionConfigUpdate {
	var u provider.FunctionConfigUpdate
	if live.Role != want.Role {
		role := want.Role
		u.Role = &role
	}
	if !slices.Equal(live.Layers, want.Layers) {
		u.Layers = slices.Clone(want.Layers)
		u.SetLayers = true
	}
	if !maps.Equal(live.Environment, want.Environment) {
		u.Environment = maps.Clone(want.Environment)
	}
	if live.Timeout != want.Timeout {
		timeout := want.Timeout
		u.Timeout = &timeout
	}
	if want.MemorySize > 0 && live.MemorySize != want.MemorySize {
		memory := want.MemorySize
		u.MemorySize = &memory
	}
	return u
}

// publish publishes a version and waits until it is active.
func (d functionDescriptor) publish(ctx context.Context, env *Env, name string) error {
	var version string
	if err := env.retry(ctx, "function update slot", func(ctx context.Context) error {
		v, err := env.Client.Functions.PublishVersion(ctx, name)
		version = v
		return err
	}, provider.IsConflict); err != nil {
		return err
	}

	err := env.wait(ctx, "function version active", func(ctx context.Context) (bool, error) {
		info, err := d.get(ctx, env, version)
		if err != nil || info == nil {
			return false, err
		}
		if info.State == provider.FunctionStateFailed {
			return false, NewDeploymentError(fmt.Sprintf("version %s failed to activate", version), nil)
		}
		return info.State == provider.FunctionStateActive, nil
	})
	if err != nil {
		return err
	}
	env.logger().Infof("published version %s", version)
	return nil
}

// waitSettled waits until the function is active and no update is running.
func (d functionDescriptor) waitSettled(ctx context.Context, env *Env, name string) error {
	return env.wait(ctx, "function updated", func(ctx context.Context) (bool, error) {
		info, err := d.get(ctx, env, "")
		if err != nil {
			return false, err
		}
		if info == nil {
			return false, NewDeploymentError("function disappeared while waiting", nil)
		}
		if info.State == provider.FunctionStateFailed || info.LastUpdateStatus == provider.UpdateStatusFailed {
			return false, NewDeploymentError(fmt.Sprintf("function %s entered a failed state", name), nil)
		}
		return info.State == provider.FunctionStateActive &&
			info.LastUpdateStatus != provider.UpdateStatusInProgress, nil
	})
}

func (d functionDescriptor) DeleteIfExists(ctx context.Context, env *Env) (Outcome, error) {
	err := env.Client.Functions.DeleteFunction(ctx, FunctionName(env.Config, d.fn.Name))
	switch {
	case err == nil:
		return OutcomeDeleted, nil
	case provider.IsNotFound(err):
		return OutcomeAbsent, nil
	default:
		return "", err
	}
}
