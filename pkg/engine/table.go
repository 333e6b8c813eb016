package engine

import (
	"context"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/provider"
)

// Session table key schema.
const (
	TableHashKey     = "session_id"
	TableHashKeyType = "S"
)

// tableDescriptor manages the on-demand session table.
type tableDescriptor struct{}

func (tableDescriptor) Kind() Kind        { return KindTable }
func (tableDescriptor) Label() string     { return string(KindTable) }
func (tableDescriptor) DependsOn() []Kind { return nil }

func (tableDescriptor) ResourceName(cfg *config.DeploymentConfig) string {
	return TableName(cfg)
}

// describe returns nil when the table does not exist.
func (d tableDescriptor) describe(ctx context.Context, env *Env) (*provider.TableInfo, error) {
	info, err := env.Client.Tables.DescribeTable(ctx, TableName(env.Config))
	if provider.IsNotFound(err) {
		return nil, nil
	}
	return info, err
}

// Exists reports a table that is not being deleted.
func (d tableDescriptor) Exists(ctx context.Context, env *Env) (bool, error) {
	info, err := d.describe(ctx, env)
	if err != nil {
		return false, err
	}
	return info != nil && info.Status != provider.TableStatusDeleting, nil
}

// Reference returns the table ARN.
func (d tableDescriptor) Reference(ctx context.Context, env *Env) (string, error) {
	info, err := d.describe(ctx, env)
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", NewError(ErrorClassNotFound, "table does not exist", nil).
			WithResource(KindTable, TableName(env.Config))
	}
	return info.ARN, nil
}

func (d tableDescriptor) CreateOrUpdate(ctx context.Context, env *Env) (Outcome, error) {
	info, err := d.describe(ctx, env)
	if err != nil {
		return "", err
	}

	switch {
	case info == nil:
	case info.Status == provider.TableStatusActive:
		return OutcomeUnchanged, nil
	case info.Status == provider.TableStatusDeleting:
		if err := d.waitGone(ctx, env); err != nil {
			return "", err
		}
	default:
		return OutcomeUnchanged, d.waitActive(ctx, env)
	}

	createErr := env.Client.Tables.CreateTable(ctx, provider.TableSpec{
		Name:        TableName(env.Config),
		HashKey:     TableHashKey,
		HashKeyType: TableHashKeyType,
	})
	if createErr != nil && !provider.IsAlreadyExists(createErr) {
		return "", createErr
	}
	if err := d.waitActive(ctx, env); err != nil {
		return "", err
	}
	if createErr != nil {
		return OutcomeUnchanged, nil
	}
	return OutcomeCreated, nil
}

func (d tableDescriptor) DeleteIfExists(ctx context.Context, env *Env) (Outcome, error) {
	info, err := d.describe(ctx, env)
	if err != nil {
		return "", err
	}
	if info == nil {
		return OutcomeAbsent, nil
	}
	if info.Status != provider.TableStatusDeleting {
		err := env.Client.Tables.DeleteTable(ctx, TableName(env.Config))
		if provider.IsNotFound(err) {
			return OutcomeAbsent, nil
		}
		if err != nil {
			return "", err
		}
	}
	if err := d.waitGone(ctx, env); err != nil {
		return "", err
	}
	return OutcomeDeleted, nil
}

func (d tableDescriptor) waitActive(ctx context.Context, env *Env) error {
	return env.wait(ctx, "table active", func(ctx context.Context) (bool, error) {
		info, err := d.describe(ctx, env)
		if err != nil {
			return false, err
		}
		return info != nil && info.Status == provider.TableStatusActive, nil
	})
}

func (d tableDescriptor) waitGone(ctx context.Context, env *Env) error {
	return env.wait(ctx, "table deleted", func(ctx context.Context) (bool, error) {
		info, err := d.describe(ctx, env)
		return info == nil, err
	})
}
