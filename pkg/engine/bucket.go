package engine

import (
	"context"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/provider"
)

// bucketDescriptor manages the private artifact bucket.
type bucketDescriptor struct{}

func (bucketDescriptor) Kind() Kind        { return KindBucket }
func (bucketDescriptor) Label() string     { return string(KindBucket) }
func (bucketDescriptor) DependsOn() []Kind { return nil }

func (bucketDescriptor) ResourceName(cfg *config.DeploymentConfig) string {
	return BucketName(cfg)
}

func (d bucketDescriptor) Exists(ctx context.Context, env *Env) (bool, error) {
	err := env.Client.Objects.HeadBucket(ctx, BucketName(env.Config))
	switch {
	case err == nil:
		return true, nil
	case provider.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

func (d bucketDescriptor) CreateOrUpdate(ctx context.Context, env *Env) (Outcome, error) {
	exists, err := d.Exists(ctx, env)
	if err != nil || exists {
		return OutcomeUnchanged, err
	}

	name := BucketName(env.Config)
	if err := env.Client.Objects.CreateBucket(ctx, name, env.Config.Region); err != nil {
		if provider.IsAlreadyExists(err) {
			return OutcomeUnchanged, nil
		}
		return "", err
	}
	if err := env.wait(ctx, "bucket exists", func(ctx context.Context) (bool, error) {
		return d.Exists(ctx, env)
	}); err != nil {
		return "", err
	}
	return OutcomeCreated, nil
}

func (d bucketDescriptor) DeleteIfExists(ctx context.Context, env *Env) (Outcome, error) {
	err := env.Client.Objects.DeleteBucket(ctx, BucketName(env.Config))
	switch {
	case err == nil:
		return OutcomeDeleted, nil
	case provider.IsNotFound(err):
		return OutcomeAbsent, nil
	default:
		return "", err
	}
}
