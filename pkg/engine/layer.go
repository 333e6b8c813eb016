package engine

import (
	"context"
	"fmt"

	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/provider"
)

// layerDescriptor manages the versioned shared layer published from the
// layer package.
type layerDescriptor struct{}

func (layerDescriptor) Kind() Kind        { return KindLayer }
func (layerDescriptor) Label() string     { return string(KindLayer) }
func (layerDescriptor) DependsOn() []Kind { return []Kind{KindLayerPackage} }

func (layerDescriptor) ResourceName(cfg *config.DeploymentConfig) string {
	return LayerName(cfg)
}

func (d layerDescriptor) latest(ctx context.Context, env *Env) (*provider.LayerVersion, error) {
	versions, err := env.Client.Functions.ListLayerVersions(ctx, LayerName(env.Config))
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, nil
	}
	return &versions[0], nil
}

func (d layerDescriptor) Exists(ctx context.Context, env *Env) (bool, error) {
	v, err := d.latest(ctx, env)
	return v != nil, err
}

// Reference returns the ARN of the latest published version.
func (d layerDescriptor) Reference(ctx context.Context, env *Env) (string, error) {
	v, err := d.latest(ctx, env)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", NewError(ErrorClassNotFound, "layer has no published version", nil).
			WithResource(KindLayer, LayerName(env.Config))
	}
	return v.ARN, nil
}

func (d layerDescriptor) CreateOrUpdate(ctx context.Context, env *Env) (Outcome, error) {
	art, err := env.artifact(ctx, KindLayerPackage)
	if err != nil {
		return "", err
	}

	current, err := d.latest(ctx, env)
	if err != nil {
		return "", err
	}
	if current != nil && current.CodeSha256 == art.Digest.String() {
		return OutcomeUnchanged, nil
	}

	name := LayerName(env.Config)
	published, err := env.Client.Functions.PublishLayerVersion(ctx, name,
		layerPackage().Location(env.Config), []string{env.Config.Runtime})
	if err != nil {
		return "", err
	}
	env.logger().Infof("published layer version %d", published.Version)

	after, err := d.latest(ctx, env)
	if err != nil {
		return "", err
	}
	if after == nil || after.CodeSha256 != art.Digest.String() {
		got := "none"
		if after != nil {
			got = after.CodeSha256
		}
		return "", NewDeploymentError(
			fmt.Sprintf("published layer digest %s does not match package digest %s", got, art.Digest), nil)
	}

	if current == nil {
		return OutcomeCreated, nil
	}
	return OutcomeUpdated, nil
}

// DeleteIfExists deletes every published version.
func (d layerDescriptor) DeleteIfExists(ctx context.Context, env *Env) (Outcome, error) {
	name := LayerName(env.Config)
	versions, err := env.Client.Functions.ListLayerVersions(ctx, name)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return OutcomeAbsent, nil
	}
	for _, v := range versions {
		if err := env.Client.Functions.DeleteLayerVersion(ctx, name, v.Version); err != nil && !provider.IsNotFound(err) {
			return "", err
		}
	}
	return OutcomeDeleted, nil
}
