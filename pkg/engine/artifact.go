package engine

import (
	"context"

	"github.com/openfroyo/converge/pkg/build"
	"github.com/openfroyo/converge/pkg/config"
	"github.com/openfroyo/converge/pkg/digest"
	"github.com/openfroyo/converge/pkg/provider"
)

// packageDescriptor manages one built archive stored in the artifact
// bucket. Uploads are gated on the digest kept in object metadata.
type packageDescriptor struct {
	kind Kind
	key  string
}

func codePackage() packageDescriptor {
	return packageDescriptor{kind: KindCodePackage, key: build.CodeArchive}
}

func layerPackage() packageDescriptor {
	return packageDescriptor{kind: KindLayerPackage, key: build.LayerArchive}
}

func (d packageDescriptor) Kind() Kind        { return d.kind }
func (d packageDescriptor) Label() string     { return string(d.kind) }
func (d packageDescriptor) DependsOn() []Kind { return []Kind{KindBucket} }

func (d packageDescriptor) ResourceName(cfg *config.DeploymentConfig) string {
	return BucketName(cfg) + "/" + d.key
}

// Location is where the package is stored.
func (d packageDescriptor) Location(cfg *config.DeploymentConfig) provider.CodeLocation {
	return provider.CodeLocation{Bucket: BucketName(cfg), Key: d.key}
}

// remoteDigest returns the digest recorded on the stored object, or ""
// when the object (or its bucket) is missing.
func (d packageDescriptor) remoteDigest(ctx context.Context, env *Env) (digest.Digest, bool, error) {
	info, err := env.Client.Objects.HeadObject(ctx, BucketName(env.Config), d.key)
	if provider.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return digest.Digest(info.Metadata[digest.MetadataKey]), true, nil
}

func (d packageDescriptor) Exists(ctx context.Context, env *Env) (bool, error) {
	_, exists, err := d.remoteDigest(ctx, env)
	return exists, err
}

func (d packageDescriptor) CreateOrUpdate(ctx context.Context, env *Env) (Outcome, error) {
	art, err := env.artifact(ctx, d.kind)
	if err != nil {
		return "", err
	}

	remote, exists, err := d.remoteDigest(ctx, env)
	if err != nil {
		return "", err
	}
	if !digest.NeedsUpload(remote, art.Digest) {
		env.Metrics.RecordArtifactUpload(d.key, false)
		return OutcomeUnchanged, nil
	}

	env.logger().WithFields(map[string]interface{}{
		"key":    d.key,
		"remote": remote.String(),
		"local":  art.Digest.String(),
	}).Debug("uploading package")

	metadata := map[string]string{digest.MetadataKey: art.Digest.String()}
	if err := env.Client.Objects.PutObject(ctx, BucketName(env.Config), d.key, art.Body, metadata); err != nil {
		return "", err
	}
	env.Metrics.RecordArtifactUpload(d.key, true)

	if exists {
		return OutcomeUpdated, nil
	}
	return OutcomeCreated, nil
}

func (d packageDescriptor) DeleteIfExists(ctx context.Context, env *Env) (Outcome, error) {
	exists, err := d.Exists(ctx, env)
	if err != nil {
		return "", err
	}
	if !exists {
		return OutcomeAbsent, nil
	}
	err = env.Client.Objects.DeleteObject(ctx, BucketName(env.Config), d.key)
	switch {
	case err == nil:
		return OutcomeDeleted, nil
	case provider.IsNotFound(err):
		return OutcomeAbsent, nil
	default:
		return "", err
	}
}
