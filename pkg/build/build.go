// Package build produces the deployable artifacts of a service: the code
// package and the shared layer package. Archives are deterministic, so an
// unchanged source tree always yields the same digest and no upload.
package build

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/openfroyo/converge/pkg/digest"
	"github.com/openfroyo/converge/pkg/telemetry"
)

// Artifact file names, also used as object keys.
const (
	CodeArchive  = "code.zip"
	LayerArchive = "layer.zip"
)

// Artifact is a built archive.
type Artifact struct {
	// Name is the archive file name (CodeArchive or LayerArchive).
	Name string
	// Path is where the archive was written.
	Path string
	// Body holds the archive bytes.
	Body []byte
	// Digest is the base64 SHA-256 of Body.
	Digest digest.Digest
}

// Builder builds artifacts.
type Builder interface {
	BuildCode(ctx context.Context) (*Artifact, error)
	BuildLayer(ctx context.Context) (*Artifact, error)
}

// CommandRunner runs an external command. Tests substitute a fake.
type CommandRunner interface {
	Run(ctx context.Context, dir string, argv []string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, dir string, argv []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// LocalBuilder builds artifacts from the local filesystem.
type LocalBuilder struct {
	// CodePath is a source directory or a prebuilt .zip.
	CodePath string
	// SourcePath is placed under python/<base name> in the layer.
	SourcePath string
	// ManifestPath lists dependencies for the layer; empty skips installation.
	ManifestPath string
	// OutputDir receives the archives. It is never packaged, even when it
	// lies inside CodePath or SourcePath.
	OutputDir string
	// Exclude lists further files or directories left out of both
	// archives, such as a journal kept next to the sources.
	Exclude []string
	// InstallCommand installs ManifestPath; {manifest} and {target} are substituted.
	InstallCommand []string

	Runner CommandRunner
	Logger *telemetry.Logger
}

// BuildCode implements Builder. A .zip CodePath is copied unchanged.
func (b *LocalBuilder) BuildCode(ctx context.Context) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(b.CodePath)
	if err != nil {
		return nil, fmt.Errorf("code path: %w", err)
	}

	var body []byte
	switch {
	case info.IsDir():
		entries, err := collect(b.CodePath, "", b.excluded())
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, fmt.Errorf("code path %s contains no files", b.CodePath)
		}
		if body, err = writeZip(entries); err != nil {
			return nil, err
		}
	case strings.EqualFold(filepath.Ext(b.CodePath), ".zip"):
		if body, err = os.ReadFile(b.CodePath); err != nil {
			return nil, fmt.Errorf("failed to read prebuilt package: %w", err)
		}
	default:
		return nil, fmt.Errorf("code path %s must be a directory or a .zip file", b.CodePath)
	}

	return b.finish(CodeArchive, body)
}

// BuildLayer implements Builder. The layer holds python/<source> plus the
// dependency closure installed into python/.
func (b *LocalBuilder) BuildLayer(ctx context.Context) (*Artifact, error) {
	info, err := os.Stat(b.SourcePath)
	if err != nil {
		return nil, fmt.Errorf("source path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source path %s must be a directory", b.SourcePath)
	}

	entries, err := collect(b.SourcePath, "python/"+filepath.Base(filepath.Clean(b.SourcePath)), b.excluded())
	if err != nil {
		return nil, err
	}

	if b.ManifestPath != "" {
		deps, cleanup, err := b.installDependencies(ctx)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		entries = append(entries, deps...)
	}

	body, err := writeZip(entries)
	if err != nil {
		return nil, err
	}
	return b.finish(LayerArchive, body)
}

func (b *LocalBuilder) installDependencies(ctx context.Context) ([]entry, func(), error) {
	if len(b.InstallCommand) == 0 {
		return nil, nil, fmt.Errorf("no install command configured for %s", b.ManifestPath)
	}
	manifest, err := filepath.Abs(b.ManifestPath)
	if err != nil {
		return nil, nil, err
	}
	if _, err := os.Stat(manifest); err != nil {
		return nil, nil, fmt.Errorf("manifest: %w", err)
	}

	target, err := os.MkdirTemp("", "converge-layer-")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { os.RemoveAll(target) }

	argv := make([]string, len(b.InstallCommand))
	for i, arg := range b.InstallCommand {
		arg = strings.ReplaceAll(arg, "{manifest}", manifest)
		argv[i] = strings.ReplaceAll(arg, "{target}", target)
	}

	b.logger().WithField("command", strings.Join(argv, " ")).Debug("installing layer dependencies")
	runner := b.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	if out, err := runner.Run(ctx, filepath.Dir(manifest), argv); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("dependency install failed: %w\n%s", err, strings.TrimSpace(string(out)))
	}

	deps, err := collect(target, "python", nil)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return deps, cleanup, nil
}

func (b *LocalBuilder) excluded() []string {
	return append([]string{b.OutputDir}, b.Exclude...)
}

func (b *LocalBuilder) finish(name string, body []byte) (*Artifact, error) {
	p := filepath.Join(b.OutputDir, name)
	if err := writeFileAtomic(p, body); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", p, err)
	}
	a := &Artifact{Name: name, Path: p, Body: body, Digest: digest.Sum(body)}
	b.logger().WithFields(map[string]interface{}{
		"artifact": name,
		"size":     len(body),
		"digest":   a.Digest.String(),
	}).Debug("artifact built")
	return a, nil
}

func (b *LocalBuilder) logger() *telemetry.Logger {
	if b.Logger == nil {
		return telemetry.Nop()
	}
	return b.Logger
}
