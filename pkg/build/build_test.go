package build

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func zipNames(t *testing.T, body []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("invalid archive: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		if !f.Modified.Equal(archiveTime) && f.Modified.Year() != 1980 {
			t.Errorf("entry %s has timestamp %v", f.Name, f.Modified)
		}
	}
	return names
}

// fakeRunner writes one installed package into the {target} directory.
type fakeRunner struct {
	argv [][]string
	err  error
}

func (f *fakeRunner) Run(_ context.Context, _ string, argv []string) ([]byte, error) {
	f.argv = append(f.argv, argv)
	if f.err != nil {
		return []byte("resolver error"), f.err
	}
	target := argv[len(argv)-1]
	dir := filepath.Join(target, "requests")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return nil, os.WriteFile(filepath.Join(dir, "__init__.py"), []byte("# requests"), 0644)
}

func TestBuildCodeDeterministic(t *testing.T) {
	src := filepath.Join(t.TempDir(), "shop")
	writeTree(t, src, map[string]string{
		"main.py":                      "print('hi')",
		"lib/util.py":                  "X = 1",
		"__pycache__/main.cpython.pyc": "junk",
		".git/HEAD":                    "ref",
	})

	b := &LocalBuilder{CodePath: src, OutputDir: t.TempDir()}
	first, err := b.BuildCode(context.Background())
	if err != nil {
		t.Fatalf("BuildCode() error: %v", err)
	}

	// Touching mtimes must not change the archive.
	later := time.Now().Add(time.Hour)
	_ = os.Chtimes(filepath.Join(src, "main.py"), later, later)

	second, err := b.BuildCode(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if first.Digest != second.Digest {
		t.Errorf("digest changed between identical builds: %s != %s", first.Digest, second.Digest)
	}

	names := zipNames(t, first.Body)
	if want := []string{"lib/util.py", "main.py"}; !slices.Equal(names, want) {
		t.Errorf("entries = %v, want %v", names, want)
	}
	if _, err := os.Stat(first.Path); err != nil {
		t.Errorf("archive not written: %v", err)
	}

	writeTree(t, src, map[string]string{"main.py": "print('changed')"})
	third, err := b.BuildCode(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if third.Digest == first.Digest {
		t.Error("expected content change to change the digest")
	}
}

func TestBuildSkipsOutputDirInsideSources(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"handlers.py": "def new(event, ctx): return event",
		"lib/util.py": "X = 1",
	})
	journal := filepath.Join(root, "state", "journal.db")
	writeTree(t, root, map[string]string{"state/journal.db": "runs"})

	b := &LocalBuilder{
		CodePath:   root,
		SourcePath: root,
		OutputDir:  filepath.Join(root, "dist"),
		Exclude:    []string{journal},
	}

	ctx := context.Background()
	var codeDigests, layerDigests []string
	for i := 0; i < 3; i++ {
		code, err := b.BuildCode(ctx)
		if err != nil {
			t.Fatalf("BuildCode() error: %v", err)
		}
		layer, err := b.BuildLayer(ctx)
		if err != nil {
			t.Fatalf("BuildLayer() error: %v", err)
		}
		codeDigests = append(codeDigests, code.Digest.String())
		layerDigests = append(layerDigests, layer.Digest.String())

		// The journal grows between runs and must not leak into the packages.
		writeTree(t, root, map[string]string{"state/journal.db": strings.Repeat("run", i+2)})
	}

	for i := 1; i < 3; i++ {
		if codeDigests[i] != codeDigests[0] {
			t.Errorf("build %d: code digest %s, want %s", i, codeDigests[i], codeDigests[0])
		}
		if layerDigests[i] != layerDigests[0] {
			t.Errorf("build %d: layer digest %s, want %s", i, layerDigests[i], layerDigests[0])
		}
	}

	code, err := b.BuildCode(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if names := zipNames(t, code.Body); !slices.Equal(names, []string{"handlers.py", "lib/util.py"}) {
		t.Errorf("entries = %v", names)
	}
}

func TestBuildCodePrebuiltZip(t *testing.T) {
	dir := t.TempDir()
	prebuilt := filepath.Join(dir, "app.zip")
	if err := os.WriteFile(prebuilt, []byte("PK-prebuilt"), 0644); err != nil {
		t.Fatal(err)
	}

	b := &LocalBuilder{CodePath: prebuilt, OutputDir: filepath.Join(dir, "out")}
	a, err := b.BuildCode(context.Background())
	if err != nil {
		t.Fatalf("BuildCode() error: %v", err)
	}
	if string(a.Body) != "PK-prebuilt" || a.Name != CodeArchive {
		t.Errorf("unexpected artifact: %s %q", a.Name, a.Body)
	}
}

func TestBuildCodeErrors(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "main.py")
	if err := os.WriteFile(plain, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(dir, "empty")
	if err := os.Mkdir(empty, 0755); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{filepath.Join(dir, "missing"), plain, empty} {
		b := &LocalBuilder{CodePath: p, OutputDir: dir}
		if _, err := b.BuildCode(context.Background()); err == nil {
			t.Errorf("expected error for code path %s", p)
		}
	}
}

func TestBuildLayer(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "shop")
	writeTree(t, src, map[string]string{"handlers.py": "def new(): pass"})
	manifest := filepath.Join(root, "requirements.txt")
	writeTree(t, root, map[string]string{"requirements.txt": "requests\n"})

	runner := &fakeRunner{}
	b := &LocalBuilder{
		SourcePath:     src,
		ManifestPath:   manifest,
		OutputDir:      filepath.Join(root, "out"),
		InstallCommand: []string{"pip", "install", "-r", "{manifest}", "--target", "{target}"},
		Runner:         runner,
	}

	a, err := b.BuildLayer(context.Background())
	if err != nil {
		t.Fatalf("BuildLayer() error: %v", err)
	}
	names := zipNames(t, a.Body)
	want := []string{"python/requests/__init__.py", "python/shop/handlers.py"}
	if !slices.Equal(names, want) {
		t.Errorf("entries = %v, want %v", names, want)
	}

	if len(runner.argv) != 1 {
		t.Fatalf("expected one install, got %d", len(runner.argv))
	}
	argv := runner.argv[0]
	if argv[3] != manifest {
		t.Errorf("manifest placeholder not substituted: %v", argv)
	}
	if _, err := os.Stat(argv[5]); !os.IsNotExist(err) {
		t.Errorf("install target %s should be removed after the build", argv[5])
	}
}

func TestBuildLayerInstallFailure(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"shop/a.py": "", "requirements.txt": "nope\n"})

	b := &LocalBuilder{
		SourcePath:     filepath.Join(root, "shop"),
		ManifestPath:   filepath.Join(root, "requirements.txt"),
		OutputDir:      root,
		InstallCommand: []string{"pip", "install", "-r", "{manifest}", "--target", "{target}"},
		Runner:         &fakeRunner{err: errors.New("exit status 1")},
	}
	if _, err := b.BuildLayer(context.Background()); err == nil {
		t.Fatal("expected install failure to fail the build")
	}
}

func TestBuildLayerWithoutManifest(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"shop/a.py": "A = 1"})

	runner := &fakeRunner{}
	b := &LocalBuilder{SourcePath: filepath.Join(root, "shop"), OutputDir: root, Runner: runner}
	a, err := b.BuildLayer(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if names := zipNames(t, a.Body); !slices.Equal(names, []string{"python/shop/a.py"}) {
		t.Errorf("unexpected entries %v", names)
	}
	if len(runner.argv) != 0 {
		t.Error("installer should not run without a manifest")
	}
}
