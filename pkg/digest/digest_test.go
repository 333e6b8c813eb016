package digest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSum(t *testing.T) {
	// sha256("") in base64
	if got := Sum(nil); got != "47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=" {
		t.Errorf("Sum(nil) = %s", got)
	}

	a := Sum([]byte("layer contents"))
	b := Sum([]byte("layer contents"))
	c := Sum([]byte("layer contentz"))
	if a != b {
		t.Error("identical input produced different digests")
	}
	if a == c {
		t.Error("single byte difference produced identical digests")
	}
}

func TestFileMatchesSum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "code.zip")
	content := []byte("PK\x03\x04 archive bytes")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	got, err := File(path)
	if err != nil {
		t.Fatalf("File() error: %v", err)
	}
	if got != Sum(content) {
		t.Errorf("File() = %s, want %s", got, Sum(content))
	}

	fromReader, err := Reader(strings.NewReader(string(content)))
	if err != nil {
		t.Fatalf("Reader() error: %v", err)
	}
	if fromReader != got {
		t.Errorf("Reader() = %s, want %s", fromReader, got)
	}
}

func TestFileMissing(t *testing.T) {
	if _, err := File(filepath.Join(t.TempDir(), "missing.zip")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNeedsUpload(t *testing.T) {
	local := Sum([]byte("v1"))

	tests := []struct {
		name   string
		remote Digest
		want   bool
	}{
		{"missing remote", "", true},
		{"same digest", local, false},
		{"different digest", Sum([]byte("v2")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsUpload(tt.remote, local); got != tt.want {
				t.Errorf("NeedsUpload() = %v, want %v", got, tt.want)
			}
		})
	}
}
