// Package digest computes content hashes used to decide whether a build
// artifact has to be uploaded or published again.
package digest

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
)

// MetadataKey is the object metadata key holding an artifact digest.
const MetadataKey = "sha256"

// Digest is a base64 encoded SHA-256 hash. The encoding matches the code
// hash reported by the function provider, so both can be compared directly.
type Digest string

// Sum returns the digest of b.
func Sum(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest(base64.StdEncoding.EncodeToString(sum[:]))
}

// Reader returns the digest of everything read from r.
func Reader(r io.Reader) (Digest, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return Digest(base64.StdEncoding.EncodeToString(h.Sum(nil))), nil
}

// File returns the digest of the file at path.
func File(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return Reader(f)
}

// NeedsUpload reports whether the local artifact differs from the remote
// copy. An empty remote digest means the remote copy is missing or carries
// no digest metadata.
func NeedsUpload(remote, local Digest) bool {
	return remote == "" || remote != local
}

// String implements fmt.Stringer.
func (d Digest) String() string {
	return string(d)
}
