// Package naming derives deterministic provider resource names from a
// deployment identity.
//
// Names are recomputed on every run instead of being stored, so the same
// identity must always map to the same name and distinct identities must
// never share one. A name that cannot be read back unambiguously (it had
// to be sanitised, an identity part contains '-', or it breaks a provider
// length limit) carries a stable hash suffix of the identity.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Prefix is prepended to every derived name.
const Prefix = "converge"

// Kind selects the provider naming rules applied to a name.
type Kind string

const (
	KindBucket   Kind = "bucket"
	KindTable    Kind = "table"
	KindRole     Kind = "role"
	KindFunction Kind = "function"
	KindLayer    Kind = "layer"
)

// hashLen is the number of hex characters kept from the digest in a hash
// suffix.
const hashLen = 8

// Identity is the (deployment, service) pair namespacing every resource.
type Identity struct {
	DeploymentID string
	ServiceName  string
}

func (id Identity) String() string {
	return id.DeploymentID + "/" + id.ServiceName
}

type rule struct {
	maxLen    int
	lowercase bool
	allowed   func(r rune) bool
}

var rules = map[Kind]rule{
	KindBucket: {
		maxLen:    63,
		lowercase: true,
		allowed: func(r rune) bool {
			return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-'
		},
	},
	KindTable: {
		maxLen: 255,
		allowed: func(r rune) bool {
			return isAlnum(r) || r == '_' || r == '-' || r == '.'
		},
	},
	KindRole: {
		maxLen: 64,
		allowed: func(r rune) bool {
			return isAlnum(r) || strings.ContainsRune("+=,.@_-", r)
		},
	},
	KindFunction: {
		maxLen: 64,
		allowed: func(r rune) bool {
			return isAlnum(r) || r == '_' || r == '-'
		},
	},
	KindLayer: {
		maxLen: 64,
		allowed: func(r rune) bool {
			return isAlnum(r) || r == '_' || r == '-'
		},
	},
}

// Name returns the provider name for a resource of the given kind.
// The format is <Prefix>-<deployment>-<service>[-<suffix>], followed by
// -<hash> when the plain form would be ambiguous or too long.
func Name(id Identity, kind Kind, suffix string) string {
	parts := []string{Prefix, id.DeploymentID, id.ServiceName}
	if suffix != "" {
		parts = append(parts, suffix)
	}
	raw := strings.Join(parts, "-")

	r, ok := rules[kind]
	if !ok {
		return raw
	}
	name := sanitize(raw, r)
	if name == raw && !ambiguous(id) && len(name) <= r.maxLen {
		return name
	}
	return tagged(name, fingerprint(id, suffix), r.maxLen)
}

// MaxLen reports the length limit enforced for kind, or 0 when unknown.
func MaxLen(kind Kind) int {
	return rules[kind].maxLen
}

func sanitize(name string, r rule) string {
	if r.lowercase {
		name = strings.ToLower(name)
	}
	var b strings.Builder
	b.Grow(len(name))
	for _, c := range name {
		if r.allowed(c) {
			b.WriteRune(c)
		} else {
			b.WriteRune('-')
		}
	}
	return b.String()
}

// ambiguous reports whether joining the identity with '-' loses the
// boundary between its parts.
func ambiguous(id Identity) bool {
	return strings.Contains(id.DeploymentID, "-") || strings.Contains(id.ServiceName, "-")
}

// fingerprint hashes the unsanitised parts with a separator no part can
// contain.
func fingerprint(id Identity, suffix string) string {
	sum := sha256.Sum256([]byte(id.DeploymentID + "\x00" + id.ServiceName + "\x00" + suffix))
	return hex.EncodeToString(sum[:])[:hashLen]
}

func tagged(name, tag string, limit int) string {
	if len(name)+1+len(tag) > limit {
		name = strings.TrimRight(name[:limit-len(tag)-1], "-")
	}
	return name + "-" + tag
}

func isAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
