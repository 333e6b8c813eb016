package engine

import (
	"fmt"
	"strings"

	"github.com/openfroyo/converge/pkg/config"
)

// Sequence returns the ordered descriptor list for cfg: the artifact
// bucket, both packages, the table, the role, the layer, then one
// function per configured function in configuration order. Deploy walks
// it forward and Destroy walks it in reverse.
func Sequence(cfg *config.DeploymentConfig) []Descriptor {
	seq := []Descriptor{
		bucketDescriptor{},
		codePackage(),
		layerPackage(),
		tableDescriptor{},
		roleDescriptor{},
		layerDescriptor{},
	}
	for _, fn := range cfg.Functions {
		seq = append(seq, newFunction(fn))
	}
	return seq
}

// ValidateSequence checks that every descriptor appears after all the
// kinds it depends on and that labels are unique.
func ValidateSequence(seq []Descriptor) error {
	seen := make(map[Kind]bool)
	labels := make(map[string]bool)

	for i, d := range seq {
		if labels[d.Label()] {
			return NewValidationError(fmt.Sprintf("duplicate step %s at position %d", d.Label(), i))
		}
		labels[d.Label()] = true

		for _, dep := range d.DependsOn() {
			if !seen[dep] {
				return NewValidationError(
					fmt.Sprintf("step %s depends on %s which does not precede it", d.Label(), dep))
			}
		}
		seen[d.Kind()] = true
	}
	return nil
}

// Entries lists the derived identity of every descriptor in seq. It needs
// no provider client.
func Entries(cfg *config.DeploymentConfig, seq []Descriptor) []Entry {
	entries := make([]Entry, 0, len(seq))
	for _, d := range seq {
		entries = append(entries, Entry{
			Kind:  d.Kind(),
			Label: d.Label(),
			Name:  d.ResourceName(cfg),
		})
	}
	return entries
}

// ToDOT renders the sequence and its dependency edges in DOT format. The
// output can be rendered with Graphviz tools.
func ToDOT(cfg *config.DeploymentConfig, seq []Descriptor) string {
	var sb strings.Builder

	sb.WriteString("digraph Deployment {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	byKind := make(map[Kind][]string)
	for _, d := range seq {
		byKind[d.Kind()] = append(byKind[d.Kind()], d.Label())
		sb.WriteString(fmt.Sprintf("  %q [label=\"%s\\n%s\", fillcolor=%q, style=\"filled,rounded\"];\n",
			d.Label(), d.Label(), d.ResourceName(cfg), kindColor(d.Kind())))
	}
	sb.WriteString("\n")

	for _, d := range seq {
		for _, dep := range d.DependsOn() {
			for _, from := range byKind[dep] {
				sb.WriteString(fmt.Sprintf("  %q -> %q;\n", from, d.Label()))
			}
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func kindColor(kind Kind) string {
	switch kind {
	case KindBucket, KindCodePackage, KindLayerPackage:
		return "lightyellow"
	case KindTable:
		return "lightblue"
	case KindRole:
		return "lightpink"
	case KindLayer:
		return "lightgrey"
	default:
		return "lightgreen"
	}
}
