package entrypoint

import "strings"

// Namespace classifies the resource kind a handle belongs to. It selects the
// handle map used to remap a parameter during replay.
type Namespace uint8

const (
	Unclassified Namespace = iota
	Contexts
	Buffers
	Textures
	Programs
	Shaders
	Queries
	Samplers
	VertexArrays
	SyncObjects
	Framebuffers
	Renderbuffers
	DisplayLists
	ARBPrograms
	Locations

	NumNamespaces
)

var namespaceNames = [NumNamespaces]string{
	Unclassified:  "unclassified",
	Contexts:      "contexts",
	Buffers:       "buffers",
	Textures:      "textures",
	Programs:      "programs",
	Shaders:       "shaders",
	Queries:       "queries",
	Samplers:      "samplers",
	VertexArrays:  "vertex_arrays",
	SyncObjects:   "sync_objects",
	Framebuffers:  "framebuffers",
	Renderbuffers: "renderbuffers",
	DisplayLists:  "display_lists",
	ARBPrograms:   "arb_programs",
	Locations:     "locations",
}

func (n Namespace) String() string {
	if n >= NumNamespaces {
		return "invalid"
	}
	return namespaceNames[n]
}

// IsHandle reports whether values in this namespace need remapping.
func (n Namespace) IsHandle() bool {
	return n != Unclassified && n < NumNamespaces
}

// Shared reports whether objects of this namespace are shared between
// contexts of one sharing group. Container objects (vertex arrays,
// framebuffers, queries) stay per-context; locations belong to a program.
func (n Namespace) Shared() bool {
	switch n {
	case Buffers, Textures, Programs, Shaders, Samplers, SyncObjects,
		Renderbuffers, DisplayLists, ARBPrograms:
		return true
	default:
		return false
	}
}

// ParseNamespace resolves a schema name. Unknown names map to Unclassified
// and ok=false.
func ParseNamespace(s string) (Namespace, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Unclassified, true
	}
	for i, name := range namespaceNames {
		if name == s {
			return Namespace(i), true
		}
	}
	return Unclassified, false
}
