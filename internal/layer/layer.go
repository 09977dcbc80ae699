// Package layer implements the layer/environment data model and the
// Reference-flattening pass.
//
// The Resolver/flatten shape follows the same structure as Portage
// profile-parent resolution: a named thing whose "parents" must be
// recursively resolved through an injected lookup, with cycles being a
// configuration error rather than a crash.
package layer

import "fmt"

// Kind identifies a path directive's mount operation.
type Kind int

const (
	// Hide makes a path invisible. No known mount mechanism implements this
	// directly; the assembler logs it as unimplemented and skips it
	// without mounting anything.
	Hide Kind = iota
	// Bind bind-mounts the layer-relative source onto the directive path.
	Bind
	// BindChildren overlays an empty scaffold at the directive path, then
	// binds each immediate child of the layer source directory into it.
	BindChildren
	// Overlay overlayfs-mounts the layer source directory as an additional
	// lower layer on top of whatever is currently at the directive path.
	Overlay
	// OverlayChildren applies Overlay semantics per immediate child.
	OverlayChildren
	// Mount mounts a fresh virtual filesystem at the directive path.
	Mount
	// Wormhole binds the wrapper-client executable onto the directive path.
	Wormhole
)

func (k Kind) String() string {
	switch k {
	case Hide:
		return "Hide"
	case Bind:
		return "Bind"
	case BindChildren:
		return "BindChildren"
	case Overlay:
		return "Overlay"
	case OverlayChildren:
		return "OverlayChildren"
	case Mount:
		return "Mount"
	case Wormhole:
		return "Wormhole"
	default:
		return "Kind(?)"
	}
}

// PathDirective is one (kind, path[, mount attrs]) instruction applied
// during assembly.
type PathDirective struct {
	Kind Kind
	Path string // absolute; may be a glob pattern

	// Only meaningful for Kind == Mount.
	FSType  string
	Device  string
	Options string
}

// Type identifies what a Layer's source resolves to.
type Type int

const (
	// TypeLayer resolves Directory to a host directory.
	TypeLayer Type = iota
	// TypeImage resolves Image via the container-runtime façade; must be
	// the bottom (index 0) of a flattened environment.
	TypeImage
	// TypeReference splices lower_layer_name's flattened layers in at this
	// position; Reference layers never survive flattening.
	TypeReference
)

func (t Type) String() string {
	switch t {
	case TypeLayer:
		return "Layer"
	case TypeImage:
		return "Image"
	case TypeReference:
		return "Reference"
	default:
		return "Type(?)"
	}
}

// Layer is one entry of an environment's layer stack.
type Layer struct {
	Type Type

	// TypeLayer fields.
	Directory   string
	UseLdconfig bool

	// TypeImage fields.
	Image string

	// TypeReference fields.
	LowerLayerName string

	Paths []PathDirective
}

// Clone returns a deep copy of l.
func (l Layer) Clone() Layer {
	out := l
	out.Paths = append([]PathDirective(nil), l.Paths...)
	return out
}

// Environment is a named, ordered stack of layers with optional capability
// metadata. Flatten (below) replaces a possibly-Reference-bearing
// Layers slice with one containing only TypeLayer/TypeImage entries.
type Environment struct {
	Name     string
	Layers   []Layer
	Provides []string
	Requires []string

	// RootDirectory is set by the assembler when the bottom layer is an
	// Image: the physical directory the caller should chroot/pivot_root
	// into. Empty when the environment has no Image layer.
	RootDirectory string
}

// Clone returns a deep copy of e.
func (e Environment) Clone() Environment {
	out := e
	out.Layers = make([]Layer, len(e.Layers))
	for i, l := range e.Layers {
		out.Layers[i] = l.Clone()
	}
	out.Provides = append([]string(nil), e.Provides...)
	out.Requires = append([]string(nil), e.Requires...)
	return out
}

// Resolver looks up another environment's (already or lazily flattened)
// layer list by name, for resolving Reference layers. Implementations
// should return the same error for an unknown name every time, so
// Flatten's cycle detection behaves deterministically.
type Resolver interface {
	ResolveLayers(name string) ([]Layer, error)
}

// Flatten reduces env's layer list to one containing no TypeReference
// entries: each Reference is replaced, in place, by the (recursively
// flattened) layers of the environment it names. Flattening is a fixpoint:
// flattening an already-flat list returns it unchanged.
//
// Duplicate layers reached through more than one Reference path are not
// collapsed; a shared dependency referenced from two environments is
// mounted twice in the flattened result.
func Flatten(env Environment, resolver Resolver) (Environment, error) {
	out := env.Clone()

	flat, err := flattenLayers(env.Layers, resolver, map[string]bool{env.Name: true})
	if err != nil {
		return Environment{}, fmt.Errorf("layer: flattening %q: %w", env.Name, err)
	}
	out.Layers = flat

	if err := validateImagePlacement(flat); err != nil {
		return Environment{}, fmt.Errorf("layer: flattening %q: %w", env.Name, err)
	}

	return out, nil
}

func flattenLayers(layers []Layer, resolver Resolver, visiting map[string]bool) ([]Layer, error) {
	var out []Layer
	for _, l := range layers {
		if l.Type != TypeReference {
			out = append(out, l.Clone())
			continue
		}

		if visiting[l.LowerLayerName] {
			return nil, fmt.Errorf("cyclic reference to environment %q", l.LowerLayerName)
		}

		referenced, err := resolver.ResolveLayers(l.LowerLayerName)
		if err != nil {
			return nil, fmt.Errorf("resolving reference to %q: %w", l.LowerLayerName, err)
		}

		visiting[l.LowerLayerName] = true
		flattened, err := flattenLayers(referenced, resolver, visiting)
		delete(visiting, l.LowerLayerName)
		if err != nil {
			return nil, err
		}

		out = append(out, flattened...)
	}
	return out, nil
}

func validateImagePlacement(layers []Layer) error {
	for i, l := range layers {
		if l.Type == TypeImage && i != 0 {
			return fmt.Errorf("Image layer must be at index 0, found at index %d", i)
		}
	}

	count := 0
	for _, l := range layers {
		if l.Type == TypeImage {
			count++
		}
	}
	if count > 1 {
		return fmt.Errorf("at most one Image layer is allowed, found %d", count)
	}
	return nil
}
