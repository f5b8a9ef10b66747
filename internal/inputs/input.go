// Package inputs holds the external objects bound to an asset instance as
// generation inputs, either at a node input index or by parameter name.
package inputs

import (
	"fmt"

	"github.com/user/assetlink/internal/engine"
	"github.com/user/assetlink/internal/types"
)

// Kind tags the variant of an Input.
type Kind string

const (
	Node      Kind = "node"
	Parameter Kind = "parameter"
	World     Kind = "world"
)

// ParseKind maps a user supplied name onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Node, Parameter, World:
		return Kind(s), nil
	}
	return "", fmt.Errorf("inputs: unknown kind %q", s)
}

// Object is one bound object with its transform offset.
type Object struct {
	Ref    string
	Offset engine.Transform
}

// WorldOptions only exist on World inputs.
type WorldOptions struct {
	PackBeforeMerge         bool
	ExportLODs              bool
	ExportSockets           bool
	ExportColliders         bool
	BoundSelector           bool
	BoundSelectorAutoUpdate bool
}

// Input is a detached binding. The registry never shares an Input with the
// caller: every set and every read goes through Clone.
type Input struct {
	kind               Kind
	objects            []Object
	KeepWorldTransform bool
	ImportAsReference  bool
	world              *WorldOptions
}

// NewEmpty constructs an Input of the requested variant with no objects.
func NewEmpty(kind Kind) *Input {
	in := &Input{kind: kind}
	if kind == World {
		in.world = &WorldOptions{}
	}
	return in
}

func (in *Input) Kind() Kind { return in.kind }

// Objects returns a copy of the bound objects in order.
func (in *Input) Objects() []Object {
	out := make([]Object, len(in.objects))
	copy(out, in.objects)
	return out
}

// SetObjects replaces the bound objects. Each ref gets an identity offset.
func (in *Input) SetObjects(refs ...string) {
	in.objects = make([]Object, 0, len(refs))
	for _, ref := range refs {
		in.objects = append(in.objects, Object{Ref: ref, Offset: engine.Identity()})
	}
}

// AddObject appends one object with an explicit offset.
func (in *Input) AddObject(ref string, offset engine.Transform) {
	in.objects = append(in.objects, Object{Ref: ref, Offset: offset})
}

// SetTransformOffset changes the offset of the object at position i.
func (in *Input) SetTransformOffset(i int, offset engine.Transform) error {
	if i < 0 || i >= len(in.objects) {
		return fmt.Errorf("inputs: no object at position %d", i)
	}
	in.objects[i].Offset = offset
	return nil
}

// World returns the world-only options, or nil for other variants.
func (in *Input) World() *WorldOptions {
	if in.world == nil {
		return nil
	}
	w := *in.world
	return &w
}

// SetWorld sets the world-only options. Only World inputs carry them.
func (in *Input) SetWorld(opts WorldOptions) error {
	if in.kind != World {
		return fmt.Errorf("%w: %s input has no world options", types.ErrParameterType, in.kind)
	}
	in.world = &opts
	return nil
}

// Clone returns a deep copy.
func (in *Input) Clone() *Input {
	if in == nil {
		return nil
	}
	out := *in
	out.objects = in.Objects()
	out.world = in.World()
	return &out
}

// Binding converts the input into its engine wire form.
func (in *Input) Binding(index int, parameter string) engine.InputBinding {
	b := engine.InputBinding{
		Index:              index,
		Parameter:          parameter,
		Kind:               string(in.kind),
		KeepWorldTransform: in.KeepWorldTransform,
		ImportAsReference:  in.ImportAsReference,
	}
	for _, obj := range in.objects {
		b.Objects = append(b.Objects, engine.InputObject{Ref: obj.Ref, Offset: obj.Offset})
	}
	if w := in.world; w != nil {
		b.World = &engine.WorldOptions{
			PackBeforeMerge:         w.PackBeforeMerge,
			ExportLODs:              w.ExportLODs,
			ExportSockets:           w.ExportSockets,
			ExportColliders:         w.ExportColliders,
			BoundSelector:           w.BoundSelector,
			BoundSelectorAutoUpdate: w.BoundSelectorAutoUpdate,
		}
	}
	return b
}
