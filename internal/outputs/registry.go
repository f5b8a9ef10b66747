package outputs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/user/assetlink/internal/types"
)

// Baker materializes one object. It returns the reference of the baked
// artifact; the registry swaps it in on success.
type Baker interface {
	BakeObject(ctx context.Context, index int, typ Type, obj Object) (ArtifactRef, error)
}

// BakeResult is the independent outcome of baking one object.
type BakeResult struct {
	Index      int
	Identifier Identifier
	Target     string
	Err        error
}

// Registry holds the current snapshot of outputs keyed by output index.
type Registry struct {
	mu      sync.RWMutex
	outputs map[int]Output
	// gens stamps each output with the sequence number of the Merge that
	// last replaced it so a bake that raced a new cook does not write into a
	// replaced output. Other indices can change freely meanwhile.
	gens map[int]uint64
	seq  uint64
}

func NewRegistry() *Registry {
	return &Registry{outputs: make(map[int]Output), gens: make(map[int]uint64)}
}

// Merge replaces outputs index by index. Indices absent from outs keep their
// previous contents. Identifiers must be unique within each output; on
// violation nothing is merged.
func (r *Registry) Merge(outs []Output) error {
	for _, o := range outs {
		seen := make(map[Identifier]bool, len(o.Objects))
		for _, obj := range o.Objects {
			if seen[obj.Identifier] {
				return fmt.Errorf("output %d: duplicate identifier %s", o.Index, obj.Identifier)
			}
			seen[obj.Identifier] = true
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	for _, o := range outs {
		r.outputs[o.Index] = o.clone()
		r.gens[o.Index] = r.seq
	}
	return nil
}

// Count returns the number of outputs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outputs)
}

// Indices returns the output indices in ascending order.
func (r *Registry) Indices() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idxs := make([]int, 0, len(r.outputs))
	for idx := range r.outputs {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	return idxs
}

// At returns a copy of the output at index i.
func (r *Registry) At(i int) (Output, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.outputs[i]
	if !ok {
		return Output{}, fmt.Errorf("%w: output %d", types.ErrOutputNotFound, i)
	}
	return o.clone(), nil
}

// Snapshot returns copies of every output in index order.
func (r *Registry) Snapshot() []Output {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Output, 0, len(r.outputs))
	for _, o := range r.outputs {
		out = append(out, o.clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Index < out[b].Index })
	return out
}

func (r *Registry) IdentifiersAt(i int) ([]Identifier, error) {
	o, err := r.At(i)
	if err != nil {
		return nil, err
	}
	ids := make([]Identifier, 0, len(o.Objects))
	for _, obj := range o.Objects {
		ids = append(ids, obj.Identifier)
	}
	return ids, nil
}

func (r *Registry) TypeAt(i int) (Type, error) {
	o, err := r.At(i)
	if err != nil {
		return Invalid, err
	}
	return o.Type, nil
}

func (r *Registry) ObjectAt(i int, id Identifier) (Object, error) {
	o, err := r.At(i)
	if err != nil {
		return Object{}, err
	}
	pos := o.find(id)
	if pos < 0 {
		return Object{}, fmt.Errorf("%w: output %d has no object %s", types.ErrOutputNotFound, i, id)
	}
	return o.Objects[pos], nil
}

func (r *Registry) ComponentAt(i int, id Identifier) (string, error) {
	obj, err := r.ObjectAt(i, id)
	if err != nil {
		return "", err
	}
	return obj.Component, nil
}

func (r *Registry) IsProxyAt(i int, id Identifier) (bool, error) {
	obj, err := r.ObjectAt(i, id)
	if err != nil {
		return false, err
	}
	return obj.Proxy, nil
}

// BakeObjectAt bakes a single object. A missing object fails with
// ErrOutputNotFound and the registry is unchanged. A failed bake leaves the
// object as it was and wraps ErrBake. Siblings are never touched.
func (r *Registry) BakeObjectAt(ctx context.Context, i int, id Identifier, baker Baker) (BakeResult, error) {
	res := BakeResult{Index: i, Identifier: id}

	r.mu.RLock()
	o, ok := r.outputs[i]
	pos := -1
	if ok {
		pos = o.find(id)
	}
	var obj Object
	if pos >= 0 {
		obj = o.Objects[pos]
	}
	gen := r.gens[i]
	r.mu.RUnlock()

	if pos < 0 {
		res.Err = fmt.Errorf("%w: output %d has no object %s", types.ErrOutputNotFound, i, id)
		return res, res.Err
	}

	ref, err := baker.BakeObject(ctx, i, o.Type, obj)
	if err != nil {
		res.Err = fmt.Errorf("%w: output %d object %s: %v", types.ErrBake, i, id, err)
		slog.Warn("bake failed", "output", i, "identifier", id.String(), "error", err)
		return res, res.Err
	}
	res.Target = ref.Path

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gens[i] != gen {
		res.Err = fmt.Errorf("%w: output %d was replaced during bake", types.ErrBake, i)
		return res, res.Err
	}
	cur := r.outputs[i]
	cur.Objects[pos].Ref = ref
	cur.Objects[pos].Proxy = false
	r.outputs[i] = cur
	return res, nil
}

// BakeAll bakes every object of every output independently, in index then
// engine order.
func (r *Registry) BakeAll(ctx context.Context, baker Baker) []BakeResult {
	var results []BakeResult
	for _, o := range r.Snapshot() {
		for _, obj := range o.Objects {
			res, _ := r.BakeObjectAt(ctx, o.Index, obj.Identifier, baker)
			results = append(results, res)
		}
	}
	return results
}

// Clear drops every output.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs = make(map[int]Output)
	r.gens = make(map[int]uint64)
}
