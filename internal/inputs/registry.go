package inputs

import (
	"fmt"
	"sort"
	"sync"

	"github.com/user/assetlink/internal/engine"
	"github.com/user/assetlink/internal/types"
)

// binding is a staged change. A nil input means removal.
type binding struct {
	index int
	param string
	input *Input
}

// Registry maps node input indices and input parameter names to committed
// bindings. Changes made while the owner cooks are staged until Commit.
type Registry struct {
	mu         sync.Mutex
	nodeInputs int
	params     map[string]bool
	atIndex    map[int]*Input
	byParam    map[string]*Input
	staged     []binding
	cooking    bool
}

// NewRegistry accepts nodeInputs index slots and the declared input
// parameter names. A negative nodeInputs disables the index bound check.
func NewRegistry(nodeInputs int, parameters []string) *Registry {
	r := &Registry{
		nodeInputs: nodeInputs,
		params:     make(map[string]bool, len(parameters)),
		atIndex:    make(map[int]*Input),
		byParam:    make(map[string]*Input),
	}
	for _, p := range parameters {
		r.params[p] = true
	}
	return r
}

// SetAtIndex deep-copies in into slot idx, replacing any prior binding.
func (r *Registry) SetAtIndex(idx int, in *Input) error {
	if in == nil {
		return fmt.Errorf("inputs: nil input")
	}
	if idx < 0 || (r.nodeInputs >= 0 && idx >= r.nodeInputs) {
		return fmt.Errorf("%w: input index %d out of range", types.ErrParameterNotFound, idx)
	}
	r.apply(binding{index: idx, input: in.Clone()})
	return nil
}

// SetParameter deep-copies in onto the named input parameter.
func (r *Registry) SetParameter(name string, in *Input) error {
	if in == nil {
		return fmt.Errorf("inputs: nil input")
	}
	if !r.params[name] {
		return fmt.Errorf("%w: input parameter %q", types.ErrParameterNotFound, name)
	}
	r.apply(binding{index: -1, param: name, input: in.Clone()})
	return nil
}

// Remove drops the binding at idx.
func (r *Registry) Remove(idx int) {
	r.apply(binding{index: idx})
}

func (r *Registry) apply(b binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cooking {
		r.staged = append(r.staged, b)
		return
	}
	r.commitLocked(b)
	r.dropStagedLocked(b)
}

// dropStagedLocked forgets staged changes to the same slot as b so an idle
// write is not replayed over by an older staged one.
func (r *Registry) dropStagedLocked(b binding) {
	kept := r.staged[:0]
	for _, s := range r.staged {
		if s.param == b.param && (b.param != "" || s.index == b.index) {
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		kept = nil
	}
	r.staged = kept
}

func (r *Registry) commitLocked(b binding) {
	switch {
	case b.param != "" && b.input == nil:
		delete(r.byParam, b.param)
	case b.param != "":
		r.byParam[b.param] = b.input
	case b.input == nil:
		delete(r.atIndex, b.index)
	default:
		r.atIndex[b.index] = b.input
	}
}

// AtIndices returns deep copies of the committed index bindings.
func (r *Registry) AtIndices() map[int]*Input {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]*Input, len(r.atIndex))
	for idx, in := range r.atIndex {
		out[idx] = in.Clone()
	}
	return out
}

// Parameters returns deep copies of the committed parameter bindings.
func (r *Registry) Parameters() map[string]*Input {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*Input, len(r.byParam))
	for name, in := range r.byParam {
		out[name] = in.Clone()
	}
	return out
}

// Begin applies staged bindings, enters staging mode and returns the wire
// form of every committed binding, index bindings first in index order.
func (r *Registry) Begin() []engine.InputBinding {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.staged {
		r.commitLocked(b)
	}
	r.staged = nil
	r.cooking = true
	return r.bindingsLocked()
}

// Commit applies staged bindings and returns the committed wire form without
// changing the staging mode.
func (r *Registry) Commit() []engine.InputBinding {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.staged {
		r.commitLocked(b)
	}
	r.staged = nil
	return r.bindingsLocked()
}

// End leaves staging mode. Staged bindings wait for the next Begin unless
// an immediate change to the same slot replaces them first.
func (r *Registry) End() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooking = false
}

// Staged reports how many changes wait for the next cook.
func (r *Registry) Staged() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.staged)
}

// Clear drops every binding, committed or staged.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.atIndex = make(map[int]*Input)
	r.byParam = make(map[string]*Input)
	r.staged = nil
}

func (r *Registry) bindingsLocked() []engine.InputBinding {
	idxs := make([]int, 0, len(r.atIndex))
	for idx := range r.atIndex {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	names := make([]string, 0, len(r.byParam))
	for name := range r.byParam {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]engine.InputBinding, 0, len(idxs)+len(names))
	for _, idx := range idxs {
		out = append(out, r.atIndex[idx].Binding(idx, ""))
	}
	for _, name := range names {
		out = append(out, r.byParam[name].Binding(-1, name))
	}
	return out
}
