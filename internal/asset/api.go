package asset

import (
	"context"
	"fmt"

	"github.com/user/assetlink/internal/inputs"
	"github.com/user/assetlink/internal/outputs"
	"github.com/user/assetlink/internal/params"
	"github.com/user/assetlink/internal/types"
	"github.com/user/assetlink/internal/workgraph"
)

// Parameter writes apply at once while the instance is not cooking. During a
// cook they are queued and committed at the start of the next cook.

func (i *Instance) SetBoolParameter(name string, v bool) error {
	if err := i.alive(); err != nil {
		return err
	}
	return i.params.SetBool(name, v)
}

func (i *Instance) SetIntParameter(name string, v int) error {
	if err := i.alive(); err != nil {
		return err
	}
	return i.params.SetInt(name, v)
}

func (i *Instance) SetFloatParameter(name string, v float64) error {
	if err := i.alive(); err != nil {
		return err
	}
	return i.params.SetFloat(name, v)
}

func (i *Instance) SetStringParameter(name, v string) error {
	if err := i.alive(); err != nil {
		return err
	}
	return i.params.SetString(name, v)
}

// SetEnumParameter selects an enum entry by token.
func (i *Instance) SetEnumParameter(name, token string) error {
	if err := i.alive(); err != nil {
		return err
	}
	return i.params.SetEnum(name, token)
}

// SetEnumIndexParameter selects an enum entry by position.
func (i *Instance) SetEnumIndexParameter(name string, index int) error {
	if err := i.alive(); err != nil {
		return err
	}
	return i.params.SetEnumIndex(name, index)
}

// Parameter returns the committed value of name.
func (i *Instance) Parameter(name string) (any, error) {
	if err := i.alive(); err != nil {
		return nil, err
	}
	return i.params.Get(name)
}

func (i *Instance) Parameters() (map[string]any, error) {
	if err := i.alive(); err != nil {
		return nil, err
	}
	return i.params.Snapshot(), nil
}

func (i *Instance) ParameterDefinitions() []params.Definition {
	return i.params.Definitions()
}

// Output queries read the current snapshot and never wait for a cook.

func (i *Instance) OutputCount() (int, error) {
	if err := i.alive(); err != nil {
		return 0, err
	}
	return i.outputs.Count(), nil
}

func (i *Instance) Outputs() ([]outputs.Output, error) {
	if err := i.alive(); err != nil {
		return nil, err
	}
	return i.outputs.Snapshot(), nil
}

func (i *Instance) OutputIdentifiersAt(index int) ([]outputs.Identifier, error) {
	if err := i.alive(); err != nil {
		return nil, err
	}
	return i.outputs.IdentifiersAt(index)
}

func (i *Instance) OutputTypeAt(index int) (outputs.Type, error) {
	if err := i.alive(); err != nil {
		return outputs.Invalid, err
	}
	return i.outputs.TypeAt(index)
}

func (i *Instance) OutputObjectAt(index int, id outputs.Identifier) (outputs.Object, error) {
	if err := i.alive(); err != nil {
		return outputs.Object{}, err
	}
	return i.outputs.ObjectAt(index, id)
}

func (i *Instance) OutputComponentAt(index int, id outputs.Identifier) (string, error) {
	if err := i.alive(); err != nil {
		return "", err
	}
	return i.outputs.ComponentAt(index, id)
}

func (i *Instance) IsOutputProxyAt(index int, id outputs.Identifier) (bool, error) {
	if err := i.alive(); err != nil {
		return false, err
	}
	return i.outputs.IsProxyAt(index, id)
}

// BakeOutputObjectAt bakes one object to its resolved bake path. Baking a
// proxy object while a cook is in flight fails with ErrCookInProgress, since
// the proxy is about to be replaced.
func (i *Instance) BakeOutputObjectAt(ctx context.Context, index int, id outputs.Identifier) (outputs.BakeResult, error) {
	if err := i.alive(); err != nil {
		return outputs.BakeResult{Index: index, Identifier: id, Err: err}, err
	}
	proxy, err := i.outputs.IsProxyAt(index, id)
	if err != nil {
		return outputs.BakeResult{Index: index, Identifier: id, Err: err}, err
	}
	if proxy && i.State() == Cooking {
		err := fmt.Errorf("%w: output %d object %s", types.ErrCookInProgress, index, id)
		return outputs.BakeResult{Index: index, Identifier: id, Err: err}, err
	}
	return i.outputs.BakeObjectAt(ctx, index, id, objectBaker{i})
}

// BakeAllOutputs bakes every object independently. A failure never stops
// the remaining bakes.
func (i *Instance) BakeAllOutputs(ctx context.Context) ([]outputs.BakeResult, error) {
	if err := i.alive(); err != nil {
		return nil, err
	}
	var results []outputs.BakeResult
	for _, o := range i.outputs.Snapshot() {
		for _, obj := range o.Objects {
			res, _ := i.BakeOutputObjectAt(ctx, o.Index, obj.Identifier)
			results = append(results, res)
		}
	}
	return results, nil
}

// CreateEmptyInput returns a detached input of kind. Nothing is bound until
// it is passed to SetInputAtIndex or SetInputParameter.
func (i *Instance) CreateEmptyInput(kind inputs.Kind) (*inputs.Input, error) {
	if err := i.alive(); err != nil {
		return nil, err
	}
	return inputs.NewEmpty(kind), nil
}

func (i *Instance) checkInput(in *inputs.Input) error {
	if in == nil {
		return nil
	}
	if w := in.World(); w != nil && (w.BoundSelector || w.BoundSelectorAutoUpdate) && !i.caps.WorldInputBoundSelector {
		return fmt.Errorf("%w: engine does not support world input bound selectors", types.ErrInvalidState)
	}
	return nil
}

func (i *Instance) SetInputAtIndex(idx int, in *inputs.Input) error {
	if err := i.alive(); err != nil {
		return err
	}
	if err := i.checkInput(in); err != nil {
		return err
	}
	return i.inputs.SetAtIndex(idx, in)
}

func (i *Instance) SetInputParameter(name string, in *inputs.Input) error {
	if err := i.alive(); err != nil {
		return err
	}
	if err := i.checkInput(in); err != nil {
		return err
	}
	return i.inputs.SetParameter(name, in)
}

func (i *Instance) InputsAtIndices() (map[int]*inputs.Input, error) {
	if err := i.alive(); err != nil {
		return nil, err
	}
	return i.inputs.AtIndices(), nil
}

func (i *Instance) InputParameters() (map[string]*inputs.Input, error) {
	if err := i.alive(); err != nil {
		return nil, err
	}
	return i.inputs.Parameters(), nil
}

func (i *Instance) workGraph() (*workgraph.Scheduler, error) {
	if err := i.alive(); err != nil {
		return nil, err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.graph == nil {
		return nil, fmt.Errorf("%w: instance %s has no work networks", types.ErrScheduling, i.id)
	}
	return i.graph, nil
}

// WorkNetworkPaths lists the work networks found by the last cook. It is
// empty before the first cook.
func (i *Instance) WorkNetworkPaths() ([]string, error) {
	if err := i.alive(); err != nil {
		return nil, err
	}
	g, err := i.workGraph()
	if err != nil {
		return nil, nil
	}
	return g.NetworkPaths(), nil
}

func (i *Instance) WorkNodePaths(network string) ([]string, error) {
	g, err := i.workGraph()
	if err != nil {
		return nil, err
	}
	return g.NodePaths(network)
}

func (i *Instance) WorkItems(network, node string) ([]workgraph.Item, error) {
	g, err := i.workGraph()
	if err != nil {
		return nil, err
	}
	return g.Items(network, node)
}

func (i *Instance) WorkItemTally(network string) (workgraph.Tally, error) {
	g, err := i.workGraph()
	if err != nil {
		return workgraph.Tally{}, err
	}
	return g.Tally(network)
}

// SetAutoBakeEnabled applies to items that finish cooking from now on.
func (i *Instance) SetAutoBakeEnabled(on bool) error {
	if err := i.alive(); err != nil {
		return err
	}
	i.mu.Lock()
	i.autoBake = on
	g := i.graph
	i.mu.Unlock()
	if g != nil {
		g.SetAutoBake(on)
	}
	return nil
}

func (i *Instance) AutoBakeEnabled() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.autoBake
}

// CookNode schedules node and its uncooked upstream. The aggregate outcome
// arrives as one PostBake event per returned wave.
func (i *Instance) CookNode(network, node string) (types.WaveID, error) {
	g, err := i.workGraph()
	if err != nil {
		return "", err
	}
	return g.CookNode(network, node)
}
