package asset

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/assetlink/internal/engine"
	"github.com/user/assetlink/internal/events"
	"github.com/user/assetlink/internal/outputs"
	"github.com/user/assetlink/internal/types"
	"github.com/user/assetlink/internal/workgraph"
)

// Everything in this file runs on the control lane unless it says otherwise.

func (i *Instance) preInstantiate() {
	i.setState(PreInstantiation)
	i.dispatch(events.PreInstantiation, true, nil, nil)
	if i.deleted.Load() {
		return
	}
	i.instantiate()
}

func (i *Instance) instantiate() {
	i.setState(Instantiating)
	gen := i.nextGen()
	req := engine.InstantiateRequest{
		Asset:      i.def.Name,
		Label:      i.label,
		Transform:  i.transform,
		Parameters: i.params.Snapshot(),
		Inputs:     i.inputs.Commit(),
	}
	go func() {
		node, err := i.eng.Instantiate(i.ctx, req)

		// Adopt the node under the lock Delete takes, so a node created
		// after deletion is released here instead of leaking.
		i.mu.Lock()
		stale := i.deleted.Load() || gen != i.gen
		if !stale && err == nil {
			i.node = node
		}
		i.mu.Unlock()
		if stale {
			if err == nil {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if derr := i.eng.Delete(ctx, node); derr != nil {
					slog.Warn("release stale node failed", "instance_id", i.id, "node", node, "error", derr)
				}
			}
			return
		}
		i.post(func() { i.instantiated(gen, node, err) })
	}()
}

func (i *Instance) instantiated(gen int, node engine.NodeHandle, err error) {
	if !i.current(gen) {
		return
	}
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", types.ErrInstantiation, i.def.Name, err)
		i.mu.Lock()
		i.cookQueued = false
		i.mu.Unlock()
		i.fail(err)
		i.dispatch(events.PostInstantiation, false, err, nil)
		return
	}
	slog.Info("instance instantiated", "instance_id", i.id, "asset", i.def.Name, "node", node)
	i.dispatch(events.PostInstantiation, true, nil, string(node))
	if i.deleted.Load() {
		return
	}

	i.mu.Lock()
	want := i.autoCook || i.cookQueued
	i.cookQueued = false
	i.mu.Unlock()
	if want {
		i.startCook()
		return
	}
	i.setState(Idle)
}

// drainCookQueue starts the queued cook if the instance is settled.
func (i *Instance) drainCookQueue() {
	i.mu.Lock()
	if !i.cookQueued || (i.state != Idle && i.state != Failed) {
		i.mu.Unlock()
		return
	}
	node := i.node
	if node == "" {
		// Instantiation failed earlier; the cook request stays queued and
		// runs once a retried instantiation succeeds.
		i.mu.Unlock()
		i.instantiate()
		return
	}
	i.cookQueued = false
	i.mu.Unlock()
	i.startCook()
}

func (i *Instance) startCook() {
	gen := i.nextGen()
	i.mu.Lock()
	node := i.node
	i.mu.Unlock()

	// Staging starts before the state flips so a writer that observes
	// Cooking always lands in the queue.
	req := engine.CookRequest{
		Node:       node,
		Asset:      i.def.Name,
		Parameters: i.params.BeginCook(),
		Inputs:     i.inputs.Begin(),
		Generation: gen,
	}
	i.setState(Cooking)
	slog.Info("cook started", "instance_id", i.id, "asset", i.def.Name, "generation", gen)
	if !i.track() {
		return
	}
	go i.cook(gen, req)
}

// cook runs on a worker goroutine.
func (i *Instance) cook(gen int, req engine.CookRequest) {
	defer i.workers.Done()
	if i.limiter != nil {
		if err := i.limiter.Acquire(i.ctx, 1); err != nil {
			return
		}
		defer i.limiter.Release(1)
	}
	res, err := i.eng.Cook(i.ctx, req)
	var outs []outputs.Output
	if err == nil {
		outs, err = i.storeOutputs(i.ctx, res)
	}
	if i.deleted.Load() {
		return
	}
	i.post(func() { i.cooked(gen, res, outs, err) })
}

// storeOutputs moves every cooked payload into the artifact store and
// returns the registry form of the outputs.
func (i *Instance) storeOutputs(ctx context.Context, res *engine.CookResult) ([]outputs.Output, error) {
	outs := make([]outputs.Output, 0, len(res.Outputs))
	for _, o := range res.Outputs {
		out := outputs.Output{Index: o.Index, Type: outputs.ParseType(o.Type)}
		for _, obj := range o.Objects {
			id := outputs.Identifier{ObjectID: obj.ObjectID, GeoID: obj.GeoID, PartID: obj.PartID, Split: obj.Split}
			if err := i.writable(ctx); err != nil {
				return nil, err
			}
			art, err := i.artifacts.Put(ctx, types.ArtifactMeta{
				InstanceID:  i.id,
				Asset:       i.def.Name,
				OutputIndex: o.Index,
				Identifier:  id.String(),
				CreatedAt:   time.Now(),
				Size:        len(obj.Payload),
			}, obj.Payload)
			if err != nil {
				return nil, fmt.Errorf("store output %d object %s: %w", o.Index, id, err)
			}
			out.Objects = append(out.Objects, outputs.Object{
				Identifier: id,
				Name:       obj.Name,
				Ref:        outputs.ArtifactRef{Artifact: art},
				Component:  obj.Component,
				Proxy:      obj.Proxy && i.caps.ProxyOutputs,
			})
		}
		outs = append(outs, out)
	}
	return outs, nil
}

// writable fails once the instance is deleted or ctx ends.
func (i *Instance) writable(ctx context.Context) error {
	if i.deleted.Load() {
		return fmt.Errorf("%w: instance %s is deleted", types.ErrInvalidState, i.id)
	}
	return ctx.Err()
}

func (i *Instance) cooked(gen int, res *engine.CookResult, outs []outputs.Output, err error) {
	if !i.current(gen) {
		return
	}
	i.params.EndCook()
	i.inputs.End()

	if err == nil {
		if merr := i.outputs.Merge(outs); merr != nil {
			err = merr
		}
	}
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", types.ErrCook, i.def.Name, err)
		i.fail(err)
		i.dispatch(events.PostCook, false, err, nil)
		i.drainCookQueue()
		return
	}

	i.setState(PostProcessing)
	slog.Info("cook finished", "instance_id", i.id, "asset", i.def.Name, "generation", gen, "outputs", len(outs))
	i.dispatch(events.PostCook, true, nil, CookSummary{Outputs: len(outs), Networks: len(res.Networks), Generation: gen})
	if i.deleted.Load() {
		return
	}
	i.loadNetworks(res.Networks)
	i.dispatch(events.PostProcessing, true, nil, nil)
	if i.deleted.Load() {
		return
	}
	i.mu.Lock()
	i.lastErr = nil
	i.mu.Unlock()
	i.setState(Idle)
	i.drainCookQueue()
}

func (i *Instance) loadNetworks(nets []engine.Network) {
	if !i.caps.WorkGraphs || len(nets) == 0 {
		return
	}
	defs := make([]workgraph.NetworkDef, 0, len(nets))
	for _, n := range nets {
		def := workgraph.NetworkDef{Path: n.Path}
		for _, nd := range n.Nodes {
			def.Nodes = append(def.Nodes, workgraph.NodeDef{Name: nd.Name, DependsOn: nd.DependsOn, Items: nd.Items})
		}
		defs = append(defs, def)
	}

	i.mu.Lock()
	g := i.graph
	if g == nil {
		g = workgraph.NewScheduler(itemCooker{i},
			workgraph.WithPost(i.post),
			workgraph.WithBaker(itemBaker{i}),
			workgraph.WithMaxParallel(i.maxItems),
			workgraph.WithAutoBake(i.autoBake),
			workgraph.OnWaveDone(i.waveDone),
			workgraph.OnItemDone(i.itemDone),
		)
		i.graph = g
	}
	i.mu.Unlock()

	if err := g.Load(defs); err != nil {
		slog.Warn("work networks not loaded", "instance_id", i.id, "error", err)
	}
}

func (i *Instance) waveDone(rep workgraph.WaveReport) {
	var err error
	switch {
	case rep.Success:
	case rep.Failed > 0:
		err = fmt.Errorf("%w: %d of %d work items failed under %s", types.ErrCook, rep.Failed, len(rep.Items), rep.Target)
	default:
		err = fmt.Errorf("%w: %d of %d work items not baked under %s", types.ErrBake, len(rep.Items)-rep.Baked, len(rep.Items), rep.Target)
	}
	i.dispatch(events.PostBake, rep.Success, err, rep)
}

func (i *Instance) itemDone(it workgraph.Item) {
	i.dispatch(events.PostWorkItemCook, it.State == workgraph.Cooked, it.Err, it)
}
