// Package sim is an in-process generation engine driven by library
// definitions. Payloads are derived from parameter values so repeated cooks
// with the same parameters produce identical bytes.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/user/assetlink/internal/engine"
	"github.com/user/assetlink/internal/library"
)

const Version = "sim-1"

// Faults injects failures. Items are keyed "network/node/index".
type Faults struct {
	Connect     error
	Instantiate error
	Cook        error
	Items       map[string]bool
}

// Engine implements engine.Engine.
type Engine struct {
	lib     *library.Library
	latency time.Duration

	cookHook func(engine.CookRequest)
	itemHook func(engine.WorkItemRequest)

	mu     sync.Mutex
	faults Faults
	nodes  map[engine.NodeHandle]string

	cooks atomic.Int64
	items atomic.Int64
}

type Option func(*Engine)

// WithLatency delays every engine call.
func WithLatency(d time.Duration) Option {
	return func(e *Engine) { e.latency = d }
}

func WithFaults(f Faults) Option {
	return func(e *Engine) { e.faults = f }
}

// WithCookHook runs fn at the start of every cook. A blocking hook holds the
// cook in flight.
func WithCookHook(fn func(engine.CookRequest)) Option {
	return func(e *Engine) { e.cookHook = fn }
}

// WithItemHook runs fn at the start of every work item cook.
func WithItemHook(fn func(engine.WorkItemRequest)) Option {
	return func(e *Engine) { e.itemHook = fn }
}

func New(lib *library.Library, opts ...Option) *Engine {
	e := &Engine{lib: lib, nodes: make(map[engine.NodeHandle]string)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetFaults replaces the injected faults.
func (e *Engine) SetFaults(f Faults) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faults = f
}

func (e *Engine) getFaults() Faults {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.faults
}

// Live returns how many instantiated nodes have not been deleted.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.nodes)
}

// Cooks returns the number of cook calls that started.
func (e *Engine) Cooks() int64 { return e.cooks.Load() }

// ItemCooks returns the number of work item cook calls that started.
func (e *Engine) ItemCooks() int64 { return e.items.Load() }

func (e *Engine) wait(ctx context.Context) error {
	if e.latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(e.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) Connect(ctx context.Context) (engine.Capabilities, error) {
	if err := e.wait(ctx); err != nil {
		return engine.Capabilities{}, err
	}
	if err := e.getFaults().Connect; err != nil {
		return engine.Capabilities{}, err
	}
	return engine.Capabilities{
		Version:                 Version,
		WorkGraphs:              true,
		WorldInputBoundSelector: true,
		ProxyOutputs:            true,
	}, nil
}

func (e *Engine) Instantiate(ctx context.Context, req engine.InstantiateRequest) (engine.NodeHandle, error) {
	if err := e.wait(ctx); err != nil {
		return "", err
	}
	if err := e.getFaults().Instantiate; err != nil {
		return "", err
	}
	if _, err := e.lib.Get(req.Asset); err != nil {
		return "", err
	}
	node := engine.NodeHandle("/obj/" + req.Asset + "_" + uuid.New().String()[:8])
	e.mu.Lock()
	e.nodes[node] = req.Asset
	e.mu.Unlock()
	slog.Debug("sim instantiated", "asset", req.Asset, "node", node)
	return node, nil
}

func (e *Engine) assetFor(node engine.NodeHandle) (*library.Asset, error) {
	e.mu.Lock()
	name, ok := e.nodes[node]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown node %s", node)
	}
	return e.lib.Get(name)
}

func (e *Engine) Cook(ctx context.Context, req engine.CookRequest) (*engine.CookResult, error) {
	e.cooks.Add(1)
	if e.cookHook != nil {
		e.cookHook(req)
	}
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	if err := e.getFaults().Cook; err != nil {
		return nil, err
	}
	a, err := e.assetFor(req.Node)
	if err != nil {
		return nil, err
	}

	res := &engine.CookResult{}
	for idx, out := range a.Outputs {
		if out.When != "" {
			if on, _ := req.Parameters[out.When].(bool); !on {
				continue
			}
		}
		copies := 1
		if out.Count != "" {
			if n, ok := req.Parameters[out.Count].(int); ok && n > 0 {
				copies = n
			}
		}
		o := engine.Output{Index: idx, Type: out.Type}
		for c := 0; c < copies; c++ {
			for _, obj := range out.Objects {
				name := obj.Name
				if copies > 1 {
					name = fmt.Sprintf("%s_%d", obj.Name, c)
				}
				o.Objects = append(o.Objects, engine.OutputObject{
					ObjectID:  obj.Object,
					GeoID:     obj.Geo,
					PartID:    obj.Part*copies + c,
					Split:     obj.Split,
					Name:      name,
					Component: obj.Component,
					Proxy:     out.IsProxy(),
					Payload:   payload(a.Name, idx, name, req.Parameters, req.Inputs),
				})
			}
		}
		res.Outputs = append(res.Outputs, o)
	}
	for _, n := range a.Networks {
		net := engine.Network{Path: n.Path}
		for _, node := range n.Nodes {
			net.Nodes = append(net.Nodes, engine.Node{
				Name:      node.Name,
				DependsOn: append([]string(nil), node.DependsOn...),
				Items:     node.Items,
			})
		}
		res.Networks = append(res.Networks, net)
	}
	return res, nil
}

func (e *Engine) CookWorkItem(ctx context.Context, req engine.WorkItemRequest) (*engine.WorkItemResult, error) {
	e.items.Add(1)
	if e.itemHook != nil {
		e.itemHook(req)
	}
	if err := e.wait(ctx); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s/%s/%d", req.Network, req.WorkNode, req.Index)
	if e.getFaults().Items[key] {
		return nil, fmt.Errorf("work item %s failed", key)
	}
	a, err := e.assetFor(req.Node)
	if err != nil {
		return nil, err
	}
	for _, n := range a.Networks {
		if n.Path != req.Network {
			continue
		}
		for _, node := range n.Nodes {
			if node.Name != req.WorkNode {
				continue
			}
			for _, bad := range node.FailItems {
				if bad == req.Index {
					return nil, fmt.Errorf("work item %s failed", key)
				}
			}
		}
	}
	name := fmt.Sprintf("%s_%d", req.WorkNode, req.Index)
	return &engine.WorkItemResult{
		Name:    name,
		Payload: []byte(fmt.Sprintf("asset=%s item=%s\n", a.Name, key)),
	}, nil
}

func (e *Engine) Delete(ctx context.Context, node engine.NodeHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.nodes[node]; !ok {
		return fmt.Errorf("unknown node %s", node)
	}
	delete(e.nodes, node)
	return nil
}

func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nodes = make(map[engine.NodeHandle]string)
	return nil
}

// payload renders a stable byte representation of one generated object.
func payload(asset string, output int, object string, values map[string]any, inputs []engine.InputBinding) []byte {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	s := fmt.Sprintf("asset=%s output=%d object=%s\n", asset, output, object)
	for _, name := range names {
		s += fmt.Sprintf("%s=%v\n", name, values[name])
	}
	for _, in := range inputs {
		s += fmt.Sprintf("input[%d%s]=%d\n", in.Index, in.Parameter, len(in.Objects))
	}
	return []byte(s)
}

var _ engine.Engine = (*Engine)(nil)
