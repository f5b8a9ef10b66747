package workgraph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/user/assetlink/internal/types"
)

// Cooker computes one work item. It runs off the control lane.
type Cooker interface {
	CookItem(ctx context.Context, it Item) (Result, error)
}

// Result is what a cooked item produced.
type Result struct {
	Name     string
	Artifact types.ArtifactID
}

// Baker materializes one cooked item and returns the target path.
type Baker interface {
	BakeItem(ctx context.Context, it Item) (string, error)
}

// WaveReport is delivered once per cook request after every item of the
// wave is terminal and, with auto-bake on, baked.
type WaveReport struct {
	Wave    types.WaveID
	Network string
	Target  string
	Items   []Item
	Cooked  int
	Failed  int
	Baked   int
	// Success is true only if every item cooked and every triggered bake
	// succeeded.
	Success bool
}

type wave struct {
	id      types.WaveID
	network *network
	target  string
	nodes   []*node
	started map[*node]bool
	items   []*item
	pending int
	baking  int
	success bool
	done    bool
}

// Scheduler owns the work networks of one asset instance.
type Scheduler struct {
	cooker Cooker
	baker  Baker
	sem    *semaphore.Weighted
	post   func(func())

	onWave func(WaveReport)
	onItem func(Item)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	networks map[string]*network
	order    []string
	waves    map[types.WaveID]*wave
	autoBake bool
	canceled bool

	serial sync.Mutex
}

type Option func(*Scheduler)

// WithPost routes completions through fn, which must run them one at a time.
// The default serializes them on the completing goroutine.
func WithPost(fn func(func())) Option {
	return func(s *Scheduler) { s.post = fn }
}

func WithBaker(b Baker) Option {
	return func(s *Scheduler) { s.baker = b }
}

// WithMaxParallel bounds the number of items cooking at once.
func WithMaxParallel(n int64) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(n)
		}
	}
}

func WithAutoBake(on bool) Option {
	return func(s *Scheduler) { s.autoBake = on }
}

// OnWaveDone registers the aggregate completion callback.
func OnWaveDone(fn func(WaveReport)) Option {
	return func(s *Scheduler) { s.onWave = fn }
}

// OnItemDone registers a callback for every item reaching a terminal state.
func OnItemDone(fn func(Item)) Option {
	return func(s *Scheduler) { s.onItem = fn }
}

func NewScheduler(cooker Cooker, opts ...Option) *Scheduler {
	s := &Scheduler{
		cooker:   cooker,
		sem:      semaphore.NewWeighted(4),
		networks: make(map[string]*network),
		waves:    make(map[types.WaveID]*wave),
	}
	s.post = func(fn func()) {
		s.serial.Lock()
		defer s.serial.Unlock()
		fn()
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Load replaces the networks. It fails while a wave is in flight and leaves
// the previous networks in place on any validation error.
func (s *Scheduler) Load(defs []NetworkDef) error {
	built := make(map[string]*network, len(defs))
	order := make([]string, 0, len(defs))
	for _, def := range defs {
		net, err := buildNetwork(def)
		if err != nil {
			return err
		}
		if _, dup := built[def.Path]; dup {
			return fmt.Errorf("%w: duplicate network %q", types.ErrScheduling, def.Path)
		}
		built[def.Path] = net
		order = append(order, def.Path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		return fmt.Errorf("%w: scheduler canceled", types.ErrInvalidState)
	}
	if len(s.waves) > 0 {
		return fmt.Errorf("%w: cannot reload networks while %d waves are cooking", types.ErrScheduling, len(s.waves))
	}
	s.networks = built
	s.order = order
	return nil
}

func (s *Scheduler) SetAutoBake(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoBake = on
}

func (s *Scheduler) AutoBake() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoBake
}

// NetworkPaths lists networks in declaration order.
func (s *Scheduler) NetworkPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// NodePaths lists the node paths of a network in declaration order.
func (s *Scheduler) NodePaths(networkPath string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	net, ok := s.networks[networkPath]
	if !ok {
		return nil, fmt.Errorf("%w: unknown network %q", types.ErrScheduling, networkPath)
	}
	out := make([]string, 0, len(net.order))
	for _, name := range net.order {
		out = append(out, net.nodes[name].path)
	}
	return out, nil
}

// Items returns snapshots of a node's items.
func (s *Scheduler) Items(networkPath, nodeName string) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nd, err := s.lookup(networkPath, nodeName)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(nd.items))
	for _, it := range nd.items {
		out = append(out, it.Item)
	}
	return out, nil
}

func (s *Scheduler) lookup(networkPath, nodeName string) (*node, error) {
	net, ok := s.networks[networkPath]
	if !ok {
		return nil, fmt.Errorf("%w: unknown network %q", types.ErrScheduling, networkPath)
	}
	name := nodeName
	prefix := NodePath(networkPath, "")
	if len(name) > len(prefix) && name[:len(prefix)] == prefix {
		name = name[len(prefix):]
	}
	nd, ok := net.nodes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no node %q", types.ErrScheduling, networkPath, nodeName)
	}
	return nd, nil
}

// CookNode schedules nodeName and every upstream node that is not cooked.
// Items of a node enter Waiting only once all upstream items are Cooked.
// A request that overlaps a node still waiting or cooking for another wave
// fails with ErrScheduling; nothing is queued.
func (s *Scheduler) CookNode(networkPath, nodeName string) (types.WaveID, error) {
	s.mu.Lock()
	if s.canceled {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: scheduler canceled", types.ErrInvalidState)
	}
	target, err := s.lookup(networkPath, nodeName)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	net := s.networks[networkPath]
	nodes, err := net.closure(target.def.Name)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}
	for _, nd := range nodes {
		if nd.busy() {
			s.mu.Unlock()
			return "", fmt.Errorf("%w: %s is still cooking", types.ErrScheduling, nd.path)
		}
	}
	for _, nd := range nodes {
		for _, dep := range nd.def.DependsOn {
			if up := net.nodes[dep]; up.busy() {
				s.mu.Unlock()
				return "", fmt.Errorf("%w: upstream %s of %s is still cooking", types.ErrScheduling, up.path, nd.path)
			}
		}
	}

	w := &wave{
		id:      types.NewWaveID(),
		network: net,
		target:  target.path,
		nodes:   nodes,
		started: make(map[*node]bool, len(nodes)),
		success: true,
	}
	for _, nd := range nodes {
		for _, it := range nd.items {
			it.State = Uncooked
			it.Err = nil
			it.Baked = false
			it.Target = ""
			it.wave = w
			w.items = append(w.items, it)
		}
	}
	w.pending = len(w.items)
	s.waves[w.id] = w
	slog.Info("work wave scheduled", "wave", w.id, "network", networkPath, "target", target.path, "nodes", len(nodes), "items", len(w.items))

	dispatch := s.advanceLocked(w)
	finished := s.finishLocked(w)
	s.mu.Unlock()

	s.dispatch(dispatch)
	if finished != nil {
		// Nothing to cook. Report through post so the caller is not re-entered.
		go s.post(func() { s.notifyWave(*finished) })
	}
	return w.id, nil
}

// advanceLocked starts every node of w whose upstream is cooked and fails
// every node whose upstream failed. It returns the items to dispatch.
func (s *Scheduler) advanceLocked(w *wave) []*item {
	var out []*item
	for progress := true; progress; {
		progress = false
		for _, nd := range w.nodes {
			if w.started[nd] {
				continue
			}
			ready, blocked := true, false
			for _, dep := range nd.def.DependsOn {
				up := w.network.nodes[dep]
				if up.failed() {
					blocked = true
					break
				}
				if !up.cooked() {
					ready = false
				}
			}
			switch {
			case blocked:
				w.started[nd] = true
				for _, it := range nd.items {
					it.State = Failed
					it.Err = fmt.Errorf("%w: upstream of %s failed", types.ErrScheduling, nd.path)
					w.pending--
					w.success = false
				}
				progress = true
			case ready:
				w.started[nd] = true
				for _, it := range nd.items {
					it.State = Waiting
					out = append(out, it)
				}
				progress = true
			}
		}
	}
	return out
}

func (s *Scheduler) dispatch(items []*item) {
	for _, it := range items {
		go s.cook(it)
	}
}

func (s *Scheduler) cook(it *item) {
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	s.mu.Lock()
	if s.canceled {
		s.mu.Unlock()
		return
	}
	it.State = Cooking
	snap := it.Item
	s.mu.Unlock()

	res, err := s.cooker.CookItem(s.ctx, snap)
	s.post(func() { s.complete(it, res, err) })
}

func (s *Scheduler) complete(it *item, res Result, err error) {
	s.mu.Lock()
	if s.canceled {
		s.mu.Unlock()
		return
	}
	w := it.wave
	if err != nil {
		it.State = Failed
		it.Err = err
		w.success = false
		slog.Warn("work item failed", "network", it.Network, "node", it.Node, "index", it.Index, "error", err)
	} else {
		it.State = Cooked
		it.Name = res.Name
		it.Artifact = res.Artifact
	}
	w.pending--
	done := it.Item

	var bake bool
	if err == nil && s.autoBake && s.baker != nil {
		w.baking++
		bake = true
	}
	next := s.advanceLocked(w)
	finished := s.finishLocked(w)
	s.mu.Unlock()

	if s.onItem != nil {
		s.onItem(done)
	}
	if bake {
		go s.bake(it, done)
	}
	s.dispatch(next)
	if finished != nil {
		s.notifyWave(*finished)
	}
}

func (s *Scheduler) bake(it *item, snap Item) {
	target, err := s.baker.BakeItem(s.ctx, snap)
	s.post(func() {
		s.mu.Lock()
		if s.canceled {
			s.mu.Unlock()
			return
		}
		w := it.wave
		w.baking--
		if err != nil {
			w.success = false
			it.Err = err
			slog.Warn("work item bake failed", "network", it.Network, "node", it.Node, "index", it.Index, "error", err)
		} else {
			it.Baked = true
			it.Target = target
		}
		finished := s.finishLocked(w)
		s.mu.Unlock()
		if finished != nil {
			s.notifyWave(*finished)
		}
	})
}

// finishLocked closes w if everything is terminal and baked. It returns the
// report to deliver, or nil.
func (s *Scheduler) finishLocked(w *wave) *WaveReport {
	if w.done || w.pending > 0 || w.baking > 0 {
		return nil
	}
	w.done = true
	delete(s.waves, w.id)
	rep := WaveReport{Wave: w.id, Network: w.network.path, Target: w.target, Success: w.success}
	for _, it := range w.items {
		rep.Items = append(rep.Items, it.Item)
		switch it.State {
		case Cooked:
			rep.Cooked++
		case Failed:
			rep.Failed++
		}
		if it.Baked {
			rep.Baked++
		}
	}
	slog.Info("work wave done", "wave", w.id, "target", w.target, "cooked", rep.Cooked, "failed", rep.Failed, "baked", rep.Baked, "success", rep.Success)
	return &rep
}

func (s *Scheduler) notifyWave(rep WaveReport) {
	s.mu.Lock()
	canceled := s.canceled
	s.mu.Unlock()
	if canceled || s.onWave == nil {
		return
	}
	s.onWave(rep)
}

// Active returns the ids of waves still in flight, sorted.
func (s *Scheduler) Active() []types.WaveID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.WaveID, 0, len(s.waves))
	for id := range s.waves {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Cancel stops the scheduler. In-flight item cooks and bakes are canceled
// and their completions dropped; no callback fires afterwards.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.canceled {
		return
	}
	s.canceled = true
	s.cancel()
	s.waves = make(map[types.WaveID]*wave)
	s.networks = make(map[string]*network)
	s.order = nil
}
