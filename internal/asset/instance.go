// Package asset drives one instantiated generator asset through its
// lifecycle: instantiation, parameterization, asynchronous cooking, output
// inspection, baking and deletion.
//
// Engine calls run on worker goroutines. Their completions are posted to the
// instance's control lane, a single goroutine that applies them and
// dispatches lifecycle events, so callbacks of one instance never overlap.
// No public method waits for engine work.
package asset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/assetlink/internal/bake"
	"github.com/user/assetlink/internal/engine"
	"github.com/user/assetlink/internal/events"
	"github.com/user/assetlink/internal/inputs"
	"github.com/user/assetlink/internal/outputs"
	"github.com/user/assetlink/internal/params"
	"github.com/user/assetlink/internal/session"
	"github.com/user/assetlink/internal/types"
	"github.com/user/assetlink/internal/workgraph"
)

const laneSize = 256

// Baker writes one artifact to a target path.
type Baker interface {
	Bake(ctx context.Context, src bake.Source, target string) (bake.Result, error)
}

// CookSummary is the Detail of a successful PostCook event.
type CookSummary struct {
	Outputs    int `json:"outputs"`
	Networks   int `json:"networks"`
	Generation int `json:"generation"`
}

type subscription struct {
	kind events.Kind
	fn   events.Callback
}

// Instance is one instantiated asset.
type Instance struct {
	id        types.InstanceID
	def       Definition
	eng       engine.Engine
	caps      engine.Capabilities
	transform engine.Transform
	label     string
	job       string
	autoCook  bool
	createdAt time.Time

	params  *params.Store
	inputs  *inputs.Registry
	outputs *outputs.Registry
	bus     *events.Bus
	subs    []subscription

	artifacts types.ArtifactStore
	baker     Baker
	paths     *bake.PathResolver
	journal   types.EventStore
	index     types.InstanceStore
	limiter   *semaphore.Weighted
	maxItems  int64

	ctx      context.Context
	cancel   context.CancelFunc
	lane     chan func()
	released chan struct{}
	deleted  atomic.Bool
	workers  sync.WaitGroup

	mu         sync.Mutex
	state      State
	node       engine.NodeHandle
	gen        int
	cookQueued bool
	autoBake   bool
	graph      *workgraph.Scheduler
	lastErr    error
	changed    chan struct{}
}

type Option func(*Instance)

// WithAutoCook controls whether the first cook starts right after
// instantiation. It defaults to true.
func WithAutoCook(on bool) Option {
	return func(i *Instance) { i.autoCook = on }
}

func WithLabel(label string) Option {
	return func(i *Instance) { i.label = label }
}

// WithJob tags the instance index record with the job that created it.
func WithJob(name string) Option {
	return func(i *Instance) { i.job = name }
}

// WithSubscriber registers fn before the first event can fire.
func WithSubscriber(kind events.Kind, fn events.Callback) Option {
	return func(i *Instance) { i.subs = append(i.subs, subscription{kind: kind, fn: fn}) }
}

func OnPreInstantiation(fn events.Callback) Option {
	return WithSubscriber(events.PreInstantiation, fn)
}

func OnPostInstantiation(fn events.Callback) Option {
	return WithSubscriber(events.PostInstantiation, fn)
}

func OnPostCook(fn events.Callback) Option {
	return WithSubscriber(events.PostCook, fn)
}

func OnPostProcessing(fn events.Callback) Option {
	return WithSubscriber(events.PostProcessing, fn)
}

func OnPostBake(fn events.Callback) Option {
	return WithSubscriber(events.PostBake, fn)
}

// WithArtifacts stores cooked payloads in store instead of memory.
func WithArtifacts(store types.ArtifactStore) Option {
	return func(i *Instance) { i.artifacts = store }
}

func WithBaker(b Baker) Option {
	return func(i *Instance) { i.baker = b }
}

func WithBakePaths(r *bake.PathResolver) Option {
	return func(i *Instance) { i.paths = r }
}

// WithJournal appends every dispatched event to store.
func WithJournal(store types.EventStore) Option {
	return func(i *Instance) { i.journal = store }
}

// WithIndex keeps an index record of the instance state in store.
func WithIndex(store types.InstanceStore) Option {
	return func(i *Instance) { i.index = store }
}

// WithCookLimiter shares a cook concurrency limit between instances.
func WithCookLimiter(sem *semaphore.Weighted) Option {
	return func(i *Instance) { i.limiter = sem }
}

// WithMaxParallelItems bounds how many work items cook at once.
func WithMaxParallelItems(n int64) Option {
	return func(i *Instance) { i.maxItems = n }
}

func WithAutoBake(on bool) Option {
	return func(i *Instance) { i.autoBake = on }
}

// New instantiates an asset. It ensures the session first; a session in
// Error aborts with ErrSession and no instance is created. Everything after
// that happens asynchronously: New returns in state Created and the
// PreInstantiation event fires on the control lane.
func New(ctx context.Context, sess *session.Session, def Definition, transform engine.Transform, opts ...Option) (*Instance, error) {
	if sess == nil {
		return nil, fmt.Errorf("%w: no session", types.ErrSession)
	}
	if err := sess.Ensure(ctx); err != nil {
		return nil, err
	}
	store, err := params.NewStore(def.Parameters)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrInstantiation, def.Name, err)
	}

	i := &Instance{
		id:        types.NewInstanceID(),
		def:       def,
		eng:       sess.Engine(),
		caps:      sess.Capabilities(),
		transform: transform,
		autoCook:  true,
		createdAt: time.Now(),
		params:    store,
		inputs:    inputs.NewRegistry(def.NodeInputs, def.InputParameters),
		outputs:   outputs.NewRegistry(),
		maxItems:  4,
		lane:      make(chan func(), laneSize),
		released:  make(chan struct{}),
		state:     Created,
		changed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.artifacts == nil {
		i.artifacts = newMemoryArtifacts()
	}
	if i.baker == nil {
		i.baker = bake.NewEngine()
	}
	if i.paths == nil {
		i.paths = bake.NewPathResolver(filepath.Join(os.TempDir(), "assetlink", "bake"), "")
	}

	busOpts := []events.Option{events.WithStop(i.deleted.Load)}
	if i.journal != nil {
		busOpts = append(busOpts, events.WithRecorder(journalRecorder{i}))
	}
	i.bus = events.NewBus(busOpts...)
	for _, s := range i.subs {
		i.bus.Subscribe(s.kind, s.fn)
	}
	i.subs = nil

	i.ctx, i.cancel = context.WithCancel(context.Background())
	i.record()
	go i.loop()
	i.post(i.preInstantiate)

	slog.Info("instance created", "instance_id", i.id, "asset", def.Name, "auto_cook", i.autoCook)
	return i, nil
}

func (i *Instance) ID() types.InstanceID { return i.id }
func (i *Instance) Asset() string        { return i.def.Name }

func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Err returns the error behind the last Failed transition.
func (i *Instance) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastErr
}

// Released is closed once a deleted instance has released its engine-side
// resources and stored artifacts.
func (i *Instance) Released() <-chan struct{} { return i.released }

// Wait blocks until pred accepts the current state or ctx ends.
func (i *Instance) Wait(ctx context.Context, pred func(State) bool) (State, error) {
	for {
		i.mu.Lock()
		st, ch := i.state, i.changed
		i.mu.Unlock()
		if pred(st) {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

func (i *Instance) alive() error {
	if i.deleted.Load() {
		return fmt.Errorf("%w: instance %s is deleted", types.ErrInvalidState, i.id)
	}
	return nil
}

// Subscribe adds a callback. It takes effect from the next occurrence of
// kind, including when called from inside a dispatch.
func (i *Instance) Subscribe(kind events.Kind, fn events.Callback) (events.Handle, error) {
	if err := i.alive(); err != nil {
		return 0, err
	}
	return i.bus.Subscribe(kind, fn), nil
}

func (i *Instance) Unsubscribe(h events.Handle) error {
	if err := i.alive(); err != nil {
		return err
	}
	i.bus.Unsubscribe(h)
	return nil
}

// Recook requests a cook with the current parameters and inputs. From Idle
// or Failed it starts one; before the first cook or while cooking it is
// coalesced into a single follow-up cook.
func (i *Instance) Recook() error {
	if err := i.alive(); err != nil {
		return err
	}
	i.mu.Lock()
	st := i.state
	i.cookQueued = true
	i.mu.Unlock()
	if st == Idle || st == Failed {
		i.post(i.drainCookQueue)
	}
	return nil
}

// Delete cancels in-flight work, drops every owned entity and releases the
// engine node in the background. Later calls fail with ErrInvalidState and
// no callback fires for the instance again.
func (i *Instance) Delete() error {
	i.mu.Lock()
	if i.state == Deleted {
		i.mu.Unlock()
		return fmt.Errorf("%w: instance %s is deleted", types.ErrInvalidState, i.id)
	}
	i.deleted.Store(true)
	prev := i.state
	i.gen++
	i.state = Deleted
	node := i.node
	i.node = ""
	graph := i.graph
	i.graph = nil
	close(i.changed)
	i.changed = make(chan struct{})
	i.mu.Unlock()

	i.cancel()
	if graph != nil {
		graph.Cancel()
	}
	i.bus.Clear()
	i.outputs.Clear()
	i.inputs.Clear()

	slog.Info("instance deleted", "instance_id", i.id, "asset", i.def.Name, "from", prev)
	go i.release(node)
	return nil
}

func (i *Instance) release(node engine.NodeHandle) {
	defer close(i.released)
	// Cook workers may still be storing payloads. Wait them out so nothing
	// lands in the artifact store after it is emptied.
	i.workers.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if node != "" {
		if err := i.eng.Delete(ctx, node); err != nil {
			slog.Warn("release engine node failed", "instance_id", i.id, "node", node, "error", err)
		}
	}
	if err := i.artifacts.DeleteInstance(ctx, i.id); err != nil {
		slog.Warn("release artifacts failed", "instance_id", i.id, "error", err)
	}
	i.record()
}

// track registers a worker that may write artifacts. It refuses once the
// instance is deleted so release never waits on a worker started after it.
func (i *Instance) track() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.deleted.Load() {
		return false
	}
	i.workers.Add(1)
	return true
}

// loop is the control lane.
func (i *Instance) loop() {
	for {
		select {
		case fn := <-i.lane:
			if !i.deleted.Load() {
				fn()
			}
		case <-i.ctx.Done():
			return
		}
	}
}

// post queues fn on the control lane. Work posted to a deleted instance is
// dropped.
func (i *Instance) post(fn func()) {
	if i.deleted.Load() {
		return
	}
	select {
	case i.lane <- fn:
	case <-i.ctx.Done():
	default:
		go func() {
			select {
			case i.lane <- fn:
			case <-i.ctx.Done():
			}
		}()
	}
}

func (i *Instance) setState(s State) {
	i.mu.Lock()
	if i.state == Deleted {
		i.mu.Unlock()
		return
	}
	prev := i.state
	i.state = s
	close(i.changed)
	i.changed = make(chan struct{})
	i.mu.Unlock()
	slog.Debug("instance state", "instance_id", i.id, "from", prev, "to", s)
	i.record()
}

func (i *Instance) fail(err error) {
	i.mu.Lock()
	i.lastErr = err
	i.mu.Unlock()
	slog.Warn("instance failed", "instance_id", i.id, "asset", i.def.Name, "error", err)
	i.setState(Failed)
}

// current reports whether gen is still the latest engine request.
func (i *Instance) current(gen int) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return !i.deleted.Load() && gen == i.gen
}

func (i *Instance) nextGen() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.gen++
	return i.gen
}

func (i *Instance) dispatch(kind events.Kind, ok bool, err error, detail any) {
	i.bus.Dispatch(events.Event{
		Kind:     kind,
		Instance: i.id,
		Asset:    i.def.Name,
		Success:  ok,
		Err:      err,
		Detail:   detail,
	})
}

func (i *Instance) record() {
	if i.index == nil {
		return
	}
	i.mu.Lock()
	rec := &types.InstanceRecord{
		ID:        i.id,
		Asset:     i.def.Name,
		Label:     i.label,
		Job:       i.job,
		State:     string(i.state),
		Node:      string(i.node),
		CreatedAt: i.createdAt,
		UpdatedAt: time.Now(),
	}
	if i.lastErr != nil {
		rec.Error = i.lastErr.Error()
	}
	i.mu.Unlock()
	if err := i.index.Put(context.Background(), rec); err != nil {
		slog.Warn("index instance failed", "instance_id", i.id, "error", err)
	}
}
