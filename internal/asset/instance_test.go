package asset_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/assetlink/internal/asset"
	"github.com/user/assetlink/internal/bake"
	"github.com/user/assetlink/internal/engine"
	"github.com/user/assetlink/internal/engine/sim"
	"github.com/user/assetlink/internal/events"
	"github.com/user/assetlink/internal/inputs"
	"github.com/user/assetlink/internal/library"
	"github.com/user/assetlink/internal/outputs"
	"github.com/user/assetlink/internal/session"
	"github.com/user/assetlink/internal/state"
	"github.com/user/assetlink/internal/types"
	"github.com/user/assetlink/internal/workgraph"
)

const rockYAML = `
name: rock_gen
parameters:
  - {name: seed, type: int, default: 1}
  - {name: pieces, type: int, default: 2, min: 1, max: 8}
  - {name: emit_collision, type: bool, default: true}
  - {name: style, type: enum, tokens: [smooth, jagged]}
inputs:
  node: 2
  parameters: [guide_curve]
outputs:
  - type: mesh
    count_param: pieces
    objects:
      - {object: 0, geo: 0, part: 0, name: rock, component: StaticMeshComponent}
  - type: mesh
    when: emit_collision
    objects:
      - {object: 1, geo: 0, part: 0, split: collision, name: rock_collision}
networks:
  - path: /obj/topnet1
    nodes:
      - {name: scatter, items: 3}
      - {name: erode, items: 2}
      - {name: export, depends_on: [scatter, erode], items: 1}
`

type fixture struct {
	lib  *library.Library
	eng  *sim.Engine
	sess *session.Session
	def  asset.Definition
	bake string
}

func newFixture(t *testing.T, opts ...sim.Option) *fixture {
	t.Helper()
	lib := library.New()
	if err := lib.Parse([]byte(rockYAML)); err != nil {
		t.Fatal(err)
	}
	a, err := lib.Get("rock_gen")
	if err != nil {
		t.Fatal(err)
	}
	eng := sim.New(lib, opts...)
	return &fixture{
		lib:  lib,
		eng:  eng,
		sess: session.New(eng),
		def:  a.Definition(),
		bake: t.TempDir(),
	}
}

func (f *fixture) instance(t *testing.T, opts ...asset.Option) *asset.Instance {
	t.Helper()
	opts = append([]asset.Option{asset.WithBakePaths(bake.NewPathResolver(f.bake, ""))}, opts...)
	inst, err := asset.New(context.Background(), f.sess, f.def, engine.Identity(), opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { inst.Delete() })
	return inst
}

// recorder collects events of every kind on a channel.
func recorder(ch chan events.Event) []asset.Option {
	var opts []asset.Option
	for _, k := range events.Kinds() {
		opts = append(opts, asset.WithSubscriber(k, func(ev events.Event) { ch <- ev }))
	}
	return opts
}

func next(t *testing.T, ch chan events.Event, kind events.Kind) events.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
			return events.Event{}
		}
	}
}

func waitSettled(t *testing.T, inst *asset.Instance) asset.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := inst.Wait(ctx, asset.State.Settled)
	if err != nil {
		t.Fatalf("instance did not settle, state %s", st)
	}
	return st
}

func TestAutoCookPopulatesOutputsBeforePostProcessing(t *testing.T) {
	f := newFixture(t)
	type seen struct {
		count int
		dup   bool
		err   error
	}
	done := make(chan seen, 1)
	var inst *asset.Instance
	var ready sync.WaitGroup
	ready.Add(1)
	inst = f.instance(t, asset.OnPostProcessing(func(ev events.Event) {
		ready.Wait()
		var s seen
		s.count, s.err = inst.OutputCount()
		for i := 0; i < s.count && s.err == nil; i++ {
			ids, err := inst.OutputIdentifiersAt(i)
			if err != nil {
				s.err = err
				break
			}
			uniq := make(map[outputs.Identifier]bool)
			for _, id := range ids {
				if uniq[id] {
					s.dup = true
				}
				uniq[id] = true
			}
		}
		done <- s
	}))
	ready.Done()

	select {
	case s := <-done:
		if s.err != nil {
			t.Fatal(s.err)
		}
		if s.count < 1 {
			t.Errorf("expected outputs at PostProcessing, got %d", s.count)
		}
		if s.dup {
			t.Error("identifiers must be unique within an output")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("PostProcessing never fired")
	}
	if st := waitSettled(t, inst); st != asset.Idle {
		t.Errorf("expected idle, got %s", st)
	}
}

func TestEventOrder(t *testing.T) {
	f := newFixture(t)
	ch := make(chan events.Event, 32)
	f.instance(t, recorder(ch)...)

	want := []events.Kind{events.PreInstantiation, events.PostInstantiation, events.PostCook, events.PostProcessing}
	for _, k := range want {
		select {
		case ev := <-ch:
			if ev.Kind != k {
				t.Fatalf("expected %s, got %s", k, ev.Kind)
			}
			if !ev.Success {
				t.Errorf("%s reported failure: %v", k, ev.Err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", k)
		}
	}
}

func TestSessionErrorAbortsInstantiation(t *testing.T) {
	f := newFixture(t, sim.WithFaults(sim.Faults{Connect: errors.New("refused")}))
	_, err := asset.New(context.Background(), f.sess, f.def, engine.Identity())
	if !errors.Is(err, types.ErrSession) {
		t.Fatalf("expected ErrSession, got %v", err)
	}
	_, err = asset.New(context.Background(), f.sess, f.def, engine.Identity())
	if !errors.Is(err, types.ErrSession) {
		t.Fatalf("expected session to stay in error, got %v", err)
	}
	if f.eng.Live() != 0 {
		t.Errorf("expected no engine nodes, got %d", f.eng.Live())
	}
}

func TestUnknownParameterLeavesStoreUnchanged(t *testing.T) {
	f := newFixture(t)
	inst := f.instance(t, asset.WithAutoCook(false))
	waitSettled(t, inst)

	before, _ := inst.Parameters()
	if err := inst.SetIntParameter("missing", 3); !errors.Is(err, types.ErrParameterNotFound) {
		t.Errorf("expected ErrParameterNotFound, got %v", err)
	}
	if err := inst.SetStringParameter("seed", "x"); !errors.Is(err, types.ErrParameterType) {
		t.Errorf("expected ErrParameterType, got %v", err)
	}
	if err := inst.SetEnumParameter("style", "glossy"); !errors.Is(err, types.ErrParameterType) {
		t.Errorf("expected ErrParameterType for unknown token, got %v", err)
	}
	after, _ := inst.Parameters()
	for name, v := range before {
		if after[name] != v {
			t.Errorf("parameter %s changed from %v to %v", name, v, after[name])
		}
	}
}

func TestNoAutoCookStaysIdleUntilRecook(t *testing.T) {
	f := newFixture(t)
	ch := make(chan events.Event, 32)
	inst := f.instance(t, append(recorder(ch), asset.WithAutoCook(false))...)

	next(t, ch, events.PostInstantiation)
	if st := waitSettled(t, inst); st != asset.Idle {
		t.Fatalf("expected idle, got %s", st)
	}
	if f.eng.Cooks() != 0 {
		t.Fatalf("expected no cook, got %d", f.eng.Cooks())
	}
	if n, _ := inst.OutputCount(); n != 0 {
		t.Errorf("expected no outputs before the first cook, got %d", n)
	}

	if err := inst.Recook(); err != nil {
		t.Fatal(err)
	}
	next(t, ch, events.PostProcessing)
	if n, _ := inst.OutputCount(); n != 2 {
		t.Errorf("expected 2 outputs, got %d", n)
	}
}

func TestPreInstantiationCallbackConfiguresFirstCook(t *testing.T) {
	var seen atomic.Value
	f := newFixture(t, sim.WithCookHook(func(req engine.CookRequest) { seen.Store(req.Parameters["seed"]) }))
	ch := make(chan events.Event, 32)
	var inst *asset.Instance
	var ready sync.WaitGroup
	ready.Add(1)
	opts := append(recorder(ch), asset.OnPreInstantiation(func(events.Event) {
		ready.Wait()
		inst.SetIntParameter("seed", 42)
	}))
	inst = f.instance(t, opts...)
	ready.Done()

	next(t, ch, events.PostProcessing)
	if got := seen.Load(); got != 42 {
		t.Errorf("expected first cook with seed 42, got %v", got)
	}
}

func TestParametersQueuedDuringCook(t *testing.T) {
	gate := make(chan struct{})
	var calls atomic.Int32
	var seeds sync.Map
	f := newFixture(t, sim.WithCookHook(func(req engine.CookRequest) {
		n := calls.Add(1)
		seeds.Store(n, req.Parameters["seed"])
		if n == 1 {
			<-gate
		}
	}))
	ch := make(chan events.Event, 32)
	inst := f.instance(t, recorder(ch)...)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := inst.Wait(ctx, func(s asset.State) bool { return s == asset.Cooking }); err != nil {
		t.Fatal(err)
	}
	if err := inst.SetIntParameter("seed", 7); err != nil {
		t.Fatal(err)
	}
	if v, _ := inst.Parameter("seed"); v != 1 {
		t.Errorf("expected committed seed 1 during cook, got %v", v)
	}
	inst.Recook()
	inst.Recook()
	close(gate)

	next(t, ch, events.PostProcessing)
	next(t, ch, events.PostProcessing)
	waitSettled(t, inst)
	if n := calls.Load(); n != 2 {
		t.Fatalf("expected recooks to coalesce into one follow-up, got %d cooks", n)
	}
	if v, _ := seeds.Load(int32(2)); v != 7 {
		t.Errorf("expected queued seed applied at next cook, got %v", v)
	}
}

func TestCookFailureThenExplicitRecook(t *testing.T) {
	f := newFixture(t, sim.WithFaults(sim.Faults{Cook: errors.New("segfault")}))
	ch := make(chan events.Event, 32)
	inst := f.instance(t, recorder(ch)...)

	ev := next(t, ch, events.PostCook)
	if ev.Success || !errors.Is(ev.Err, types.ErrCook) {
		t.Fatalf("expected failed PostCook with ErrCook, got %+v", ev)
	}
	if st := waitSettled(t, inst); st != asset.Failed {
		t.Fatalf("expected failed, got %s", st)
	}
	time.Sleep(50 * time.Millisecond)
	if f.eng.Cooks() != 1 {
		t.Fatalf("expected no automatic retry, got %d cooks", f.eng.Cooks())
	}

	f.eng.SetFaults(sim.Faults{})
	if err := inst.Recook(); err != nil {
		t.Fatal(err)
	}
	ev = next(t, ch, events.PostCook)
	if !ev.Success {
		t.Fatalf("expected recook to succeed, got %v", ev.Err)
	}
	next(t, ch, events.PostProcessing)
}

func TestRecookPreservesUnreplacedOutputs(t *testing.T) {
	f := newFixture(t)
	ch := make(chan events.Event, 32)
	inst := f.instance(t, recorder(ch)...)
	next(t, ch, events.PostProcessing)

	collision, err := inst.OutputIdentifiersAt(1)
	if err != nil {
		t.Fatal(err)
	}
	inst.SetBoolParameter("emit_collision", false)
	inst.SetIntParameter("pieces", 4)
	inst.Recook()
	next(t, ch, events.PostProcessing)

	if n, _ := inst.OutputCount(); n != 2 {
		t.Fatalf("expected output 1 kept, got %d outputs", n)
	}
	ids, _ := inst.OutputIdentifiersAt(0)
	if len(ids) != 4 {
		t.Errorf("expected output 0 replaced with 4 objects, got %d", len(ids))
	}
	kept, _ := inst.OutputIdentifiersAt(1)
	if len(kept) != len(collision) || kept[0] != collision[0] {
		t.Errorf("expected output 1 untouched, got %v", kept)
	}
}

func TestBakeMissingObjectLeavesRegistryUnchanged(t *testing.T) {
	f := newFixture(t)
	ch := make(chan events.Event, 32)
	inst := f.instance(t, recorder(ch)...)
	next(t, ch, events.PostProcessing)

	before, _ := inst.Outputs()
	_, err := inst.BakeOutputObjectAt(context.Background(), 0, outputs.Identifier{ObjectID: 99})
	if !errors.Is(err, types.ErrOutputNotFound) {
		t.Fatalf("expected ErrOutputNotFound, got %v", err)
	}
	_, err = inst.BakeOutputObjectAt(context.Background(), 7, outputs.Identifier{})
	if !errors.Is(err, types.ErrOutputNotFound) {
		t.Fatalf("expected ErrOutputNotFound for missing index, got %v", err)
	}
	after, _ := inst.Outputs()
	for i := range before {
		for j := range before[i].Objects {
			if before[i].Objects[j] != after[i].Objects[j] {
				t.Errorf("object %d/%d changed", i, j)
			}
		}
	}
}

func TestRebakeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ch := make(chan events.Event, 32)
	inst := f.instance(t, recorder(ch)...)
	next(t, ch, events.PostProcessing)

	ids, _ := inst.OutputIdentifiersAt(0)
	id := ids[0]
	if proxy, _ := inst.IsOutputProxyAt(0, id); !proxy {
		t.Fatal("expected a proxy before baking")
	}
	first, err := inst.BakeOutputObjectAt(context.Background(), 0, id)
	if err != nil {
		t.Fatal(err)
	}
	second, err := inst.BakeOutputObjectAt(context.Background(), 0, id)
	if err != nil {
		t.Fatal(err)
	}
	if first.Target == "" || first.Target != second.Target {
		t.Errorf("expected same target, got %q and %q", first.Target, second.Target)
	}
	if proxy, _ := inst.IsOutputProxyAt(0, id); proxy {
		t.Error("expected proxy flag cleared after bake")
	}
	if _, err := os.Stat(first.Target); err != nil {
		t.Errorf("baked file missing: %v", err)
	}
	obj, _ := inst.OutputObjectAt(0, id)
	if obj.Ref.Path != first.Target {
		t.Errorf("expected object to reference %s, got %s", first.Target, obj.Ref.Path)
	}
	sibling, _ := inst.IsOutputProxyAt(0, ids[1])
	if !sibling {
		t.Error("sibling must stay a proxy")
	}
}

func TestBakeProxyDuringCookFails(t *testing.T) {
	gate := make(chan struct{})
	var calls atomic.Int32
	f := newFixture(t, sim.WithCookHook(func(engine.CookRequest) {
		if calls.Add(1) == 2 {
			<-gate
		}
	}))
	ch := make(chan events.Event, 32)
	inst := f.instance(t, recorder(ch)...)
	next(t, ch, events.PostProcessing)
	waitSettled(t, inst)

	ids, _ := inst.OutputIdentifiersAt(0)
	inst.Recook()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	inst.Wait(ctx, func(s asset.State) bool { return s == asset.Cooking })

	_, err := inst.BakeOutputObjectAt(context.Background(), 0, ids[0])
	if !errors.Is(err, types.ErrCookInProgress) {
		t.Errorf("expected ErrCookInProgress, got %v", err)
	}
	close(gate)
	next(t, ch, events.PostProcessing)
}

func TestDeleteStopsEverything(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, sim.WithCookHook(func(engine.CookRequest) { <-gate }))
	ch := make(chan events.Event, 32)
	inst := f.instance(t, recorder(ch)...)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := inst.Wait(ctx, func(s asset.State) bool { return s == asset.Cooking }); err != nil {
		t.Fatal(err)
	}
	if err := inst.Delete(); err != nil {
		t.Fatal(err)
	}
	close(gate)

	select {
	case <-inst.Released():
	case <-time.After(2 * time.Second):
		t.Fatal("engine node not released")
	}
	if f.eng.Live() != 0 {
		t.Errorf("expected engine node released, got %d live", f.eng.Live())
	}

	drain := time.After(100 * time.Millisecond)
	for done := false; !done; {
		select {
		case ev := <-ch:
			if ev.Kind == events.PostCook || ev.Kind == events.PostProcessing {
				t.Errorf("unexpected %s after delete", ev.Kind)
			}
		case <-drain:
			done = true
		}
	}

	if err := inst.Delete(); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on second delete, got %v", err)
	}
	if err := inst.SetIntParameter("seed", 2); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
	if _, err := inst.OutputCount(); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
	if err := inst.Recook(); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
	if _, err := inst.CookNode("/obj/topnet1", "export"); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
	if inst.State() != asset.Deleted {
		t.Errorf("expected deleted, got %s", inst.State())
	}
}

// gatedArtifacts holds the first Put until gate closes.
type gatedArtifacts struct {
	*state.ArtifactStore
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
	written atomic.Int32
}

func (g *gatedArtifacts) Put(ctx context.Context, meta types.ArtifactMeta, data []byte) (types.ArtifactID, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.gate
	})
	id, err := g.ArtifactStore.Put(ctx, meta, data)
	if err == nil {
		g.written.Add(1)
	}
	return id, err
}

func TestDeleteWaitsForArtifactWrites(t *testing.T) {
	f := newFixture(t)
	root := t.TempDir()
	store := &gatedArtifacts{
		ArtifactStore: state.NewArtifactStore(root),
		entered:       make(chan struct{}),
		gate:          make(chan struct{}),
	}
	inst := f.instance(t, asset.WithArtifacts(store))

	select {
	case <-store.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("cook never stored an output")
	}
	if err := inst.Delete(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-inst.Released():
		t.Fatal("released while an output write was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(store.gate)

	select {
	case <-inst.Released():
	case <-time.After(2 * time.Second):
		t.Fatal("instance not released")
	}
	if n := store.written.Load(); n != 0 {
		t.Errorf("expected no artifact written after delete, got %d", n)
	}
	dir := filepath.Join(root, "instances", string(inst.ID()), "artifacts")
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("expected artifact dir gone after release, stat err %v", err)
	}
}

func TestDeleteFromCallbackSkipsRemainingCallbacks(t *testing.T) {
	f := newFixture(t)
	var inst *asset.Instance
	var ready sync.WaitGroup
	ready.Add(1)
	var second atomic.Bool
	deleted := make(chan struct{})
	inst = f.instance(t,
		asset.OnPostInstantiation(func(events.Event) {
			ready.Wait()
			inst.Delete()
			close(deleted)
		}),
		asset.OnPostInstantiation(func(events.Event) { second.Store(true) }),
	)
	ready.Done()

	select {
	case <-deleted:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}
	<-inst.Released()
	if second.Load() {
		t.Error("callbacks after a delete must not run")
	}
	if f.eng.Cooks() != 0 {
		t.Errorf("expected no cook after delete, got %d", f.eng.Cooks())
	}
}

func TestInputsStagedAndBound(t *testing.T) {
	f := newFixture(t)
	ch := make(chan events.Event, 32)
	inst := f.instance(t, append(recorder(ch), asset.WithAutoCook(false))...)
	next(t, ch, events.PostInstantiation)
	waitSettled(t, inst)

	in, err := inst.CreateEmptyInput(inputs.World)
	if err != nil {
		t.Fatal(err)
	}
	in.SetObjects("/Game/Level/Cliff", "/Game/Level/Beach")
	in.SetWorld(inputs.WorldOptions{BoundSelector: true})
	if err := inst.SetInputAtIndex(0, in); err != nil {
		t.Fatal(err)
	}
	in.SetObjects()

	got, _ := inst.InputsAtIndices()
	if len(got[0].Objects()) != 2 {
		t.Errorf("registry must keep its own copy, got %d objects", len(got[0].Objects()))
	}
	if err := inst.SetInputAtIndex(5, in); !errors.Is(err, types.ErrParameterNotFound) {
		t.Errorf("expected ErrParameterNotFound for index 5, got %v", err)
	}

	curve, _ := inst.CreateEmptyInput(inputs.Parameter)
	curve.SetObjects("/Game/Splines/Path")
	if err := inst.SetInputParameter("guide_curve", curve); err != nil {
		t.Fatal(err)
	}
	if err := inst.SetInputParameter("missing", curve); !errors.Is(err, types.ErrParameterNotFound) {
		t.Errorf("expected ErrParameterNotFound, got %v", err)
	}
	ps, _ := inst.InputParameters()
	if _, ok := ps["guide_curve"]; !ok {
		t.Error("guide_curve not bound")
	}
}

func TestCookNodeBakesAndReportsOnce(t *testing.T) {
	f := newFixture(t)
	ch := make(chan events.Event, 64)
	inst := f.instance(t, append(recorder(ch), asset.WithAutoBake(true))...)
	next(t, ch, events.PostProcessing)

	paths, err := inst.WorkNetworkPaths()
	if err != nil || len(paths) != 1 {
		t.Fatalf("expected one network, got %v %v", paths, err)
	}
	nodes, _ := inst.WorkNodePaths(paths[0])
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %v", nodes)
	}

	if _, err := inst.CookNode(paths[0], "export"); err != nil {
		t.Fatal(err)
	}
	ev := next(t, ch, events.PostBake)
	if !ev.Success {
		t.Fatalf("expected wave success, got %v", ev.Err)
	}
	rep := ev.Detail.(workgraph.WaveReport)
	if rep.Cooked != 6 || rep.Baked != 6 {
		t.Errorf("unexpected report %+v", rep)
	}
	for _, it := range rep.Items {
		if _, err := os.Stat(it.Target); err != nil {
			t.Errorf("item %s/%d not baked: %v", it.Node, it.Index, err)
		}
	}
	tally, _ := inst.WorkItemTally(paths[0])
	if !tally.AllComplete() {
		t.Errorf("expected all items complete, got %+v", tally)
	}

	select {
	case ev := <-ch:
		if ev.Kind == events.PostBake {
			t.Error("PostBake fired twice for one wave")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCookNodeItemFailureFailsWave(t *testing.T) {
	f := newFixture(t, sim.WithFaults(sim.Faults{Items: map[string]bool{"/obj/topnet1/erode/1": true}}))
	ch := make(chan events.Event, 64)
	inst := f.instance(t, recorder(ch)...)
	next(t, ch, events.PostProcessing)

	if _, err := inst.CookNode("/obj/topnet1", "export"); err != nil {
		t.Fatal(err)
	}
	ev := next(t, ch, events.PostBake)
	if ev.Success || !errors.Is(ev.Err, types.ErrCook) {
		t.Fatalf("expected failed wave, got %+v", ev)
	}
	items, _ := inst.WorkItems("/obj/topnet1", "export")
	if items[0].State != workgraph.Failed {
		t.Errorf("expected export failed after upstream failure, got %s", items[0].State)
	}
}
