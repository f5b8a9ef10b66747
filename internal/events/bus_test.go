package events

import (
	"reflect"
	"testing"
)

func TestDispatchOrder(t *testing.T) {
	b := NewBus()
	var got []int
	for i := 0; i < 3; i++ {
		i := i
		b.Subscribe(PostProcessing, func(Event) { got = append(got, i) })
	}
	b.Subscribe(PostCook, func(Event) { t.Error("wrong kind invoked") })

	if n := b.Dispatch(Event{Kind: PostProcessing}); n != 3 {
		t.Errorf("expected 3 callbacks, got %d", n)
	}
	if !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Errorf("expected registration order, got %v", got)
	}
}

func TestSelfRemovalDuringDispatch(t *testing.T) {
	b := NewBus()
	var calls []string
	var first Handle
	first = b.Subscribe(PostInstantiation, func(Event) {
		calls = append(calls, "first")
		b.Unsubscribe(first)
	})
	b.Subscribe(PostInstantiation, func(Event) { calls = append(calls, "second") })
	b.Subscribe(PostInstantiation, func(Event) { calls = append(calls, "third") })

	b.Dispatch(Event{Kind: PostInstantiation})
	if !reflect.DeepEqual(calls, []string{"first", "second", "third"}) {
		t.Errorf("removal skipped or repeated entries: %v", calls)
	}

	calls = nil
	b.Dispatch(Event{Kind: PostInstantiation})
	if !reflect.DeepEqual(calls, []string{"second", "third"}) {
		t.Errorf("expected removed callback gone next occurrence, got %v", calls)
	}
}

func TestRemovingOthersAffectsNextOccurrence(t *testing.T) {
	b := NewBus()
	var calls []string
	var second Handle
	b.Subscribe(PostBake, func(Event) {
		calls = append(calls, "first")
		b.Unsubscribe(second)
	})
	second = b.Subscribe(PostBake, func(Event) { calls = append(calls, "second") })

	b.Dispatch(Event{Kind: PostBake})
	b.Dispatch(Event{Kind: PostBake})
	if !reflect.DeepEqual(calls, []string{"first", "second", "first"}) {
		t.Errorf("unexpected call sequence %v", calls)
	}
}

func TestAdditionDuringDispatchRunsNextTime(t *testing.T) {
	b := NewBus()
	late := 0
	added := false
	b.Subscribe(PostCook, func(Event) {
		if !added {
			added = true
			b.Subscribe(PostCook, func(Event) { late++ })
		}
	})

	b.Dispatch(Event{Kind: PostCook})
	if late != 0 {
		t.Error("callback added mid-dispatch ran for the same occurrence")
	}
	b.Dispatch(Event{Kind: PostCook})
	if late != 1 {
		t.Errorf("expected added callback to run once, ran %d", late)
	}
}

func TestStopHaltsDispatch(t *testing.T) {
	stopped := false
	b := NewBus(WithStop(func() bool { return stopped }))
	ran := 0
	b.Subscribe(PostProcessing, func(Event) { ran++; stopped = true })
	b.Subscribe(PostProcessing, func(Event) { ran++ })

	b.Dispatch(Event{Kind: PostProcessing})
	if ran != 1 {
		t.Errorf("expected dispatch to stop after first callback, ran %d", ran)
	}
}

type recorder struct{ kinds []Kind }

func (r *recorder) Record(ev Event) { r.kinds = append(r.kinds, ev.Kind) }

func TestRecorderSeesEveryDispatch(t *testing.T) {
	rec := &recorder{}
	b := NewBus(WithRecorder(rec))
	b.Dispatch(Event{Kind: PreInstantiation})
	b.Dispatch(Event{Kind: PostInstantiation})
	if !reflect.DeepEqual(rec.kinds, []Kind{PreInstantiation, PostInstantiation}) {
		t.Errorf("unexpected recorded kinds %v", rec.kinds)
	}
}

func TestUnsubscribeUnknown(t *testing.T) {
	b := NewBus()
	if b.Unsubscribe(99) {
		t.Error("expected false for unknown handle")
	}
}
