// Package events is the per-instance lifecycle callback registry.
package events

import (
	"sync"

	"github.com/user/assetlink/internal/types"
)

// Kind is a lifecycle event kind.
type Kind string

const (
	PreInstantiation  Kind = "pre_instantiation"
	PostInstantiation Kind = "post_instantiation"
	PostCook          Kind = "post_cook"
	PostProcessing    Kind = "post_processing"
	PostBake          Kind = "post_bake"
	PostWorkItemCook  Kind = "post_work_item_cook"
)

// Kinds lists every kind in lifecycle order.
func Kinds() []Kind {
	return []Kind{PreInstantiation, PostInstantiation, PostCook, PostProcessing, PostBake, PostWorkItemCook}
}

// Event is one occurrence. Err is set when Success is false.
type Event struct {
	Kind     Kind
	Instance types.InstanceID
	Asset    string
	Success  bool
	Err      error
	// Detail carries kind specific data, e.g. a wave report for PostBake.
	Detail any
}

type Callback func(Event)

// Handle identifies one subscription.
type Handle uint64

// Recorder receives every event before its callbacks run.
type Recorder interface {
	Record(Event)
}

type subscription struct {
	handle Handle
	fn     Callback
}

// Bus keeps an ordered callback list per kind. The owner serializes
// Dispatch calls; the bus itself only guards its lists.
type Bus struct {
	mu       sync.Mutex
	next     Handle
	subs     map[Kind][]subscription
	stop     func() bool
	recorder Recorder
}

type Option func(*Bus)

// WithStop installs a predicate checked before every callback. Once it
// returns true the current dispatch ends.
func WithStop(fn func() bool) Option {
	return func(b *Bus) { b.stop = fn }
}

func WithRecorder(r Recorder) Option {
	return func(b *Bus) { b.recorder = r }
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{subs: make(map[Kind][]subscription)}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe appends fn to the kind's list.
func (b *Bus) Subscribe(kind Kind, fn Callback) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.subs[kind] = append(b.subs[kind], subscription{handle: b.next, fn: fn})
	return b.next
}

// Unsubscribe removes a subscription. It reports whether h was registered.
func (b *Bus) Unsubscribe(h Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for kind, list := range b.subs {
		for i, s := range list {
			if s.handle != h {
				continue
			}
			// Copy so an in-progress snapshot keeps its backing array.
			next := make([]subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			b.subs[kind] = next
			return true
		}
	}
	return false
}

// Len returns the number of callbacks registered for kind.
func (b *Bus) Len(kind Kind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[kind])
}

// Dispatch invokes, in registration order and once each, the callbacks that
// were registered when the dispatch began. It returns how many ran.
func (b *Bus) Dispatch(ev Event) int {
	b.mu.Lock()
	snapshot := b.subs[ev.Kind]
	b.mu.Unlock()

	if b.stop != nil && b.stop() {
		return 0
	}
	if b.recorder != nil {
		b.recorder.Record(ev)
	}
	ran := 0
	for _, s := range snapshot {
		if b.stop != nil && b.stop() {
			break
		}
		s.fn(ev)
		ran++
	}
	return ran
}

// Clear drops every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[Kind][]subscription)
}
