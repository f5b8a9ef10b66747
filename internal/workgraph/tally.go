package workgraph

import (
	"fmt"

	"github.com/user/assetlink/internal/types"
)

// Tally counts the items of a network by state.
type Tally struct {
	Total    int
	Uncooked int
	Waiting  int
	Cooking  int
	Cooked   int
	Failed   int
}

func (t Tally) AllComplete() bool { return t.Total > 0 && t.Cooked == t.Total }
func (t Tally) AnyFailed() bool   { return t.Failed > 0 }
func (t Tally) AnyPending() bool  { return t.Waiting+t.Cooking > 0 }

// ProgressRatio is the share of terminal items, 0 for an empty network.
func (t Tally) ProgressRatio() float64 {
	if t.Total == 0 {
		return 0
	}
	return float64(t.Cooked+t.Failed) / float64(t.Total)
}

func (t *Tally) add(s ItemState) {
	t.Total++
	switch s {
	case Uncooked:
		t.Uncooked++
	case Waiting:
		t.Waiting++
	case Cooking:
		t.Cooking++
	case Cooked:
		t.Cooked++
	case Failed:
		t.Failed++
	}
}

// Tally counts the items of one network.
func (s *Scheduler) Tally(networkPath string) (Tally, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	net, ok := s.networks[networkPath]
	if !ok {
		return Tally{}, fmt.Errorf("%w: unknown network %q", types.ErrScheduling, networkPath)
	}
	var t Tally
	for _, name := range net.order {
		for _, it := range net.nodes[name].items {
			t.add(it.State)
		}
	}
	return t, nil
}
