// Package workgraph schedules the work items of the dependency networks
// nested inside an asset instance.
package workgraph

import (
	"fmt"
	"strings"

	"github.com/user/assetlink/internal/types"
)

// ItemState is the state of one work item.
type ItemState string

const (
	Uncooked ItemState = "uncooked"
	Waiting  ItemState = "waiting"
	Cooking  ItemState = "cooking"
	Cooked   ItemState = "cooked"
	Failed   ItemState = "failed"
)

// Terminal reports whether no further transition happens without a new
// cook request.
func (s ItemState) Terminal() bool {
	return s == Cooked || s == Failed
}

// NodeDef declares a work node. DependsOn names nodes of the same network.
type NodeDef struct {
	Name      string
	DependsOn []string
	Items     int
}

type NetworkDef struct {
	Path  string
	Nodes []NodeDef
}

// Item is a snapshot of one work item.
type Item struct {
	ID       types.WorkItemID
	Network  string
	Node     string
	Index    int
	State    ItemState
	Name     string
	Artifact types.ArtifactID
	Baked    bool
	Target   string
	Err      error
}

type item struct {
	Item
	wave *wave
}

type node struct {
	def   NodeDef
	path  string
	items []*item
}

type network struct {
	path  string
	nodes map[string]*node
	order []string
}

func (n *node) cooked() bool {
	for _, it := range n.items {
		if it.State != Cooked {
			return false
		}
	}
	return true
}

func (n *node) failed() bool {
	for _, it := range n.items {
		if it.State == Failed {
			return true
		}
	}
	return false
}

func (n *node) busy() bool {
	for _, it := range n.items {
		if it.State == Waiting || it.State == Cooking {
			return true
		}
	}
	return false
}

// NodePath joins a network path and node name.
func NodePath(network, node string) string {
	return strings.TrimRight(network, "/") + "/" + node
}

func buildNetwork(def NetworkDef) (*network, error) {
	if def.Path == "" {
		return nil, fmt.Errorf("%w: network without a path", types.ErrScheduling)
	}
	net := &network{path: def.Path, nodes: make(map[string]*node, len(def.Nodes))}
	for _, nd := range def.Nodes {
		if nd.Name == "" {
			return nil, fmt.Errorf("%w: %s: node without a name", types.ErrScheduling, def.Path)
		}
		if _, dup := net.nodes[nd.Name]; dup {
			return nil, fmt.Errorf("%w: %s: duplicate node %q", types.ErrScheduling, def.Path, nd.Name)
		}
		n := &node{def: nd, path: NodePath(def.Path, nd.Name)}
		n.def.DependsOn = append([]string(nil), nd.DependsOn...)
		for i := 0; i < nd.Items; i++ {
			n.items = append(n.items, &item{Item: Item{
				ID:      types.NewWorkItemID(),
				Network: def.Path,
				Node:    nd.Name,
				Index:   i,
				State:   Uncooked,
			}})
		}
		net.nodes[nd.Name] = n
		net.order = append(net.order, nd.Name)
	}
	for _, name := range net.order {
		for _, dep := range net.nodes[name].def.DependsOn {
			if _, ok := net.nodes[dep]; !ok {
				return nil, fmt.Errorf("%w: %s: node %q depends on undeclared %q", types.ErrScheduling, def.Path, name, dep)
			}
		}
	}
	if cycle := net.findCycle(); cycle != nil {
		return nil, fmt.Errorf("%w: %s: dependency cycle %s", types.ErrScheduling, def.Path, strings.Join(cycle, " -> "))
	}
	return net, nil
}

// findCycle returns the nodes of one dependency cycle, or nil.
func (n *network) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(n.nodes))
	var stack []string
	var cycle []string
	var visit func(string) bool
	visit = func(name string) bool {
		color[name] = grey
		stack = append(stack, name)
		for _, dep := range n.nodes[name].def.DependsOn {
			switch color[dep] {
			case grey:
				for i, s := range stack {
					if s == dep {
						cycle = append(append([]string(nil), stack[i:]...), dep)
					}
				}
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return false
	}
	for _, name := range n.order {
		if color[name] == white && visit(name) {
			return cycle
		}
	}
	return nil
}

// closure returns the nodes that must cook for target, upstream first.
// Nodes whose items are all cooked are skipped; their upstream is still
// walked so a stale dependency is picked up.
func (n *network) closure(target string) ([]*node, error) {
	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	var ordered []*node
	var visit func(string) error
	visit = func(name string) error {
		if onPath[name] {
			return fmt.Errorf("%w: %s: dependency cycle through %q", types.ErrScheduling, n.path, name)
		}
		if visited[name] {
			return nil
		}
		nd, ok := n.nodes[name]
		if !ok {
			return fmt.Errorf("%w: %s: unknown node %q", types.ErrScheduling, n.path, name)
		}
		visited[name] = true
		onPath[name] = true
		for _, dep := range nd.def.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		onPath[name] = false
		if !nd.cooked() || name == target {
			ordered = append(ordered, nd)
		}
		return nil
	}
	if err := visit(target); err != nil {
		return nil, err
	}
	return ordered, nil
}
