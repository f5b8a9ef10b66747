// Package engine defines the narrow contract assetlink consumes from the
// remote generation engine. The engine's own computation is opaque: it
// receives parameter values and input bindings and returns output payloads.
package engine

import "context"

// Engine is the generation engine collaborator. Every method may block for
// the duration of the remote call; callers run them off the control lane.
type Engine interface {
	Connect(ctx context.Context) (Capabilities, error)
	Instantiate(ctx context.Context, req InstantiateRequest) (NodeHandle, error)
	Cook(ctx context.Context, req CookRequest) (*CookResult, error)
	CookWorkItem(ctx context.Context, req WorkItemRequest) (*WorkItemResult, error)
	Delete(ctx context.Context, node NodeHandle) error
	Close(ctx context.Context) error
}

// Capabilities are negotiated once at connect time. Components consult these
// flags instead of probing the engine per call.
type Capabilities struct {
	Version                 string `json:"version"`
	WorkGraphs              bool   `json:"work_graphs"`
	WorldInputBoundSelector bool   `json:"world_input_bound_selector"`
	ProxyOutputs            bool   `json:"proxy_outputs"`
}

// NodeHandle identifies engine-side state owned by one instance.
type NodeHandle string

// Transform is location, rotation (euler degrees) and scale.
type Transform struct {
	Location [3]float64 `json:"location"`
	Rotation [3]float64 `json:"rotation"`
	Scale    [3]float64 `json:"scale"`
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{Scale: [3]float64{1, 1, 1}}
}

type InstantiateRequest struct {
	Asset      string
	Label      string
	Transform  Transform
	Parameters map[string]any
	Inputs     []InputBinding
}

// InputBinding is the wire form of a committed input. Index is -1 for
// parameter inputs, which are addressed by Parameter instead.
type InputBinding struct {
	Index              int
	Parameter          string
	Kind               string
	Objects            []InputObject
	KeepWorldTransform bool
	ImportAsReference  bool
	World              *WorldOptions
}

type InputObject struct {
	Ref    string
	Offset Transform
}

type WorldOptions struct {
	PackBeforeMerge         bool
	ExportLODs              bool
	ExportSockets           bool
	ExportColliders         bool
	BoundSelector           bool
	BoundSelectorAutoUpdate bool
}

type CookRequest struct {
	Node       NodeHandle
	Asset      string
	Parameters map[string]any
	Inputs     []InputBinding
	Generation int
}

// CookResult carries every output the cook produced plus any work networks
// discovered inside the asset.
type CookResult struct {
	Outputs  []Output
	Networks []Network
}

type Output struct {
	Index   int
	Type    string
	Objects []OutputObject
}

type OutputObject struct {
	ObjectID  int
	GeoID     int
	PartID    int
	Split     string
	Name      string
	Component string
	Proxy     bool
	Payload   []byte
}

type Network struct {
	Path  string
	Nodes []Node
}

type Node struct {
	Name      string
	DependsOn []string
	Items     int
}

type WorkItemRequest struct {
	Node     NodeHandle
	Asset    string
	Network  string
	WorkNode string
	Index    int
}

type WorkItemResult struct {
	Name    string
	Payload []byte
}
