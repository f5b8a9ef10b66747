package asset

import "github.com/user/assetlink/internal/params"

// State is the lifecycle state of an instance.
type State string

const (
	Created          State = "created"
	PreInstantiation State = "pre_instantiation"
	Instantiating    State = "instantiating"
	Cooking          State = "cooking"
	PostProcessing   State = "post_processing"
	Idle             State = "idle"
	Failed           State = "failed"
	Deleted          State = "deleted"
)

// Settled reports whether the instance is waiting for a caller: idle,
// failed or deleted.
func (s State) Settled() bool {
	return s == Idle || s == Failed || s == Deleted
}

// Definition is what an instance needs to know about its asset.
type Definition struct {
	Name            string
	Parameters      []params.Definition
	NodeInputs      int
	InputParameters []string
}
