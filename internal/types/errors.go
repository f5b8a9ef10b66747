package types

import "errors"

// Error taxonomy shared by every component. Callers match with errors.Is;
// components wrap these with call-site detail via fmt.Errorf("%w: ...").
var (
	// ErrSession is fatal to the dependent workflow: instantiation aborts and
	// nothing retries automatically.
	ErrSession = errors.New("session error")

	ErrInstantiation     = errors.New("instantiation failed")
	ErrParameterNotFound = errors.New("parameter not found")
	ErrParameterType     = errors.New("parameter type mismatch")

	// ErrCook is only ever delivered through a PostCook event outcome.
	ErrCook = errors.New("cook failed")

	ErrOutputNotFound = errors.New("output not found")
	ErrBake           = errors.New("bake failed")

	// ErrInvalidState is returned for any call on a deleted or not yet usable
	// instance. Nothing is queued.
	ErrInvalidState = errors.New("invalid state")

	ErrScheduling     = errors.New("scheduling error")
	ErrCookInProgress = errors.New("cook in progress")
)
