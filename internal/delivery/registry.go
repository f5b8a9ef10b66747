// internal/delivery/registry.go
package delivery

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Handler delivers a message to the recipient named by target.
type Handler func(target, message string) error

// LogPrefix routes messages to the process log.
const LogPrefix = "log:"

// Registry routes job reports to the appropriate delivery handler based on
// target prefix (e.g. "telegram:", "log:").
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	retry    *RetryPolicy
}

// NewRegistry creates a registry with the log handler registered. A nil
// policy delivers once without retrying.
func NewRegistry(retry *RetryPolicy) *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
		retry:    retry,
	}
	r.Register(LogPrefix, logHandler)
	return r
}

// Register adds a handler for targets starting with prefix.
func (r *Registry) Register(prefix string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[prefix] = handler
}

// Deliver finds the handler matching the target prefix and calls it,
// retrying transient failures. The longest matching prefix wins.
func (r *Registry) Deliver(target, message string) error {
	r.mu.RLock()
	var (
		handler Handler
		matched string
	)
	for prefix, h := range r.handlers {
		if strings.HasPrefix(target, prefix) && len(prefix) > len(matched) {
			handler, matched = h, prefix
		}
	}
	r.mu.RUnlock()
	if handler == nil {
		return fmt.Errorf("no delivery handler for target: %s", target)
	}

	if r.retry == nil {
		return handler(target, message)
	}
	return r.retry.Execute(func() error {
		return handler(target, message)
	})
}

func logHandler(target, message string) error {
	slog.Info("job report", "target", strings.TrimPrefix(target, LogPrefix), "message", message)
	return nil
}
