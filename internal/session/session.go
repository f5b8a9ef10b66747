// Package session manages the connection to the generation engine shared by
// every asset instance of a process.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/user/assetlink/internal/engine"
	"github.com/user/assetlink/internal/types"
)

type State string

const (
	Disconnected State = "disconnected"
	Connecting   State = "connecting"
	Connected    State = "connected"
	Error        State = "error"
)

// Session is created once and injected into instance creation. Ensure is
// its only synchronization point.
type Session struct {
	eng     engine.Engine
	timeout time.Duration
	group   singleflight.Group

	mu      sync.RWMutex
	state   State
	caps    engine.Capabilities
	lastErr error
}

type Option func(*Session)

// WithConnectTimeout bounds a single connect attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

func New(eng engine.Engine, opts ...Option) *Session {
	s := &Session{eng: eng, state: Disconnected, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine returns the engine this session connects to.
func (s *Session) Engine() engine.Engine { return s.eng }

// Ensure connects if disconnected. It is idempotent: concurrent callers share
// one attempt and a connected session returns immediately. An Error session
// fails with ErrSession until Reset is called.
func (s *Session) Ensure(ctx context.Context) error {
	s.mu.RLock()
	state, lastErr := s.state, s.lastErr
	s.mu.RUnlock()

	switch state {
	case Connected:
		return nil
	case Error:
		return fmt.Errorf("%w: %v", types.ErrSession, lastErr)
	}

	_, err, _ := s.group.Do("connect", func() (any, error) {
		return nil, s.connect(ctx)
	})
	return err
}

func (s *Session) connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Connected {
		s.mu.Unlock()
		return nil
	}
	s.state = Connecting
	s.mu.Unlock()
	slog.Info("session connecting")

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	caps, err := s.eng.Connect(cctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = Error
		s.lastErr = err
		slog.Error("session connect failed", "error", err)
		return fmt.Errorf("%w: connect: %v", types.ErrSession, err)
	}
	s.state = Connected
	s.caps = caps
	s.lastErr = nil
	slog.Info("session connected", "version", caps.Version, "work_graphs", caps.WorkGraphs, "proxy_outputs", caps.ProxyOutputs)
	return nil
}

// Valid reports whether the session is connected.
func (s *Session) Valid() bool {
	return s.State() == Connected
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Capabilities returns the flags negotiated at connect time. It is the zero
// value until the session connects.
func (s *Session) Capabilities() engine.Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

// LastError returns the error that moved the session into Error.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Reset moves an Error session back to Disconnected so the next Ensure
// retries.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Error {
		s.state = Disconnected
		s.lastErr = nil
		slog.Info("session reset")
	}
}

// Close tears the session down. Instances created on it stop being usable
// for new engine work.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		s.state = Disconnected
		return nil
	}
	s.state = Disconnected
	s.caps = engine.Capabilities{}
	if err := s.eng.Close(ctx); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	slog.Info("session closed")
	return nil
}
