// internal/state/event.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/assetlink/internal/types"
)

// EventStore is the append-only lifecycle journal. Events are stored per
// instance in instances/<instanceID>/events.jsonl.
type EventStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.InstanceID]*sync.Mutex
}

func NewEventStore(root string) *EventStore {
	return &EventStore{
		root:  root,
		locks: make(map[types.InstanceID]*sync.Mutex),
	}
}

func (e *EventStore) getLock(id types.InstanceID) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	if lock, ok := e.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	e.locks[id] = lock
	return lock
}

func (e *EventStore) eventsPath(id types.InstanceID) string {
	return filepath.Join(e.root, "instances", string(id), "events.jsonl")
}

// count counts journal lines. Caller must hold the instance lock.
func (e *EventStore) count(id types.InstanceID) (int64, error) {
	f, err := os.Open(e.eventsPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan events file: %w", err)
	}
	return count, nil
}

// Append adds an event with the next sequence number of its instance.
func (e *EventStore) Append(_ context.Context, event *types.Event) error {
	if event.InstanceID == "" {
		return fmt.Errorf("event without instance")
	}
	lock := e.getLock(event.InstanceID)
	lock.Lock()
	defer lock.Unlock()

	path := e.eventsPath(event.InstanceID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create instance dir: %w", err)
	}

	existing, err := e.count(event.InstanceID)
	if err != nil {
		return err
	}
	event.Seq = existing + 1

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Tail returns the last limit events of an instance, oldest first. A limit
// of zero or less returns all of them.
func (e *EventStore) Tail(_ context.Context, id types.InstanceID, limit int) ([]*types.Event, error) {
	lock := e.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(e.eventsPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	var events []*types.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var event types.Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, &event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan events file: %w", err)
	}

	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (e *EventStore) Count(_ context.Context, id types.InstanceID) (int64, error) {
	lock := e.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	return e.count(id)
}
