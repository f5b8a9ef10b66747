// internal/state/instance.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/user/assetlink/internal/types"
)

// InstanceStore keeps the index of asset instances in instances/index.json.
// Records survive deletion of the instance so its journal stays reachable.
type InstanceStore struct {
	root string
	mu   sync.RWMutex
}

func NewInstanceStore(root string) *InstanceStore {
	return &InstanceStore{root: root}
}

func (s *InstanceStore) indexPath() string {
	return filepath.Join(s.root, "instances", "index.json")
}

func (s *InstanceStore) load() (map[types.InstanceID]*types.InstanceRecord, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.InstanceID]*types.InstanceRecord), nil
		}
		return nil, fmt.Errorf("read instance index: %w", err)
	}

	var records []*types.InstanceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("unmarshal instance index: %w", err)
	}
	index := make(map[types.InstanceID]*types.InstanceRecord, len(records))
	for _, rec := range records {
		index[rec.ID] = rec
	}
	return index, nil
}

func (s *InstanceStore) save(index map[types.InstanceID]*types.InstanceRecord) error {
	data, err := json.MarshalIndent(sortRecords(index), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal instance index: %w", err)
	}
	if err := writeAtomic(s.indexPath(), data); err != nil {
		return fmt.Errorf("write instance index: %w", err)
	}
	return nil
}

// sortRecords orders records by creation time, then ID.
func sortRecords(index map[types.InstanceID]*types.InstanceRecord) []*types.InstanceRecord {
	out := make([]*types.InstanceRecord, 0, len(index))
	for _, rec := range index {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Put inserts or replaces the record with rec.ID.
func (s *InstanceStore) Put(_ context.Context, rec *types.InstanceRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("instance record without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.load()
	if err != nil {
		return err
	}
	cp := *rec
	index[rec.ID] = &cp
	return s.save(index)
}

func (s *InstanceStore) Get(_ context.Context, id types.InstanceID) (*types.InstanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}
	rec, ok := index[id]
	if !ok {
		return nil, fmt.Errorf("instance not found: %s", id)
	}
	return rec, nil
}

func (s *InstanceStore) List(_ context.Context) ([]*types.InstanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.load()
	if err != nil {
		return nil, err
	}
	return sortRecords(index), nil
}
