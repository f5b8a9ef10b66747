package asset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/assetlink/internal/bake"
	"github.com/user/assetlink/internal/engine"
	"github.com/user/assetlink/internal/events"
	"github.com/user/assetlink/internal/outputs"
	"github.com/user/assetlink/internal/types"
	"github.com/user/assetlink/internal/workgraph"
)

// memoryArtifacts is the artifact store used when none is configured.
type memoryArtifacts struct {
	mu   sync.RWMutex
	data map[types.ArtifactID][]byte
	meta map[types.ArtifactID]types.ArtifactMeta
}

func newMemoryArtifacts() *memoryArtifacts {
	return &memoryArtifacts{
		data: make(map[types.ArtifactID][]byte),
		meta: make(map[types.ArtifactID]types.ArtifactMeta),
	}
}

func (m *memoryArtifacts) Put(ctx context.Context, meta types.ArtifactMeta, data []byte) (types.ArtifactID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if meta.ID == "" {
		meta.ID = types.NewArtifactID()
	}
	meta.Size = len(data)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[meta.ID] = append([]byte(nil), data...)
	m.meta[meta.ID] = meta
	return meta.ID, nil
}

func (m *memoryArtifacts) Get(ctx context.Context, id types.ArtifactID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[id]
	if !ok {
		return nil, fmt.Errorf("artifact not found: %s", id)
	}
	return append([]byte(nil), data...), nil
}

func (m *memoryArtifacts) GetMeta(ctx context.Context, id types.ArtifactID) (*types.ArtifactMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.meta[id]
	if !ok {
		return nil, fmt.Errorf("artifact not found: %s", id)
	}
	return &meta, nil
}

func (m *memoryArtifacts) DeleteInstance(ctx context.Context, instanceID types.InstanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, meta := range m.meta {
		if meta.InstanceID == instanceID {
			delete(m.meta, id)
			delete(m.data, id)
		}
	}
	return nil
}

// journalRecorder appends dispatched events to the instance journal.
type journalRecorder struct{ i *Instance }

func (r journalRecorder) Record(ev events.Event) {
	rec := &types.Event{
		ID:         types.NewEventID(),
		InstanceID: ev.Instance,
		Type:       string(ev.Kind),
		Asset:      ev.Asset,
		At:         time.Now(),
		Success:    ev.Success,
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}
	if ev.Detail != nil {
		rec.Payload = types.Payload(ev.Detail)
	}
	if err := r.i.journal.Append(context.Background(), rec); err != nil {
		slog.Warn("journal event failed", "instance_id", ev.Instance, "kind", ev.Kind, "error", err)
	}
}

// objectBaker bakes output objects to resolved paths.
type objectBaker struct{ i *Instance }

func (b objectBaker) BakeObject(ctx context.Context, index int, typ outputs.Type, obj outputs.Object) (outputs.ArtifactRef, error) {
	id := obj.Identifier
	target, err := b.i.paths.ObjectPath(b.i.def.Name, id.ObjectID, id.GeoID, id.PartID, id.Split)
	if err != nil {
		return outputs.ArtifactRef{}, err
	}
	var src bake.Source
	switch {
	case obj.Ref.Artifact != "":
		src = bake.Artifact{Store: b.i.artifacts, ID: obj.Ref.Artifact}
	case obj.Ref.Path != "":
		src = bake.File(obj.Ref.Path)
	default:
		return outputs.ArtifactRef{}, fmt.Errorf("output %d object %s has no artifact", index, id)
	}
	res, err := b.i.baker.Bake(ctx, src, target)
	if err != nil {
		return outputs.ArtifactRef{}, err
	}
	slog.Info("object baked", "instance_id", b.i.id, "output", index, "type", typ, "identifier", id.String(), "target", res.Target, "replaced", res.Replaced)
	return outputs.ArtifactRef{Artifact: obj.Ref.Artifact, Path: res.Target}, nil
}

// itemCooker cooks work items through the engine. It runs off the lane.
type itemCooker struct{ i *Instance }

func (c itemCooker) CookItem(ctx context.Context, it workgraph.Item) (workgraph.Result, error) {
	i := c.i
	if !i.track() {
		return workgraph.Result{}, fmt.Errorf("%w: instance %s is deleted", types.ErrInvalidState, i.id)
	}
	defer i.workers.Done()
	i.mu.Lock()
	node := i.node
	i.mu.Unlock()
	if node == "" {
		return workgraph.Result{}, fmt.Errorf("%w: instance %s has no engine node", types.ErrInvalidState, i.id)
	}
	res, err := i.eng.CookWorkItem(ctx, engine.WorkItemRequest{
		Node:     node,
		Asset:    i.def.Name,
		Network:  it.Network,
		WorkNode: it.Node,
		Index:    it.Index,
	})
	if err != nil {
		return workgraph.Result{}, err
	}
	if err := i.writable(ctx); err != nil {
		return workgraph.Result{}, err
	}
	art, err := i.artifacts.Put(ctx, types.ArtifactMeta{
		InstanceID:  i.id,
		Asset:       i.def.Name,
		OutputIndex: -1,
		Identifier:  res.Name,
		WorkItem:    it.ID,
		CreatedAt:   time.Now(),
		Size:        len(res.Payload),
	}, res.Payload)
	if err != nil {
		return workgraph.Result{}, fmt.Errorf("store work item %s: %w", res.Name, err)
	}
	return workgraph.Result{Name: res.Name, Artifact: art}, nil
}

// itemBaker bakes cooked work items. It runs off the lane.
type itemBaker struct{ i *Instance }

func (b itemBaker) BakeItem(ctx context.Context, it workgraph.Item) (string, error) {
	target, err := b.i.paths.WorkItemPath(b.i.def.Name, it.Network, it.Node, it.Index, 0, "")
	if err != nil {
		return "", err
	}
	res, err := b.i.baker.Bake(ctx, bake.Artifact{Store: b.i.artifacts, ID: it.Artifact}, target)
	if err != nil {
		return "", err
	}
	return res.Target, nil
}
