package types

import (
	"context"
	"encoding/json"
)

type InstanceStore interface {
	Put(ctx context.Context, rec *InstanceRecord) error
	Get(ctx context.Context, id InstanceID) (*InstanceRecord, error)
	List(ctx context.Context) ([]*InstanceRecord, error)
}

type EventStore interface {
	Append(ctx context.Context, event *Event) error
	Tail(ctx context.Context, instanceID InstanceID, limit int) ([]*Event, error)
	Count(ctx context.Context, instanceID InstanceID) (int64, error)
}

type ArtifactStore interface {
	Put(ctx context.Context, meta ArtifactMeta, data []byte) (ArtifactID, error)
	Get(ctx context.Context, id ArtifactID) ([]byte, error)
	GetMeta(ctx context.Context, id ArtifactID) (*ArtifactMeta, error)
	DeleteInstance(ctx context.Context, instanceID InstanceID) error
}

// Payload marshals v for an Event, ignoring encoding failures the way the
// journal treats payloads as best-effort detail.
func Payload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
