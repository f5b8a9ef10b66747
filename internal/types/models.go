package types

import (
	"encoding/json"
	"time"
)

// Event is one journaled lifecycle occurrence of an asset instance.
type Event struct {
	ID         EventID         `json:"id"`
	InstanceID InstanceID      `json:"instance_id"`
	Seq        int64           `json:"seq"`
	Type       string          `json:"type"`
	Asset      string          `json:"asset"`
	At         time.Time       `json:"at"`
	Success    bool            `json:"success"`
	Error      string          `json:"error,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// ArtifactMeta describes a cooked (proxy or work item) artifact held in the
// temporary artifact store.
type ArtifactMeta struct {
	ID          ArtifactID `json:"id"`
	InstanceID  InstanceID `json:"instance_id"`
	Asset       string     `json:"asset"`
	OutputIndex int        `json:"output_index"`
	Identifier  string     `json:"identifier,omitempty"`
	WorkItem    WorkItemID `json:"work_item,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	Size        int        `json:"size"`
}

// BakeRecord is what a job report carries per baked object.
type BakeRecord struct {
	OutputIndex int    `json:"output_index"`
	Identifier  string `json:"identifier"`
	Target      string `json:"target,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

// InstanceRecord is the index entry of one asset instance.
type InstanceRecord struct {
	ID        InstanceID `json:"id"`
	Asset     string     `json:"asset"`
	Label     string     `json:"label,omitempty"`
	Job       string     `json:"job,omitempty"`
	State     string     `json:"state"`
	Node      string     `json:"node,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
