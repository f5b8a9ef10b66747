package types

import (
	"strings"

	"github.com/google/uuid"
)

type InstanceID string
type WaveID string
type WorkItemID string
type EventID string
type ArtifactID string
type JobKey string

func NewInstanceID() InstanceID {
	return InstanceID(uuid.New().String())
}

func NewWaveID() WaveID {
	return WaveID(uuid.New().String())
}

func NewWorkItemID() WorkItemID {
	return WorkItemID(uuid.New().String())
}

func NewEventID() EventID {
	return EventID(uuid.New().String())
}

func NewArtifactID() ArtifactID {
	return ArtifactID(uuid.New().String())
}

// NewJobKey joins parts into a lane key, e.g. "cron:nightly-rocks".
func NewJobKey(parts ...string) JobKey {
	return JobKey(strings.Join(parts, ":"))
}

type RunID string

func NewRunID() RunID {
	return RunID(uuid.New().String())
}
