// Package state provides filesystem-backed storage implementations.
package state

import "github.com/user/assetlink/internal/types"

// Compile-time interface compliance checks.
var _ types.InstanceStore = (*InstanceStore)(nil)
var _ types.EventStore = (*EventStore)(nil)
var _ types.ArtifactStore = (*ArtifactStore)(nil)
