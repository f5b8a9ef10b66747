// internal/state/artifact.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/user/assetlink/internal/bake"
	"github.com/user/assetlink/internal/types"
)

// artifactFile is the on-disk format: {"meta": ..., "data": <base64>}.
type artifactFile struct {
	Meta *types.ArtifactMeta `json:"meta"`
	Data []byte              `json:"data"`
}

// ArtifactStore holds cooked proxy and work item payloads, one JSON file per
// artifact at instances/<instanceID>/artifacts/<artifactID>.json.
type ArtifactStore struct {
	root string
}

func NewArtifactStore(root string) *ArtifactStore {
	return &ArtifactStore{root: root}
}

func (a *ArtifactStore) instanceDir(instanceID types.InstanceID) string {
	return filepath.Join(a.root, "instances", string(instanceID))
}

func (a *ArtifactStore) artifactPath(instanceID types.InstanceID, id types.ArtifactID) string {
	return filepath.Join(a.instanceDir(instanceID), "artifacts", string(id)+".json")
}

// find locates an artifact by ID across all instances.
func (a *ArtifactStore) find(id types.ArtifactID) (string, error) {
	pattern := filepath.Join(a.root, "instances", "*", "artifacts", string(id)+".json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("glob artifact: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("artifact not found: %s", id)
	}
	return matches[0], nil
}

func (a *ArtifactStore) read(id types.ArtifactID) (*artifactFile, error) {
	path, err := a.find(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact file: %w", err)
	}
	var f artifactFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal artifact: %w", err)
	}
	return &f, nil
}

// Put stores data under meta.InstanceID and returns the artifact ID. An ID
// is minted when meta carries none. Nothing is written once ctx is done.
func (a *ArtifactStore) Put(ctx context.Context, meta types.ArtifactMeta, data []byte) (types.ArtifactID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if meta.InstanceID == "" {
		return "", fmt.Errorf("artifact without instance")
	}
	if meta.ID == "" {
		meta.ID = types.NewArtifactID()
	}
	meta.Size = len(data)

	content, err := json.Marshal(&artifactFile{Meta: &meta, Data: data})
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}
	target := a.artifactPath(meta.InstanceID, meta.ID)
	if err := writeAtomic(target, content); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return meta.ID, nil
}

func (a *ArtifactStore) Get(_ context.Context, id types.ArtifactID) ([]byte, error) {
	f, err := a.read(id)
	if err != nil {
		return nil, err
	}
	return f.Data, nil
}

func (a *ArtifactStore) GetMeta(_ context.Context, id types.ArtifactID) (*types.ArtifactMeta, error) {
	f, err := a.read(id)
	if err != nil {
		return nil, err
	}
	return f.Meta, nil
}

// Source returns a bake source reading the artifact lazily.
func (a *ArtifactStore) Source(id types.ArtifactID) bake.Source {
	return bake.Artifact{Store: a, ID: id}
}

// DeleteInstance removes every artifact of an instance. The journal and
// index entries next to them are kept.
func (a *ArtifactStore) DeleteInstance(_ context.Context, instanceID types.InstanceID) error {
	dir := filepath.Join(a.instanceDir(instanceID), "artifacts")
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove artifacts: %w", err)
	}
	return nil
}

// writeAtomic writes via temp file + rename so readers never see a partial
// file.
func writeAtomic(target string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
