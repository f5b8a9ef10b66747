// Package bake materializes cooked artifacts into persistent files.
package bake

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/user/assetlink/internal/types"
)

// Source produces the bytes a bake writes.
type Source interface {
	Load(ctx context.Context) ([]byte, error)
}

// Data is an in-memory source.
type Data []byte

func (d Data) Load(context.Context) ([]byte, error) { return d, nil }

// File reads a previously baked file. Re-baking from the target itself is
// allowed: the file is read fully before the replacement is written.
type File string

func (f File) Load(context.Context) ([]byte, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("read baked file: %w", err)
	}
	return data, nil
}

// ArtifactReader is the read side of the proxy artifact store.
type ArtifactReader interface {
	Get(ctx context.Context, id types.ArtifactID) ([]byte, error)
}

// Artifact reads a proxy artifact from the store.
type Artifact struct {
	Store ArtifactReader
	ID    types.ArtifactID
}

func (a Artifact) Load(ctx context.Context) ([]byte, error) {
	return a.Store.Get(ctx, a.ID)
}

// Result is the outcome of one bake call.
type Result struct {
	Target   string
	Size     int
	Replaced bool
}

// Engine writes baked artifacts. Writes go to a temp file in the target
// directory and are renamed into place, so a reader sees either the previous
// file or the complete new one.
type Engine struct {
	dirMode  os.FileMode
	fileMode os.FileMode
}

func NewEngine() *Engine {
	return &Engine{dirMode: 0o755, fileMode: 0o644}
}

// Bake writes src to target. A failure wraps ErrBake and leaves any previous
// file at target untouched.
func (e *Engine) Bake(ctx context.Context, src Source, target string) (Result, error) {
	if target == "" {
		return Result{}, fmt.Errorf("%w: empty target path", types.ErrBake)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", types.ErrBake, err)
	}

	data, err := src.Load(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: load source: %v", types.ErrBake, err)
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, e.dirMode); err != nil {
		return Result{}, fmt.Errorf("%w: create bake dir: %v", types.ErrBake, err)
	}

	_, statErr := os.Stat(target)
	replaced := statErr == nil

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return Result{}, fmt.Errorf("%w: create temp file: %v", types.ErrBake, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Result{}, fmt.Errorf("%w: write temp file: %v", types.ErrBake, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Result{}, fmt.Errorf("%w: sync temp file: %v", types.ErrBake, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Result{}, fmt.Errorf("%w: close temp file: %v", types.ErrBake, err)
	}
	if err := os.Chmod(tmpName, e.fileMode); err != nil {
		os.Remove(tmpName)
		return Result{}, fmt.Errorf("%w: chmod temp file: %v", types.ErrBake, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return Result{}, fmt.Errorf("%w: rename into place: %v", types.ErrBake, err)
	}

	slog.Debug("baked artifact", "target", target, "size", len(data), "replaced", replaced)
	return Result{Target: target, Size: len(data), Replaced: replaced}, nil
}
