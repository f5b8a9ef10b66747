package bake

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/assetlink/internal/types"
)

type mapReader map[types.ArtifactID][]byte

func (m mapReader) Get(ctx context.Context, id types.ArtifactID) ([]byte, error) {
	data, ok := m[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func TestBakeWritesAndReplaces(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "rock", "rock_0_0_0_main.bin")
	e := NewEngine()

	res, err := e.Bake(context.Background(), Data("first"), target)
	if err != nil {
		t.Fatal(err)
	}
	if res.Replaced || res.Size != 5 || res.Target != target {
		t.Errorf("unexpected result %+v", res)
	}

	res, err = e.Bake(context.Background(), Data("second"), target)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Replaced {
		t.Error("expected second bake to report a replacement")
	}
	data, _ := os.ReadFile(target)
	if string(data) != "second" {
		t.Errorf("expected replaced contents, got %q", data)
	}

	entries, _ := os.ReadDir(filepath.Dir(target))
	if len(entries) != 1 {
		t.Errorf("expected no temp files left, got %d entries", len(entries))
	}
}

func TestBakeFromOwnTarget(t *testing.T) {
	target := filepath.Join(t.TempDir(), "out.bin")
	e := NewEngine()
	if _, err := e.Bake(context.Background(), Data("payload"), target); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Bake(context.Background(), File(target), target); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "payload" {
		t.Errorf("expected unchanged contents, got %q", data)
	}
}

func TestBakeFailureLeavesPreviousFile(t *testing.T) {
	target := filepath.Join(t.TempDir(), "out.bin")
	e := NewEngine()
	if _, err := e.Bake(context.Background(), Data("keep"), target); err != nil {
		t.Fatal(err)
	}

	store := mapReader{}
	_, err := e.Bake(context.Background(), Artifact{Store: store, ID: "missing"}, target)
	if !errors.Is(err, types.ErrBake) {
		t.Fatalf("expected ErrBake, got %v", err)
	}
	data, _ := os.ReadFile(target)
	if string(data) != "keep" {
		t.Errorf("expected previous file untouched, got %q", data)
	}

	if _, err := e.Bake(context.Background(), Data("x"), ""); !errors.Is(err, types.ErrBake) {
		t.Errorf("expected ErrBake for empty target, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Bake(ctx, Data("x"), target); !errors.Is(err, types.ErrBake) {
		t.Errorf("expected ErrBake for canceled context, got %v", err)
	}
}

func TestBakeFromArtifact(t *testing.T) {
	target := filepath.Join(t.TempDir(), "a", "b.bin")
	store := mapReader{"art-1": []byte("proxy")}
	res, err := NewEngine().Bake(context.Background(), Artifact{Store: store, ID: "art-1"}, target)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(res.Target)
	if string(data) != "proxy" {
		t.Errorf("expected artifact bytes, got %q", data)
	}
}
