// internal/delivery/registry_test.go
package delivery

import (
	"errors"
	"testing"
)

func TestRegistryDeliver(t *testing.T) {
	reg := NewRegistry(nil)

	var gotTarget, gotMsg string
	reg.Register("test:", func(target, message string) error {
		gotTarget = target
		gotMsg = message
		return nil
	})

	if err := reg.Deliver("test:123", "hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotTarget != "test:123" || gotMsg != "hello" {
		t.Errorf("unexpected delivery %q %q", gotTarget, gotMsg)
	}
}

func TestRegistryNoHandler(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.Deliver("unknown:123", "hello"); err == nil {
		t.Fatal("expected error for unregistered prefix, got nil")
	}
}

func TestRegistryLogHandler(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.Deliver("log:nightly", "rocks: complete"); err != nil {
		t.Fatalf("log delivery failed: %v", err)
	}
}

func TestRegistryLongestPrefix(t *testing.T) {
	reg := NewRegistry(nil)
	var which string
	reg.Register("telegram:", func(string, string) error { which = "all"; return nil })
	reg.Register("telegram:-100", func(string, string) error { which = "groups"; return nil })

	reg.Deliver("telegram:-100555", "x")
	if which != "groups" {
		t.Errorf("expected group handler, got %q", which)
	}
	reg.Deliver("telegram:42", "x")
	if which != "all" {
		t.Errorf("expected default handler, got %q", which)
	}
}

func TestRegistryRetries(t *testing.T) {
	reg := NewRegistry(noSleep(DefaultRetryPolicy()))
	calls := 0
	reg.Register("flaky:", func(string, string) error {
		calls++
		if calls == 1 {
			return errors.New("connection reset by peer")
		}
		return nil
	})
	if err := reg.Deliver("flaky:1", "x"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}
