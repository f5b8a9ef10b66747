// internal/scheduler/scheduler_test.go
package scheduler

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/assetlink/internal/state"
)

func newStore(t *testing.T, jobs ...*state.Job) *state.JobStore {
	t.Helper()
	store := state.NewJobStore(filepath.Join(t.TempDir(), "jobs.json"))
	for _, job := range jobs {
		if err := store.Add(job); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func TestSchedulerFiresJob(t *testing.T) {
	store := newStore(t, &state.Job{
		Name:     "every-second",
		Asset:    "rock_gen",
		Schedule: "* * * * * *",
		Enabled:  true,
	})

	fired := make(chan string, 4)
	sched := New(store, func(job *state.Job) {
		select {
		case fired <- job.Name:
		default:
		}
	})
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	select {
	case name := <-fired:
		if name != "every-second" {
			t.Errorf("expected every-second, got %s", name)
		}
	case <-time.After(2500 * time.Millisecond):
		t.Fatal("handler did not fire within 2.5s")
	}
}

func TestSchedulerSkipsDisabledAndUnscheduled(t *testing.T) {
	store := newStore(t,
		&state.Job{Name: "disabled", Asset: "rock_gen", Schedule: "* * * * * *", Enabled: false},
		&state.Job{Name: "manual", Asset: "rock_gen", Enabled: true},
		&state.Job{Name: "broken", Asset: "rock_gen", Schedule: "not a schedule", Enabled: true},
	)

	var fires atomic.Int32
	sched := New(store, func(*state.Job) { fires.Add(1) })
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	if n := len(sched.Scheduled()); n != 0 {
		t.Errorf("expected no registered jobs, got %d", n)
	}
	time.Sleep(1500 * time.Millisecond)
	if n := fires.Load(); n != 0 {
		t.Errorf("expected 0 fires, got %d", n)
	}
}

func TestSchedulerReload(t *testing.T) {
	store := newStore(t, &state.Job{Name: "nightly", Asset: "rock_gen", Schedule: "0 3 * * *", Enabled: true})
	sched := New(store, func(*state.Job) {})
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()
	if got := sched.Scheduled(); len(got) != 1 || got[0] != "nightly" {
		t.Fatalf("expected nightly registered, got %v", got)
	}

	if err := store.SetEnabled("nightly", false); err != nil {
		t.Fatal(err)
	}
	if err := sched.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := sched.Scheduled(); len(got) != 0 {
		t.Errorf("expected nothing registered after reload, got %v", got)
	}
}

func TestValidate(t *testing.T) {
	for _, ok := range []string{"*/5 * * * *", "0 0 3 * * *", "@hourly"} {
		if err := Validate(ok); err != nil {
			t.Errorf("expected %q to parse: %v", ok, err)
		}
	}
	if err := Validate("every tuesday"); err == nil {
		t.Error("expected an error for a bad schedule")
	}
}
