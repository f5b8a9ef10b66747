package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/assetlink/internal/runner"
	"github.com/user/assetlink/internal/state"
	"github.com/user/assetlink/internal/types"
)

type fakeSubmitter struct {
	last   *state.Job
	source string
	err    error
}

func (f *fakeSubmitter) Submit(job *state.Job, source string, onComplete func(*runner.Report)) (*runner.Request, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.last = job
	f.source = source
	req := runner.NewRequest(job, source)
	onComplete(&runner.Report{Run: req.ID, Job: job.Name, Asset: job.Asset})
	return req, nil
}

type fixture struct {
	srv      *Server
	sub      *fakeSubmitter
	notified []string
	events   *state.EventStore
	index    *state.InstanceStore
}

func setup(t *testing.T, jobs ...*state.Job) *fixture {
	t.Helper()
	dir := t.TempDir()
	store := state.NewJobStore(filepath.Join(dir, "jobs.json"))
	for _, job := range jobs {
		if err := store.Add(job); err != nil {
			t.Fatal(err)
		}
	}
	f := &fixture{
		sub:    &fakeSubmitter{},
		events: state.NewEventStore(dir),
		index:  state.NewInstanceStore(dir),
	}
	notify := func(job *state.Job, rep *runner.Report) {
		f.notified = append(f.notified, job.Name)
	}
	f.srv = NewServer(store, f.sub, notify, f.index, f.events)
	return f
}

func do(srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	f := setup(t)
	w := do(f.srv, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestRunJob(t *testing.T) {
	f := setup(t, &state.Job{
		Name:       "rocks",
		Asset:      "rock_gen",
		Parameters: map[string]any{"seed": 1, "scale": 2.0},
		Enabled:    true,
	})

	w := do(f.srv, http.MethodPost, "/jobs/rocks/run", `{"parameters":{"seed":9}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp runResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Job != "rocks" || resp.RunID == "" || resp.Status != runner.StatusQueued {
		t.Errorf("unexpected response %+v", resp)
	}
	if f.sub.source != "webhook" {
		t.Errorf("expected webhook source, got %s", f.sub.source)
	}
	params := f.sub.last.Parameters
	if params["seed"] != float64(9) || params["scale"] != 2.0 {
		t.Errorf("expected merged parameters, got %v", params)
	}
	if len(f.notified) != 1 || f.notified[0] != "rocks" {
		t.Errorf("expected one notification, got %v", f.notified)
	}

	if w := do(f.srv, http.MethodPost, "/jobs/rocks/run", ""); w.Code != http.StatusAccepted {
		t.Errorf("expected 202 without a body, got %d", w.Code)
	}
}

func TestRunJobErrors(t *testing.T) {
	f := setup(t,
		&state.Job{Name: "off", Asset: "rock_gen", Enabled: false},
		&state.Job{Name: "on", Asset: "rock_gen", Enabled: true},
	)

	if w := do(f.srv, http.MethodPost, "/jobs/missing/run", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := do(f.srv, http.MethodPost, "/jobs/off/run", ""); w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	if w := do(f.srv, http.MethodPost, "/jobs/on/run", "{not json"); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	f.sub.err = errors.New("runner not started")
	if w := do(f.srv, http.MethodPost, "/jobs/on/run", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
	if w := do(f.srv, http.MethodGet, "/jobs/on/run", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestListJobs(t *testing.T) {
	f := setup(t, &state.Job{Name: "rocks", Asset: "rock_gen", Enabled: true})
	w := do(f.srv, http.MethodGet, "/jobs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var jobs []state.Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Asset != "rock_gen" {
		t.Errorf("unexpected jobs %+v", jobs)
	}
}

func TestInstanceInspection(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	id := types.NewInstanceID()
	now := time.Now()
	if err := f.index.Put(ctx, &types.InstanceRecord{ID: id, Asset: "rock_gen", State: "idle", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}
	for _, kind := range []string{"pre_instantiation", "post_instantiation", "post_cook"} {
		if err := f.events.Append(ctx, &types.Event{ID: types.NewEventID(), InstanceID: id, Type: kind, At: now, Success: true}); err != nil {
			t.Fatal(err)
		}
	}

	w := do(f.srv, http.MethodGet, "/instances/"+string(id)+"/events?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var evs []types.Event
	if err := json.NewDecoder(w.Body).Decode(&evs); err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 || evs[1].Type != "post_cook" {
		t.Errorf("unexpected events %+v", evs)
	}

	w = do(f.srv, http.MethodGet, "/instances/"+string(id), "")
	var rec types.InstanceRecord
	json.NewDecoder(w.Body).Decode(&rec)
	if w.Code != http.StatusOK || rec.Asset != "rock_gen" {
		t.Errorf("unexpected instance %d %+v", w.Code, rec)
	}

	w = do(f.srv, http.MethodGet, "/instances", "")
	var recs []types.InstanceRecord
	json.NewDecoder(w.Body).Decode(&recs)
	if len(recs) != 1 {
		t.Errorf("expected 1 instance, got %d", len(recs))
	}

	if w := do(f.srv, http.MethodGet, "/instances/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	w = do(f.srv, http.MethodGet, "/instances/"+string(types.NewInstanceID())+"/events", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty list, got %d %s", w.Code, w.Body.String())
	}
}

func TestInspectionNotConfigured(t *testing.T) {
	srv := NewServer(state.NewJobStore(filepath.Join(t.TempDir(), "jobs.json")), &fakeSubmitter{}, nil, nil, nil)
	if w := do(srv, http.MethodGet, "/instances", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}
