// Package runner drives asset jobs end to end through the public instance
// API: instantiate, apply parameter overrides, cook, bake, cook work nodes,
// delete.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/assetlink/internal/asset"
	"github.com/user/assetlink/internal/bake"
	"github.com/user/assetlink/internal/engine"
	"github.com/user/assetlink/internal/events"
	"github.com/user/assetlink/internal/library"
	"github.com/user/assetlink/internal/outputs"
	"github.com/user/assetlink/internal/session"
	"github.com/user/assetlink/internal/state"
	"github.com/user/assetlink/internal/types"
	"github.com/user/assetlink/internal/workgraph"
)

// Options wires a Runner to its stores and limits. Nil stores fall back to
// the instance defaults.
type Options struct {
	Artifacts          types.ArtifactStore
	Journal            types.EventStore
	Index              types.InstanceStore
	BakePaths          *bake.PathResolver
	MaxConcurrentCooks int64
	MaxConcurrentJobs  int64
	MaxParallelItems   int64
	ReleaseTimeout     time.Duration
}

type Runner struct {
	sess  *session.Session
	lib   *library.Library
	opts  Options
	cooks *semaphore.Weighted
	Queue *Queue

	ctx    context.Context
	cancel context.CancelFunc
}

func New(sess *session.Session, lib *library.Library, opts Options) *Runner {
	if opts.MaxConcurrentCooks <= 0 {
		opts.MaxConcurrentCooks = 2
	}
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = 2
	}
	if opts.ReleaseTimeout <= 0 {
		opts.ReleaseTimeout = 30 * time.Second
	}
	r := &Runner{
		sess:  sess,
		lib:   lib,
		opts:  opts,
		cooks: semaphore.NewWeighted(opts.MaxConcurrentCooks),
		Queue: NewQueue(opts.MaxConcurrentJobs),
	}
	r.Queue.SetProcessor(r.process)
	return r
}

// Start initialises the runner's context and starts the queue.
func (r *Runner) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.Queue.Start(r.ctx)
}

// Stop cancels in-flight jobs and waits for their lanes to drain.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.Queue.Stop()
}

// Submit queues job. onComplete, if set, receives the report once the run
// finishes, failed or not.
func (r *Runner) Submit(job *state.Job, source string, onComplete func(*Report)) (*Request, error) {
	req := NewRequest(job, source)
	req.OnComplete = onComplete
	if err := r.Queue.Enqueue(req); err != nil {
		return nil, err
	}
	slog.Info("job queued", "run_id", req.ID, "job", job.Name, "source", source)
	return req, nil
}

func (r *Runner) process(req *Request) error {
	now := time.Now()
	req.StartedAt = &now
	req.Status = StatusRunning

	rep, err := r.run(req.Ctx, req.ID, req.Job)

	ended := time.Now()
	req.EndedAt = &ended
	req.Report = rep
	req.Error = err
	if err != nil || !rep.Success() {
		req.Status = StatusFailed
	} else {
		req.Status = StatusComplete
	}
	if req.OnComplete != nil {
		req.OnComplete(rep)
	}
	return err
}

// Run executes job synchronously. The returned error is set when the run
// could not produce outputs at all; bake and wave failures are only recorded
// in the report.
func (r *Runner) Run(ctx context.Context, job *state.Job) (*Report, error) {
	return r.run(ctx, types.NewRunID(), job)
}

func (r *Runner) run(ctx context.Context, id types.RunID, job *state.Job) (rep *Report, err error) {
	rep = &Report{Run: id, Job: job.Name, Asset: job.Asset, StartedAt: time.Now()}
	defer func() {
		rep.EndedAt = time.Now()
		if err != nil {
			rep.Error = err.Error()
		}
		slog.Info("job finished", "run_id", id, "job", job.Name, "success", rep.Success(), "duration", rep.Duration())
	}()

	a, err := r.lib.Get(job.Asset)
	if err != nil {
		return rep, err
	}
	def := a.Definition()

	var (
		inst  *asset.Instance
		ready = make(chan struct{})
		waves = make(chan workgraph.WaveReport, 4)
		mu    sync.Mutex
	)
	warn := func(msg string) {
		mu.Lock()
		defer mu.Unlock()
		rep.Warnings = append(rep.Warnings, msg)
	}

	opts := []asset.Option{
		asset.WithLabel(job.Name),
		asset.WithJob(job.Name),
		asset.WithAutoBake(job.AutoBake),
		asset.WithCookLimiter(r.cooks),
		asset.OnPreInstantiation(func(events.Event) {
			<-ready
			names := make([]string, 0, len(job.Parameters))
			for name := range job.Parameters {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if err := SetParameter(inst, def, name, job.Parameters[name]); err != nil {
					warn(err.Error())
				}
			}
		}),
		asset.OnPostBake(func(ev events.Event) {
			if wr, ok := ev.Detail.(workgraph.WaveReport); ok {
				waves <- wr
			}
		}),
	}
	if r.opts.Artifacts != nil {
		opts = append(opts, asset.WithArtifacts(r.opts.Artifacts))
	}
	if r.opts.Journal != nil {
		opts = append(opts, asset.WithJournal(r.opts.Journal))
	}
	if r.opts.Index != nil {
		opts = append(opts, asset.WithIndex(r.opts.Index))
	}
	if r.opts.BakePaths != nil {
		opts = append(opts, asset.WithBakePaths(r.opts.BakePaths))
	}
	if r.opts.MaxParallelItems > 0 {
		opts = append(opts, asset.WithMaxParallelItems(r.opts.MaxParallelItems))
	}

	inst, err = asset.New(ctx, r.sess, def, engine.Identity(), opts...)
	if err != nil {
		return rep, err
	}
	close(ready)
	rep.Instance = inst.ID()
	defer r.release(inst)

	st, err := inst.Wait(ctx, asset.State.Settled)
	if err != nil {
		return rep, fmt.Errorf("wait for cook: %w", err)
	}
	if st == asset.Failed {
		return rep, inst.Err()
	}
	rep.Outputs, _ = inst.OutputCount()

	rep.Bakes = r.bake(ctx, inst, job)

	for _, wn := range job.WorkNodes {
		ws := WaveSummary{Target: wn.String()}
		wave, err := inst.CookNode(wn.Network, wn.Node)
		if err != nil {
			ws.Error = err.Error()
			rep.Waves = append(rep.Waves, ws)
			continue
		}
		ws.Wave = wave
		wr, err := waitWave(ctx, waves, wave)
		if err != nil {
			ws.Error = err.Error()
			rep.Waves = append(rep.Waves, ws)
			return rep, fmt.Errorf("wait for %s: %w", wn, err)
		}
		ws.Success, ws.Cooked, ws.Failed, ws.Baked = wr.Success, wr.Cooked, wr.Failed, wr.Baked
		rep.Waves = append(rep.Waves, ws)
	}

	return rep, nil
}

func waitWave(ctx context.Context, waves <-chan workgraph.WaveReport, id types.WaveID) (workgraph.WaveReport, error) {
	for {
		select {
		case wr := <-waves:
			if wr.Wave == id {
				return wr, nil
			}
		case <-ctx.Done():
			return workgraph.WaveReport{}, ctx.Err()
		}
	}
}

func (r *Runner) bake(ctx context.Context, inst *asset.Instance, job *state.Job) []types.BakeRecord {
	var results []outputs.BakeResult
	if job.BakeAll {
		results, _ = inst.BakeAllOutputs(ctx)
	} else {
		for _, idx := range job.BakeOutputs {
			ids, err := inst.OutputIdentifiersAt(idx)
			if err != nil {
				results = append(results, outputs.BakeResult{Index: idx, Err: err})
				continue
			}
			for _, oid := range ids {
				res, _ := inst.BakeOutputObjectAt(ctx, idx, oid)
				results = append(results, res)
			}
		}
	}

	records := make([]types.BakeRecord, 0, len(results))
	for _, res := range results {
		rec := types.BakeRecord{
			OutputIndex: res.Index,
			Identifier:  res.Identifier.String(),
			Target:      res.Target,
			Success:     res.Err == nil,
		}
		if res.Err != nil {
			rec.Error = res.Err.Error()
		}
		records = append(records, rec)
	}
	return records
}

func (r *Runner) release(inst *asset.Instance) {
	if err := inst.Delete(); err != nil {
		return
	}
	select {
	case <-inst.Released():
	case <-time.After(r.opts.ReleaseTimeout):
		slog.Warn("instance release timed out", "instance_id", inst.ID())
	}
}
