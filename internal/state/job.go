// internal/state/job.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// WorkNode names one node of a work network to cook.
type WorkNode struct {
	Network string `json:"network"`
	Node    string `json:"node"`
}

// ParseWorkNode splits "/obj/topnet1/export" into network and node.
func ParseWorkNode(path string) (WorkNode, error) {
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return WorkNode{}, fmt.Errorf("invalid work node path %q", path)
	}
	return WorkNode{Network: path[:i], Node: path[i+1:]}, nil
}

func (w WorkNode) String() string {
	return w.Network + "/" + w.Node
}

// Job is a named asset run that can be triggered on a schedule, via webhook
// or from the CLI.
type Job struct {
	Name       string         `json:"name"`
	Asset      string         `json:"asset"`
	Parameters map[string]any `json:"parameters,omitempty"`
	// BakeAll bakes every output object. Otherwise only BakeOutputs are baked.
	BakeAll     bool       `json:"bake_all,omitempty"`
	BakeOutputs []int      `json:"bake_outputs,omitempty"`
	WorkNodes   []WorkNode `json:"work_nodes,omitempty"`
	AutoBake    bool       `json:"auto_bake,omitempty"`
	Schedule    string     `json:"schedule,omitempty"`
	Notify      string     `json:"notify,omitempty"`
	Enabled     bool       `json:"enabled"`
}

// JobStore is a JSON-file-backed store for jobs.
type JobStore struct {
	path string
	mu   sync.RWMutex
}

func NewJobStore(path string) *JobStore {
	return &JobStore{path: path}
}

func (s *JobStore) Path() string {
	return s.path
}

// List returns all jobs. Returns an empty slice if the file doesn't exist.
func (s *JobStore) List() ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs, err := s.load()
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		return []*Job{}, nil
	}
	return jobs, nil
}

func (s *JobStore) Get(name string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs, err := s.load()
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if job.Name == name {
			return job, nil
		}
	}
	return nil, fmt.Errorf("job not found: %s", name)
}

// Add appends a job. Names are unique.
func (s *JobStore) Add(job *Job) error {
	if job.Name == "" || job.Asset == "" {
		return fmt.Errorf("job needs a name and an asset")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return err
	}
	for _, existing := range jobs {
		if existing.Name == job.Name {
			return fmt.Errorf("job already exists: %s", job.Name)
		}
	}
	jobs = append(jobs, job)
	return s.save(jobs)
}

func (s *JobStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return err
	}
	for i, job := range jobs {
		if job.Name == name {
			jobs = append(jobs[:i], jobs[i+1:]...)
			return s.save(jobs)
		}
	}
	return fmt.Errorf("job not found: %s", name)
}

func (s *JobStore) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.load()
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if job.Name == name {
			job.Enabled = enabled
			return s.save(jobs)
		}
	}
	return fmt.Errorf("job not found: %s", name)
}

// load returns nil if the file doesn't exist.
func (s *JobStore) load() ([]*Job, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read jobs file: %w", err)
	}

	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("unmarshal jobs: %w", err)
	}
	return jobs, nil
}

func (s *JobStore) save(jobs []*Job) error {
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal jobs: %w", err)
	}
	if err := writeAtomic(s.path, data); err != nil {
		return fmt.Errorf("write jobs file: %w", err)
	}
	return nil
}
