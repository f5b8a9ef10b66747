package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/user/assetlink/internal/types"
)

// WaveSummary is the outcome of one cooked work node.
type WaveSummary struct {
	Wave    types.WaveID `json:"wave"`
	Target  string       `json:"target"`
	Success bool         `json:"success"`
	Cooked  int          `json:"cooked"`
	Failed  int          `json:"failed"`
	Baked   int          `json:"baked"`
	Error   string       `json:"error,omitempty"`
}

// Report is what one job run produced.
type Report struct {
	Run       types.RunID        `json:"run"`
	Job       string             `json:"job"`
	Asset     string             `json:"asset"`
	Instance  types.InstanceID   `json:"instance,omitempty"`
	Outputs   int                `json:"outputs"`
	Bakes     []types.BakeRecord `json:"bakes,omitempty"`
	Waves     []WaveSummary      `json:"waves,omitempty"`
	Warnings  []string           `json:"warnings,omitempty"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at"`
	Error     string             `json:"error,omitempty"`
}

// Success is true when the cook, every bake and every wave succeeded.
func (r *Report) Success() bool {
	if r.Error != "" {
		return false
	}
	for _, b := range r.Bakes {
		if !b.Success {
			return false
		}
	}
	for _, w := range r.Waves {
		if !w.Success {
			return false
		}
	}
	return true
}

func (r *Report) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Summary renders the report as a short plain-text message.
func (r *Report) Summary() string {
	var b strings.Builder
	status := "ok"
	if !r.Success() {
		status = "FAILED"
	}
	fmt.Fprintf(&b, "job %s (%s): %s in %s\n", r.Job, r.Asset, status, r.Duration().Round(time.Millisecond))
	if r.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", r.Error)
	}
	fmt.Fprintf(&b, "outputs: %d\n", r.Outputs)
	baked := 0
	for _, bk := range r.Bakes {
		if bk.Success {
			baked++
		}
	}
	if len(r.Bakes) > 0 {
		fmt.Fprintf(&b, "baked: %d/%d\n", baked, len(r.Bakes))
	}
	for _, w := range r.Waves {
		fmt.Fprintf(&b, "wave %s: cooked %d, failed %d, baked %d\n", w.Target, w.Cooked, w.Failed, w.Baked)
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", warn)
	}
	return strings.TrimRight(b.String(), "\n")
}
