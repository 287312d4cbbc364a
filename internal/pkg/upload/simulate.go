package upload

import (
	"context"
	"time"

	"github.com/castgate/castgate/internal/pkg/jobs"
)

// simStep is one segment of the synthesized progress timeline
type simStep struct {
	stage    jobs.Stage
	from, to int
}

// The schedules are a UX estimate only. The backend reports no
// fine-grained progress, so the client ticks through the expected
// stages to show that work is ongoing. Ground truth is always
// re-asserted by the artifact poll, never by these numbers.
var (
	fileSteps = []simStep{
		{stage: jobs.Uploading, from: 0, to: 25},
		{stage: jobs.Transcribing, from: 25, to: 60},
		{stage: jobs.Generating, from: 60, to: 90},
		{stage: jobs.Saving, from: 90, to: 100},
	}
	urlSteps = []simStep{
		{stage: jobs.Downloading, from: 0, to: 25},
		{stage: jobs.Transcribing, from: 25, to: 60},
		{stage: jobs.Generating, from: 60, to: 90},
		{stage: jobs.Saving, from: 90, to: 100},
	}
)

// Simulator advances a cosmetic staged progress timeline for one job
type Simulator struct {
	tracker Tracker
	tick    time.Duration
}

// NewSimulator creates a simulator ticking at interval
func NewSimulator(tracker Tracker, tick time.Duration) *Simulator {
	if tick <= 0 {
		tick = 500 * time.Millisecond
	}
	return &Simulator{tracker: tracker, tick: tick}
}

// Run ticks the job's progress through the scripted timeline until it
// completes, the job turns terminal, or ctx is done. Each tick advances
// one percent. Updates are merged through the tracker, so they can
// never overwrite authoritative terminal state.
func (s *Simulator) Run(ctx context.Context, jobID, method string) {
	steps := fileSteps
	if method == MethodURL {
		steps = urlSteps
	}
	st := jobs.Processing
	s.tracker.ApplyUpdate(ctx, jobID, jobs.Update{Status: &st})
	t := time.NewTicker(s.tick)
	defer t.Stop()
	for _, step := range steps {
		for p := step.from + 1; p <= step.to; p++ {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			rec, found := s.tracker.Get(jobID)
			if !found || rec.Status.Terminal() {
				return
			}
			prg := p
			stage := step.stage
			s.tracker.ApplyUpdate(ctx, jobID, jobs.Update{Stage: &stage, Progress: &prg})
		}
	}
}
