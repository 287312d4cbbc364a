package jobs

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record represents one tracked asynchronous backend operation
type Record struct {
	ID           string            `json:"jobId"`
	OwnerID      string            `json:"ownerId"`
	SourceName   string            `json:"sourceName"`
	ContainerID  string            `json:"containerId,omitempty"`
	Status       Status            `json:"status"`
	Stage        Stage             `json:"stage"`
	Progress     int               `json:"progressPercent"`
	CreatedAt    int64             `json:"createdAt"`
	UpdatedAt    int64             `json:"updatedAt"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Update is a partial change merged into a record.
// Nil fields are left untouched.
type Update struct {
	Status       *Status
	Stage        *Stage
	Progress     *int
	ErrorMessage string
	Metadata     map[string]string
}

// NewRecord creates a queued record with timestamps in ms
func NewRecord(id, owner, sourceName, containerID string) *Record {
	now := NowMs()
	if id == "" {
		id = NewLocalID(owner)
	}
	return &Record{ID: id, OwnerID: owner, SourceName: sourceName, ContainerID: containerID,
		Status: Queued, Stage: Uploading, CreatedAt: now, UpdatedAt: now,
		Metadata: map[string]string{}}
}

// NewLocalID synthesizes a job id when the backend supplies none,
// combining a timestamp with the owner id
func NewLocalID(owner string) string {
	return fmt.Sprintf("job_%d_%s_%s", time.Now().Unix(), owner, uuid.New().String()[:8])
}

// NowMs returns current time in ms since epoch
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// Active returns true for statuses visible in the active jobs list
func (r *Record) Active() bool {
	return r.Status == Queued || r.Status == Processing
}

// Merge applies u to the record enforcing the state machine invariants:
// terminal statuses are absorbing, progress never decreases,
// stage never regresses. Returns false if nothing was changed.
func (r *Record) Merge(u Update, nowMs int64) bool {
	if r.Status.Terminal() {
		return false
	}
	changed := false
	if u.Status != nil && *u.Status != r.Status && allowedStatus(r.Status, *u.Status) {
		r.Status = *u.Status
		changed = true
	}
	if u.Stage != nil && r.Stage.Before(*u.Stage) {
		r.Stage = *u.Stage
		changed = true
	}
	if u.Progress != nil && *u.Progress > r.Progress {
		r.Progress = clampPercent(*u.Progress)
		changed = true
	}
	if u.ErrorMessage != "" && r.Status == Failed {
		r.ErrorMessage = u.ErrorMessage
		changed = true
	}
	for k, v := range u.Metadata {
		if r.Metadata == nil {
			r.Metadata = map[string]string{}
		}
		r.Metadata[k] = v
		changed = true
	}
	if changed {
		r.UpdatedAt = nowMs
	}
	return changed
}

func allowedStatus(from, to Status) bool {
	switch from {
	case Queued:
		return to == Processing || to.Terminal()
	case Processing:
		return to.Terminal()
	}
	return false
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
