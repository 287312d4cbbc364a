package jobs

import "strings"

// Status represents job lifecycle status
type Status int

const (
	// Queued - job is registered but no progress confirmed yet
	Queued Status = iota + 1
	// Processing - backend confirmed work is ongoing
	Processing
	// Completed - final state
	Completed
	// Failed - final state
	Failed
	// Cancelled - final state
	Cancelled
)

var (
	statusName = map[Status]string{Queued: "queued", Processing: "processing",
		Completed: "completed", Failed: "failed", Cancelled: "cancelled"}
	nameStatus = map[string]Status{"queued": Queued, "processing": Processing,
		"completed": Completed, "failed": Failed, "cancelled": Cancelled}
)

func (st Status) String() string {
	return statusName[st]
}

// StatusFrom returns status obj from string
func StatusFrom(st string) Status {
	return nameStatus[st]
}

// MarshalJSON implements json.Marshaler
func (st Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + st.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (st *Status) UnmarshalJSON(b []byte) error {
	*st = StatusFrom(strings.Trim(string(b), `"`))
	return nil
}

// Terminal returns true for absorbing statuses
func (st Status) Terminal() bool {
	return st == Completed || st == Failed || st == Cancelled
}

// Stage represents the fine-grained phase within processing
type Stage int

const (
	// Uploading stage
	Uploading Stage = iota + 1
	// Downloading stage - URL ingest only
	Downloading
	// Transcribing stage
	Transcribing
	// Generating stage
	Generating
	// Saving stage
	Saving
	// Done - last stage
	Done
)

var (
	stageName = map[Stage]string{Uploading: "uploading", Downloading: "downloading",
		Transcribing: "transcribing", Generating: "generating", Saving: "saving", Done: "completed"}
	nameStage = map[string]Stage{"uploading": Uploading, "downloading": Downloading,
		"transcribing": Transcribing, "generating": Generating, "saving": Saving, "completed": Done}
)

func (st Stage) String() string {
	return stageName[st]
}

// StageFrom returns stage obj from string
func StageFrom(st string) Stage {
	return nameStage[st]
}

// MarshalJSON implements json.Marshaler
func (st Stage) MarshalJSON() ([]byte, error) {
	return []byte(`"` + st.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (st *Stage) UnmarshalJSON(b []byte) error {
	*st = StageFrom(strings.Trim(string(b), `"`))
	return nil
}

// Before returns true if st comes strictly earlier in the fixed stage order.
// Stages may be skipped forward, never entered backwards.
func (st Stage) Before(other Stage) bool {
	return st < other
}
