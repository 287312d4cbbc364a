package tracker

import (
	"context"
	"sort"
	"sync"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/castgate/castgate/internal/pkg/jobs"
	"github.com/castgate/castgate/internal/pkg/studio/api"
)

// Backend provides the authoritative job state
type Backend interface {
	ListActive(ctx context.Context, owner string) ([]api.JobInfo, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
}

// Journal mirrors record changes into durable storage.
// Journal failures never block tracking.
type Journal interface {
	InsertJob(ctx context.Context, rec *jobs.Record) error
	UpdateJob(ctx context.Context, rec *jobs.Record) error
}

// Tracker maintains the reactive set of jobs per owner and mediates cancellation
type Tracker struct {
	lock    *sync.RWMutex
	backend Backend
	journal Journal
	nowMs   func() int64

	records    map[string]*jobs.Record
	ownerJobs  map[string][]string
	recovering map[string]bool
	recovered  map[string]bool

	activeWatchers []func(bool)
	updateWatchers []func(jobs.Record)
	wasActive      bool
}

// Option configures the tracker
type Option func(*Tracker)

// WithJournal sets the write-behind journal
func WithJournal(j Journal) Option {
	return func(t *Tracker) { t.journal = j }
}

// New creates a tracker
func New(backend Backend, opts ...Option) *Tracker {
	res := &Tracker{lock: &sync.RWMutex{}, backend: backend, nowMs: jobs.NowMs,
		records: map[string]*jobs.Record{}, ownerJobs: map[string][]string{},
		recovering: map[string]bool{}, recovered: map[string]bool{}}
	for _, o := range opts {
		o(res)
	}
	return res
}

// Create registers a new record in the tracked set
func (t *Tracker) Create(ctx context.Context, rec *jobs.Record) {
	t.lock.Lock()
	if _, found := t.records[rec.ID]; found {
		t.lock.Unlock()
		return
	}
	t.insertNoSync(rec)
	snapshot := *rec
	t.lock.Unlock()

	t.journalInsert(ctx, &snapshot)
	t.notify(snapshot)
}

// Get returns a snapshot of the record
func (t *Tracker) Get(id string) (jobs.Record, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()
	rec, found := t.records[id]
	if !found {
		return jobs.Record{}, false
	}
	return *rec, true
}

// ListActive returns the owner's queued/processing jobs, oldest first
func (t *Tracker) ListActive(owner string) []jobs.Record {
	t.lock.RLock()
	defer t.lock.RUnlock()
	res := []jobs.Record{}
	for _, id := range t.ownerJobs[owner] {
		if rec, found := t.records[id]; found && rec.Active() {
			res = append(res, *rec)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt < res[j].CreatedAt })
	return res
}

// Recovering reports whether the owner's recovery query is still outstanding
func (t *Tracker) Recovering(owner string) bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.recovering[owner]
}

// Recover seeds local state from the backend's non-terminal jobs of the owner.
// The first call per owner performs the query, later calls are no-ops.
// A failed query is absorbed as "no active jobs found".
func (t *Tracker) Recover(ctx context.Context, owner string) {
	t.lock.Lock()
	if t.recovered[owner] || t.recovering[owner] {
		t.lock.Unlock()
		return
	}
	t.recovering[owner] = true
	t.lock.Unlock()

	list, err := t.backend.ListActive(ctx, owner)
	if err != nil {
		goapp.Log.Warn().Err(err).Msg("recovery query failed")
		list = nil
	}

	var seeded []jobs.Record
	t.lock.Lock()
	t.recovering[owner] = false
	t.recovered[owner] = true
	for i := range list {
		ji := &list[i]
		if _, found := t.records[ji.ID]; found {
			continue
		}
		rec := fromJobInfo(owner, ji)
		t.insertNoSync(rec)
		seeded = append(seeded, *rec)
	}
	t.lock.Unlock()

	for i := range seeded {
		t.notify(seeded[i])
	}
}

// ApplyUpdate merges a progress/stage/status update into the record.
// Monotonicity and terminal absorption are enforced by the record itself.
// Returns false if the job is unknown or nothing changed.
func (t *Tracker) ApplyUpdate(ctx context.Context, id string, u jobs.Update) bool {
	t.lock.Lock()
	rec, found := t.records[id]
	if !found {
		t.lock.Unlock()
		return false
	}
	changed := rec.Merge(u, t.nowMs())
	snapshot := *rec
	t.lock.Unlock()

	if !changed {
		return false
	}
	t.journalUpdate(ctx, &snapshot)
	t.notify(snapshot)
	return true
}

// Complete marks the job done with full progress
func (t *Tracker) Complete(ctx context.Context, id string, metadata map[string]string) bool {
	st, pr := jobs.Completed, 100
	stage := jobs.Done
	return t.ApplyUpdate(ctx, id, jobs.Update{Status: &st, Stage: &stage, Progress: &pr, Metadata: metadata})
}

// Fail marks the job failed with a message
func (t *Tracker) Fail(ctx context.Context, id, errMsg string) bool {
	st := jobs.Failed
	return t.ApplyUpdate(ctx, id, jobs.Update{Status: &st, ErrorMessage: errMsg})
}

// Cancel requests cancellation from the backend and applies the
// acknowledged transition. Never panics or throws: returns false on any
// trouble so callers can present a soft failure. Cancelling an already
// terminal or unknown job is a no-op returning false. Only the job's
// owner may cancel, a mismatched owner is refused before the backend
// call.
func (t *Tracker) Cancel(ctx context.Context, owner, id string) bool {
	rec, found := t.Get(id)
	if !found || rec.Status.Terminal() {
		return false
	}
	if rec.OwnerID != owner {
		goapp.Log.Warn().Str("ID", id).Str("owner", owner).Msg("cancel refused, not the job owner")
		return false
	}
	ok, err := t.backend.Cancel(ctx, id)
	if err != nil {
		goapp.Log.Warn().Err(err).Str("ID", id).Msg("cancel failed")
		return false
	}
	if !ok {
		return false
	}
	st := jobs.Cancelled
	return t.ApplyUpdate(ctx, id, jobs.Update{Status: &st})
}

// Detach drops the record from the local set without a terminal transition.
// Used on poll give-up: the backend may legitimately still be working, a
// later recovery will re-seed the job if it is.
func (t *Tracker) Detach(id string) {
	t.lock.Lock()
	rec, found := t.records[id]
	if found {
		delete(t.records, id)
		t.ownerJobs[rec.OwnerID] = removeID(t.ownerJobs[rec.OwnerID], id)
	}
	t.lock.Unlock()
	if found {
		t.notifyActive()
	}
}

// HasActive reports whether any owner has a queued/processing job
func (t *Tracker) HasActive() bool {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return t.hasActiveNoSync()
}

// SubscribeActive registers a watcher called on every active-state flip.
// Returns an unsubscribe func.
func (t *Tracker) SubscribeActive(f func(active bool)) func() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.activeWatchers = append(t.activeWatchers, f)
	i := len(t.activeWatchers) - 1
	return func() {
		t.lock.Lock()
		defer t.lock.Unlock()
		t.activeWatchers[i] = nil
	}
}

// SubscribeUpdates registers a watcher receiving every record change
func (t *Tracker) SubscribeUpdates(f func(rec jobs.Record)) func() {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.updateWatchers = append(t.updateWatchers, f)
	i := len(t.updateWatchers) - 1
	return func() {
		t.lock.Lock()
		defer t.lock.Unlock()
		t.updateWatchers[i] = nil
	}
}

// CleanupOld drops terminal records older than cutoffMs, returns count removed
func (t *Tracker) CleanupOld(cutoffMs int64) int {
	t.lock.Lock()
	defer t.lock.Unlock()
	res := 0
	for id, rec := range t.records {
		if rec.Status.Terminal() && rec.CreatedAt < cutoffMs {
			delete(t.records, id)
			t.ownerJobs[rec.OwnerID] = removeID(t.ownerJobs[rec.OwnerID], id)
			res++
		}
	}
	return res
}

func (t *Tracker) insertNoSync(rec *jobs.Record) {
	t.records[rec.ID] = rec
	t.ownerJobs[rec.OwnerID] = append(t.ownerJobs[rec.OwnerID], rec.ID)
}

func (t *Tracker) hasActiveNoSync() bool {
	for _, rec := range t.records {
		if rec.Active() {
			return true
		}
	}
	return false
}

func (t *Tracker) notify(rec jobs.Record) {
	t.lock.RLock()
	ws := append([]func(jobs.Record){}, t.updateWatchers...)
	t.lock.RUnlock()
	for _, w := range ws {
		if w != nil {
			w(rec)
		}
	}
	t.notifyActive()
}

func (t *Tracker) notifyActive() {
	t.lock.Lock()
	active := t.hasActiveNoSync()
	if active == t.wasActive {
		t.lock.Unlock()
		return
	}
	t.wasActive = active
	ws := append([]func(bool){}, t.activeWatchers...)
	t.lock.Unlock()
	for _, w := range ws {
		if w != nil {
			w(active)
		}
	}
}

func (t *Tracker) journalInsert(ctx context.Context, rec *jobs.Record) {
	if t.journal == nil {
		return
	}
	if err := t.journal.InsertJob(ctx, rec); err != nil {
		goapp.Log.Warn().Err(err).Str("ID", rec.ID).Msg("can't journal job")
	}
}

func (t *Tracker) journalUpdate(ctx context.Context, rec *jobs.Record) {
	if t.journal == nil {
		return
	}
	if err := t.journal.UpdateJob(ctx, rec); err != nil {
		goapp.Log.Warn().Err(err).Str("ID", rec.ID).Msg("can't journal job update")
	}
}

func fromJobInfo(owner string, ji *api.JobInfo) *jobs.Record {
	rec := jobs.NewRecord(ji.ID, owner, ji.SourceName, ji.ContainerID)
	if ji.CreatedAt > 0 {
		rec.CreatedAt = ji.CreatedAt
	}
	if st := jobs.StatusFrom(ji.Status); st != 0 {
		rec.Status = st
	}
	if sg := jobs.StageFrom(ji.Stage); sg != 0 {
		rec.Stage = sg
	}
	if ji.Progress > rec.Progress {
		rec.Progress = ji.Progress
	}
	rec.ErrorMessage = ji.Error
	return rec
}

func removeID(ids []string, id string) []string {
	res := ids[:0]
	for _, v := range ids {
		if v != id {
			res = append(res, v)
		}
	}
	return res
}
