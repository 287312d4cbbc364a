package upload

import (
	"context"
	"fmt"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/castgate/castgate/internal/pkg/jobs"
	"github.com/castgate/castgate/internal/pkg/messages"
	sapi "github.com/castgate/castgate/internal/pkg/studio/api"
	"github.com/pkg/errors"
)

// Default artifact poll parameters
const (
	DefaultGraceDelay  = 5 * time.Second
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 60
)

// Navigator moves the user to the finished artifact
type Navigator interface {
	NavigateTo(owner string, a *sapi.Artifact)
}

// Notifier surfaces non-fatal messages to the user
type Notifier interface {
	Info(owner, msg string)
}

// PollerData keeps data required for poller work
type PollerData struct {
	Tracker   Tracker
	StudioPr  Provider
	Navigator Navigator
	Notifier  Notifier
	MsgSender MsgSender

	GraceDelay  time.Duration
	Interval    time.Duration
	MaxAttempts int
	SimTick     time.Duration
}

// Poller watches for a started operation's artifact with a bounded
// attempt budget, driving the cosmetic progress timeline alongside
type Poller struct {
	data *PollerData
	sim  *Simulator
}

// NewPoller creates a poller
func NewPoller(data *PollerData) (*Poller, error) {
	if err := validatePoller(data); err != nil {
		return nil, err
	}
	if data.GraceDelay <= 0 {
		data.GraceDelay = DefaultGraceDelay
	}
	if data.Interval <= 0 {
		data.Interval = DefaultInterval
	}
	if data.MaxAttempts <= 0 {
		data.MaxAttempts = DefaultMaxAttempts
	}
	return &Poller{data: data, sim: NewSimulator(data.Tracker, data.SimTick)}, nil
}

func validatePoller(data *PollerData) error {
	if data.Tracker == nil {
		return errors.New("no tracker")
	}
	if data.StudioPr == nil {
		return errors.New("no studio provider")
	}
	if data.Navigator == nil {
		return errors.New("no navigator")
	}
	if data.Notifier == nil {
		return errors.New("no notifier")
	}
	if data.MsgSender == nil {
		return errors.New("no msg sender")
	}
	return nil
}

// Run polls the backend for the job's artifact. Found: the user is
// navigated to it immediately and the job completes. Budget exhausted:
// the job detaches to idle with exactly one informational message -
// processing may legitimately still run server-side, this is a
// client-side give-up, not a failure.
func (p *Poller) Run(ctx context.Context, m *messages.PollMessage) error {
	goapp.Log.Info().Str("ID", m.ID).Msg("start artifact poll")
	rec, found := p.data.Tracker.Get(m.ID)
	if !found {
		// a restart dropped the in-memory record, re-seed it
		rec2 := jobs.NewRecord(m.ID, m.OwnerID, m.SourceName, "")
		rec2.Metadata["method"] = m.Method
		p.data.Tracker.Create(ctx, rec2)
		rec = *rec2
	}
	if rec.Status.Terminal() {
		return nil
	}

	simCtx, cancelSim := context.WithCancel(ctx)
	defer cancelSim()
	go p.sim.Run(simCtx, m.ID, m.Method)

	if err := sleepCtx(ctx, p.data.GraceDelay); err != nil {
		return err
	}

	srv := rec.Metadata["studio"]
	for attempt := 1; attempt <= p.data.MaxAttempts; attempt++ {
		rec, found := p.data.Tracker.Get(m.ID)
		if !found || rec.Status.Terminal() {
			goapp.Log.Info().Str("ID", m.ID).Msg("job gone or terminal, stop poll")
			return nil
		}
		a, err := p.getArtifact(ctx, srv, m.ID)
		if err != nil {
			goapp.Log.Warn().Err(err).Str("ID", m.ID).Int("attempt", attempt).Msg("artifact check failed")
		}
		if a != nil {
			return p.finish(ctx, m, a)
		}
		if attempt < p.data.MaxAttempts {
			if err := sleepCtx(ctx, p.data.Interval); err != nil {
				return err
			}
		}
	}
	return p.giveUp(ctx, m)
}

func (p *Poller) getArtifact(ctx context.Context, srv, id string) (*sapi.Artifact, error) {
	studio, _, err := p.data.StudioPr.Get(srv, true)
	if err != nil || studio == nil {
		return nil, fmt.Errorf("no studio backend: %w", err)
	}
	return studio.GetArtifact(ctx, id)
}

func (p *Poller) finish(ctx context.Context, m *messages.PollMessage, a *sapi.Artifact) error {
	goapp.Log.Info().Str("ID", m.ID).Str("artifact", a.ID).Msg("artifact ready")
	p.data.Tracker.Complete(ctx, m.ID, map[string]string{"artifactId": a.ID})
	p.data.Navigator.NavigateTo(m.OwnerID, a)
	if err := p.data.MsgSender.SendMessage(ctx, &amessages.InformMessage{
		QueueMessage: amessages.QueueMessage{ID: m.ID},
		Type:         amessages.InformTypeFinished, At: time.Now()}, messages.Inform); err != nil {
		goapp.Log.Warn().Err(err).Str("ID", m.ID).Msg("can't send inform msg")
	}
	return nil
}

func (p *Poller) giveUp(ctx context.Context, m *messages.PollMessage) error {
	goapp.Log.Info().Str("ID", m.ID).Int("attempts", p.data.MaxAttempts).Msg("poll budget exhausted")
	p.data.Tracker.Detach(m.ID)
	p.data.Notifier.Info(m.OwnerID, "Processing is taking longer than expected. Check your workspace later.")
	if err := p.data.MsgSender.SendMessage(ctx, &amessages.InformMessage{
		QueueMessage: amessages.QueueMessage{ID: m.ID},
		Type:         messages.InformTypeCheckLater, At: time.Now()}, messages.Inform); err != nil {
		goapp.Log.Warn().Err(err).Str("ID", m.ID).Msg("can't send inform msg")
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
