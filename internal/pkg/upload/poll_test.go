package upload

import (
	"testing"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/castgate/castgate/internal/pkg/jobs"
	"github.com/castgate/castgate/internal/pkg/messages"
	"github.com/castgate/castgate/internal/pkg/studio"
	sapi "github.com/castgate/castgate/internal/pkg/studio/api"
	"github.com/castgate/castgate/internal/pkg/test"
	"github.com/castgate/castgate/internal/pkg/test/mocks"
	"github.com/castgate/castgate/internal/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type pollTestData struct {
	poller    *Poller
	trk       *tracker.Tracker
	studio    *mocks.Studio
	navigator *mocks.Navigator
	notifier  *mocks.Notifier
	sender    *mocks.Sender
}

func initPoller(t *testing.T, maxAttempts int) *pollTestData {
	t.Helper()
	res := &pollTestData{}
	res.studio = &mocks.Studio{}
	res.navigator = &mocks.Navigator{}
	res.notifier = &mocks.Notifier{}
	res.sender = &mocks.Sender{}
	res.trk = tracker.New(&mocks.Studio{})
	var err error
	res.poller, err = NewPoller(&PollerData{Tracker: res.trk,
		StudioPr: studio.NewSingleProvider(res.studio, "srv"),
		Navigator: res.navigator, Notifier: res.notifier, MsgSender: res.sender,
		GraceDelay: time.Millisecond, Interval: time.Millisecond,
		MaxAttempts: maxAttempts, SimTick: time.Hour})
	require.Nil(t, err)
	return res
}

func (d *pollTestData) createJob(t *testing.T, id string) {
	t.Helper()
	rec := jobs.NewRecord(id, "own", "f.mp3", "cont")
	rec.Metadata["method"] = MethodFile
	d.trk.Create(test.Ctx(t), rec)
}

func TestPoll_found(t *testing.T) {
	d := initPoller(t, 60)
	d.createJob(t, "id1")
	d.studio.On("GetArtifact", mock.Anything, "id1").Return(nil, nil).Times(3)
	d.studio.On("GetArtifact", mock.Anything, "id1").Return(&sapi.Artifact{ID: "art1", URL: "http://olia/art1"}, nil).Once()
	d.navigator.On("NavigateTo", "own", mock.Anything)
	d.sender.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := d.poller.Run(test.Ctx(t), messages.NewPollMessage("id1", "own", "f.mp3", MethodFile))
	require.Nil(t, err)

	rec, found := d.trk.Get("id1")
	require.True(t, found)
	assert.Equal(t, jobs.Completed, rec.Status)
	assert.Equal(t, 100, rec.Progress)
	assert.Equal(t, "art1", rec.Metadata["artifactId"])
	d.navigator.AssertNumberOfCalls(t, "NavigateTo", 1)
	d.notifier.AssertNotCalled(t, "Info", mock.Anything, mock.Anything)
}

func TestPoll_errorsCountAsAttempts(t *testing.T) {
	d := initPoller(t, 60)
	d.createJob(t, "id1")
	d.studio.On("GetArtifact", mock.Anything, "id1").Return(nil, assert.AnError).Times(2)
	d.studio.On("GetArtifact", mock.Anything, "id1").Return(&sapi.Artifact{ID: "art1"}, nil).Once()
	d.navigator.On("NavigateTo", "own", mock.Anything)
	d.sender.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := d.poller.Run(test.Ctx(t), messages.NewPollMessage("id1", "own", "f.mp3", MethodFile))
	require.Nil(t, err)
	d.studio.AssertNumberOfCalls(t, "GetArtifact", 3)
}

func TestPoll_exhausted(t *testing.T) {
	d := initPoller(t, 4)
	d.createJob(t, "id1")
	d.studio.On("GetArtifact", mock.Anything, "id1").Return(nil, nil)
	d.notifier.On("Info", "own", mock.Anything)
	d.sender.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := d.poller.Run(test.Ctx(t), messages.NewPollMessage("id1", "own", "f.mp3", MethodFile))
	require.Nil(t, err)

	// give-up detaches, it does not fail the job
	_, found := d.trk.Get("id1")
	assert.False(t, found)
	d.studio.AssertNumberOfCalls(t, "GetArtifact", 4)
	d.notifier.AssertNumberOfCalls(t, "Info", 1)
	d.navigator.AssertNotCalled(t, "NavigateTo", mock.Anything, mock.Anything)
	im, ok := d.sender.Calls[len(d.sender.Calls)-1].Arguments[1].(*amessages.InformMessage)
	require.True(t, ok)
	assert.Equal(t, messages.InformTypeCheckLater, im.Type)
}

func TestPoll_terminalStops(t *testing.T) {
	d := initPoller(t, 60)
	d.createJob(t, "id1")
	require.True(t, d.trk.Fail(test.Ctx(t), "id1", "olia"))

	err := d.poller.Run(test.Ctx(t), messages.NewPollMessage("id1", "own", "f.mp3", MethodFile))
	require.Nil(t, err)
	d.studio.AssertNotCalled(t, "GetArtifact", mock.Anything, mock.Anything)
}

func TestPoll_reseedsMissing(t *testing.T) {
	d := initPoller(t, 60)
	d.studio.On("GetArtifact", mock.Anything, "id1").Return(&sapi.Artifact{ID: "art1"}, nil)
	d.navigator.On("NavigateTo", "own", mock.Anything)
	d.sender.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	err := d.poller.Run(test.Ctx(t), messages.NewPollMessage("id1", "own", "f.mp3", MethodFile))
	require.Nil(t, err)

	rec, found := d.trk.Get("id1")
	require.True(t, found)
	assert.Equal(t, "own", rec.OwnerID)
	assert.Equal(t, jobs.Completed, rec.Status)
}

func TestNewPoller_fails(t *testing.T) {
	_, err := NewPoller(&PollerData{})
	assert.NotNil(t, err)
}
