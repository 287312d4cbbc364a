package upload

import (
	"io"
	"strings"
	"testing"

	"github.com/castgate/castgate/internal/pkg/draft"
	"github.com/castgate/castgate/internal/pkg/messages"
	"github.com/castgate/castgate/internal/pkg/studio"
	"github.com/castgate/castgate/internal/pkg/test"
	"github.com/castgate/castgate/internal/pkg/test/mocks"
	"github.com/castgate/castgate/internal/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testFileWrap struct {
	*strings.Reader
}

func (t *testFileWrap) Close() error { return nil }

func newTestFile(s string) io.ReadSeekCloser {
	return &testFileWrap{Reader: strings.NewReader(s)}
}

type orchTestData struct {
	orch    *Orchestrator
	trk     *tracker.Tracker
	drafts  *draft.Store
	studio  *mocks.Studio
	filer   *mocks.Filer
	sender  *mocks.Sender
	backend *mocks.Studio
}

func initOrchestrator(t *testing.T) *orchTestData {
	t.Helper()
	res := &orchTestData{}
	res.studio = &mocks.Studio{}
	res.filer = &mocks.Filer{}
	res.sender = &mocks.Sender{}
	res.backend = &mocks.Studio{}
	res.trk = tracker.New(res.backend)
	storage, err := draft.NewFSStorage(t.TempDir())
	require.Nil(t, err)
	res.drafts = draft.NewStore(storage)
	res.orch, err = NewOrchestrator(&Data{Tracker: res.trk, Drafts: res.drafts,
		Filer: res.filer, StudioPr: studio.NewSingleProvider(res.studio, "srv"),
		MsgSender: res.sender})
	require.Nil(t, err)
	return res
}

func fileRequest() *Request {
	return &Request{Owner: "own", Method: MethodFile, ContainerID: "cont", Title: "olia",
		FileName: "f.mp3", File: strings.NewReader("opus"), FileSize: 4}
}

func TestRun_file(t *testing.T) {
	d := initOrchestrator(t)
	d.filer.On("SaveFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	d.filer.On("LoadFile", mock.Anything, mock.Anything).Return(newTestFile("opus"), nil)
	d.studio.On("Start", mock.Anything, mock.Anything).Return("ext1", nil)
	d.sender.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	id, err := d.orch.Run(test.Ctx(t), fileRequest())
	require.Nil(t, err)
	assert.Equal(t, "ext1", id)

	rec, found := d.trk.Get("ext1")
	require.True(t, found)
	assert.Equal(t, "own", rec.OwnerID)
	assert.Equal(t, "f.mp3", rec.SourceName)
	assert.Equal(t, MethodFile, rec.Metadata["method"])
	assert.Equal(t, "srv", rec.Metadata["studio"])
	assert.NotEmpty(t, rec.Metadata["stagedFile"])
}

func TestRun_clearsDraft(t *testing.T) {
	d := initOrchestrator(t)
	d.filer.On("SaveFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	d.filer.On("LoadFile", mock.Anything, mock.Anything).Return(newTestFile("opus"), nil)
	d.studio.On("Start", mock.Anything, mock.Anything).Return("ext1", nil)
	d.sender.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := d.orch.Run(test.Ctx(t), fileRequest())
	require.Nil(t, err)
	assert.Empty(t, d.drafts.Load("own").Title)
}

func TestRun_schedulesPoll(t *testing.T) {
	d := initOrchestrator(t)
	d.filer.On("SaveFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	d.filer.On("LoadFile", mock.Anything, mock.Anything).Return(newTestFile("opus"), nil)
	d.studio.On("Start", mock.Anything, mock.Anything).Return("ext1", nil)
	d.sender.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := d.orch.Run(test.Ctx(t), fileRequest())
	require.Nil(t, err)

	d.sender.AssertNumberOfCalls(t, "SendMessage", 2)
	pm, ok := d.sender.Calls[0].Arguments[1].(*messages.PollMessage)
	require.True(t, ok)
	assert.Equal(t, "ext1", pm.ID)
	assert.Equal(t, "own", pm.OwnerID)
	assert.Equal(t, messages.Work, d.sender.Calls[0].Arguments[2])
	assert.Equal(t, messages.Inform, d.sender.Calls[1].Arguments[2])
}

func TestRun_startFails_keepsDraft(t *testing.T) {
	d := initOrchestrator(t)
	d.filer.On("SaveFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	d.filer.On("LoadFile", mock.Anything, mock.Anything).Return(newTestFile("opus"), nil)
	d.studio.On("Start", mock.Anything, mock.Anything).Return("", assert.AnError)

	_, err := d.orch.Run(test.Ctx(t), fileRequest())
	require.NotNil(t, err)

	dr := d.drafts.Load("own")
	assert.Equal(t, "olia", dr.Title)
	assert.Equal(t, "cont", dr.ContainerID)
	assert.Empty(t, d.trk.ListActive("own"))
	d.sender.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_stageFails(t *testing.T) {
	d := initOrchestrator(t)
	d.filer.On("SaveFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(assert.AnError)

	_, err := d.orch.Run(test.Ctx(t), fileRequest())
	require.NotNil(t, err)
	d.studio.AssertNotCalled(t, "Start", mock.Anything, mock.Anything)
	// draft survives the failed attempt
	assert.Equal(t, "olia", d.drafts.Load("own").Title)
}

func TestRun_url(t *testing.T) {
	d := initOrchestrator(t)
	d.studio.On("Start", mock.Anything, mock.Anything).Return("ext2", nil)
	d.sender.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	id, err := d.orch.Run(test.Ctx(t), &Request{Owner: "own", Method: MethodURL,
		ContainerID: "cont", URL: "http://olia/f.mp3"})
	require.Nil(t, err)
	assert.Equal(t, "ext2", id)

	rec, _ := d.trk.Get("ext2")
	assert.Equal(t, "http://olia/f.mp3", rec.SourceName)
	d.filer.AssertNotCalled(t, "SaveFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_validation(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
	}{
		{name: "no owner", req: &Request{Method: MethodFile, ContainerID: "c", FileName: "f", File: strings.NewReader("o")}},
		{name: "no container", req: &Request{Owner: "own", Method: MethodFile, FileName: "f", File: strings.NewReader("o")}},
		{name: "no file", req: &Request{Owner: "own", Method: MethodFile, ContainerID: "c"}},
		{name: "bad extension", req: &Request{Owner: "own", Method: MethodFile, ContainerID: "c", FileName: "f.zip", File: strings.NewReader("o")}},
		{name: "no url", req: &Request{Owner: "own", Method: MethodURL, ContainerID: "c", URL: "  "}},
		{name: "unknown method", req: &Request{Owner: "own", Method: "olia", ContainerID: "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := initOrchestrator(t)
			_, err := d.orch.Run(test.Ctx(t), tt.req)
			require.NotNil(t, err)
			var errV *ErrValidation
			assert.ErrorAs(t, err, &errV)
		})
	}
}
