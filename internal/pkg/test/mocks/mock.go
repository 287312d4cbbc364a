package mocks

import (
	"context"
	"io"

	"github.com/airenas/async-api/pkg/messages"
	"github.com/castgate/castgate/internal/pkg/jobs"
	"github.com/castgate/castgate/internal/pkg/studio/api"
	"github.com/stretchr/testify/mock"
)

// Filer is minio mock
type Filer struct{ mock.Mock }

func (m *Filer) SaveFile(ctx context.Context, name string, r io.Reader, fileSize int64) error {
	args := m.Called(ctx, name, r, fileSize)
	return args.Error(0)
}

// LoadFile func mock
func (m *Filer) LoadFile(ctx context.Context, fileName string) (io.ReadSeekCloser, error) {
	args := m.Called(ctx, fileName)
	return to[io.ReadSeekCloser](args.Get(0)), args.Error(1)
}

// Journal is postgres job journal mock
type Journal struct{ mock.Mock }

func (m *Journal) InsertJob(ctx context.Context, rec *jobs.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *Journal) UpdateJob(ctx context.Context, rec *jobs.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *Journal) LoadJob(ctx context.Context, id string) (*jobs.Record, error) {
	args := m.Called(ctx, id)
	return to[*jobs.Record](args.Get(0)), args.Error(1)
}

func (m *Journal) LockEmailTable(ctx context.Context, id, msgType string) error {
	args := m.Called(ctx, id, msgType)
	return args.Error(0)
}

func (m *Journal) UnLockEmailTable(ctx context.Context, id, msgType string, value *int) error {
	args := m.Called(ctx, id, msgType, value)
	return args.Error(0)
}

// Sender is postgres queue mock
type Sender struct{ mock.Mock }

func (m *Sender) SendMessage(ctx context.Context, msg messages.Message, queue string) error {
	args := m.Called(ctx, msg, queue)
	return args.Error(0)
}

// Studio is processing backend client mock
type Studio struct{ mock.Mock }

func (m *Studio) Start(ctx context.Context, in *api.StartInput) (string, error) {
	args := m.Called(ctx, in)
	return args.String(0), args.Error(1)
}

func (m *Studio) GetArtifact(ctx context.Context, opID string) (*api.Artifact, error) {
	args := m.Called(ctx, opID)
	return to[*api.Artifact](args.Get(0)), args.Error(1)
}

func (m *Studio) ListActive(ctx context.Context, owner string) ([]api.JobInfo, error) {
	args := m.Called(ctx, owner)
	return to[[]api.JobInfo](args.Get(0)), args.Error(1)
}

func (m *Studio) Cancel(ctx context.Context, jobID string) (bool, error) {
	args := m.Called(ctx, jobID)
	return args.Bool(0), args.Error(1)
}

// Navigator is artifact navigation mock
type Navigator struct{ mock.Mock }

func (m *Navigator) NavigateTo(owner string, a *api.Artifact) {
	m.Called(owner, a)
}

// Notifier is user info message mock
type Notifier struct{ mock.Mock }

func (m *Notifier) Info(owner, msg string) {
	m.Called(owner, msg)
}

// Listener is unload listener mock
type Listener struct{ mock.Mock }

func (m *Listener) Register() {
	m.Called()
}

func (m *Listener) Unregister() {
	m.Called()
}

// Confirmer is leave confirmation mock
type Confirmer struct{ mock.Mock }

func (m *Confirmer) Confirm(msg string) bool {
	args := m.Called(msg)
	return args.Bool(0)
}

func to[T interface{}](val interface{}) T {
	if val == nil {
		var res T
		return res
	}
	return val.(T)
}
