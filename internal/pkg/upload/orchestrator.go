package upload

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/castgate/castgate/internal/pkg/draft"
	"github.com/castgate/castgate/internal/pkg/jobs"
	"github.com/castgate/castgate/internal/pkg/messages"
	sapi "github.com/castgate/castgate/internal/pkg/studio/api"
	"github.com/castgate/castgate/internal/pkg/utils"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"
)

// Upload methods
const (
	MethodFile = "file"
	MethodURL  = "url"
)

// Tracker keeps the reactive job set
type Tracker interface {
	Create(ctx context.Context, rec *jobs.Record)
	Get(id string) (jobs.Record, bool)
	ApplyUpdate(ctx context.Context, id string, u jobs.Update) bool
	Complete(ctx context.Context, id string, metadata map[string]string) bool
	Detach(id string)
}

// Drafts persists upload form state across restarts
type Drafts interface {
	Load(owner string) *draft.Draft
	Save(owner string, d *draft.Draft)
	Clear(owner string)
}

// Filer stages upload files in the object store
type Filer interface {
	SaveFile(ctx context.Context, name string, r io.Reader, fileSize int64) error
	LoadFile(ctx context.Context, fileName string) (io.ReadSeekCloser, error)
}

// Provider resolves a studio backend instance
type Provider interface {
	Get(srv string, allowNew bool) (sapi.Studio, string, error)
}

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, string) error
}

// ErrValidation indicates a locally rejected request, never sent to the backend
type ErrValidation struct {
	msg string
}

// NewErrValidation creates validation error
func NewErrValidation(msg string) error {
	return &ErrValidation{msg: msg}
}

func (e *ErrValidation) Error() string {
	return e.msg
}

// Request is one user upload submission
type Request struct {
	Owner       string
	Method      string
	ContainerID string
	Title       string
	Description string
	Email       string
	FileName    string
	File        io.Reader
	FileSize    int64
	URL         string
}

// Data keeps data required for orchestrator work
type Data struct {
	Tracker   Tracker
	Drafts    Drafts
	Filer     Filer
	StudioPr  Provider
	MsgSender MsgSender
}

// Orchestrator drives one upload from submission to a tracked job
type Orchestrator struct {
	data *Data
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(data *Data) (*Orchestrator, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	return &Orchestrator{data: data}, nil
}

func validate(data *Data) error {
	if data.Tracker == nil {
		return errors.New("no tracker")
	}
	if data.Drafts == nil {
		return errors.New("no drafts")
	}
	if data.Filer == nil {
		return errors.New("no filer")
	}
	if data.StudioPr == nil {
		return errors.New("no studio provider")
	}
	if data.MsgSender == nil {
		return errors.New("no msg sender")
	}
	return nil
}

// Run executes one upload end to end: draft persistence, backend start,
// job record seeding, poll scheduling. On a start failure the draft is
// left intact so the user can retry without re-entering the form.
func (o *Orchestrator) Run(ctx context.Context, req *Request) (string, error) {
	defer goapp.Estimate("upload orchestration")()
	if err := validateRequest(req); err != nil {
		return "", err
	}

	o.saveDraft(req)

	var fileReader io.Reader
	var stagedName string
	if req.Method == MethodFile {
		var err error
		stagedName, fileReader, err = o.stageFile(ctx, req)
		if err != nil {
			return "", err
		}
		if c, ok := fileReader.(io.Closer); ok {
			defer c.Close()
		}
	}

	studio, srv, err := o.data.StudioPr.Get("", true)
	if err != nil || studio == nil {
		return "", fmt.Errorf("no studio backend available: %w", err)
	}
	opID, err := studio.Start(ctx, &sapi.StartInput{Owner: req.Owner, ContainerID: req.ContainerID,
		Title: req.Title, FileName: req.FileName, File: fileReader, FileSize: req.FileSize, URL: req.URL})
	if err != nil {
		// draft stays, job is never created
		return "", fmt.Errorf("can't start processing: %w", err)
	}
	goapp.Log.Info().Str("ID", opID).Str("studio", srv).Msg("processing started")

	o.data.Drafts.Clear(req.Owner)

	rec := jobs.NewRecord(opID, req.Owner, sourceName(req), req.ContainerID)
	if req.Method == MethodURL {
		rec.Stage = jobs.Downloading
	}
	rec.Metadata["method"] = req.Method
	if srv != "" {
		rec.Metadata["studio"] = srv
	}
	if stagedName != "" {
		rec.Metadata["stagedFile"] = stagedName
	}
	if req.Email != "" {
		rec.Metadata["email"] = req.Email
	}
	o.data.Tracker.Create(ctx, rec)

	if err := o.data.MsgSender.SendMessage(ctx, messages.NewPollMessage(opID, req.Owner, rec.SourceName, req.Method),
		messages.Work); err != nil {
		// the job exists server-side, tracking degrades to recovery
		goapp.Log.Error().Err(err).Str("ID", opID).Msg("can't schedule artifact poll")
	}
	if err := o.data.MsgSender.SendMessage(ctx, &amessages.InformMessage{
		QueueMessage: amessages.QueueMessage{ID: opID},
		Type:         amessages.InformTypeStarted, At: time.Now()}, messages.Inform); err != nil {
		goapp.Log.Warn().Err(err).Str("ID", opID).Msg("can't send inform msg")
	}
	return opID, nil
}

func validateRequest(req *Request) error {
	if req.Owner == "" {
		return NewErrValidation("no identity")
	}
	if req.ContainerID == "" {
		return NewErrValidation("no workspace selected")
	}
	switch req.Method {
	case MethodFile:
		if req.File == nil || req.FileName == "" {
			return NewErrValidation("no file")
		}
		if !utils.SupportAudioExt(strings.ToLower(filepath.Ext(req.FileName))) {
			return NewErrValidation(fmt.Sprintf("unsupported audio file '%s'", filepath.Ext(req.FileName)))
		}
	case MethodURL:
		if strings.TrimSpace(req.URL) == "" {
			return NewErrValidation("no source URL")
		}
	default:
		return NewErrValidation(fmt.Sprintf("unknown method '%s'", req.Method))
	}
	return nil
}

// saveDraft persists form state before any network call, keeping
// previously stored file content if it belongs to the same file
func (o *Orchestrator) saveDraft(req *Request) {
	d := o.data.Drafts.Load(req.Owner)
	d.Method = req.Method
	d.ContainerID = req.ContainerID
	d.Title = req.Title
	d.Description = req.Description
	d.URL = req.URL
	if req.Method == MethodFile {
		if d.File == nil || d.File.Name != req.FileName {
			d.File = &draft.FileDescriptor{Name: req.FileName, Size: req.FileSize}
		}
	}
	o.data.Drafts.Save(req.Owner, d)
}

func (o *Orchestrator) stageFile(ctx context.Context, req *Request) (string, io.Reader, error) {
	name, err := utils.MakeValidateFileName(uuid.New().String(), req.FileName)
	if err != nil {
		return "", nil, NewErrValidation(err.Error())
	}
	if err := o.data.Filer.SaveFile(ctx, name, req.File, req.FileSize); err != nil {
		return "", nil, fmt.Errorf("can't stage file: %w", err)
	}
	r, err := o.data.Filer.LoadFile(ctx, name)
	if err != nil {
		var minioErr minio.ErrorResponse
		if errors.As(err, &minioErr) && minioErr.Code == "NoSuchKey" {
			return "", nil, fmt.Errorf("staged file disappeared: %w", err)
		}
		return "", nil, fmt.Errorf("can't load staged file: %w", err)
	}
	return name, r, nil
}

func sourceName(req *Request) string {
	if req.Method == MethodURL {
		return req.URL
	}
	return req.FileName
}

