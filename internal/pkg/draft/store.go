package draft

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
)

const (
	// DefaultTTL is how long an unsubmitted draft stays restorable
	DefaultTTL = 24 * time.Hour
	// DefaultMaxFileSize is the ceiling for keeping raw file content in a draft
	DefaultMaxFileSize = 50 << 20
)

// Draft represents one persisted, not-yet-submitted upload form
type Draft struct {
	Method      string          `json:"method,omitempty"`
	ContainerID string          `json:"containerId,omitempty"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	File        *FileDescriptor `json:"fileDescriptor,omitempty"`
	URL         string          `json:"urlValue,omitempty"`
	SavedAt     int64           `json:"savedAt"`
}

// FileDescriptor keeps file display metadata and, for small files, the content
type FileDescriptor struct {
	Name         string `json:"name"`
	Size         int64  `json:"byteSize"`
	MimeType     string `json:"mimeType,omitempty"`
	LastModified int64  `json:"lastModified,omitempty"`
	Content      string `json:"encodedContent,omitempty"`
}

// Partial is a set of optional field edits merged into the stored draft
type Partial struct {
	Method      *string `json:"method,omitempty"`
	ContainerID *string `json:"containerId,omitempty"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	URL         *string `json:"urlValue,omitempty"`
}

// File is a reconstructed upload file
type File struct {
	Name         string
	MimeType     string
	LastModified int64
	Content      []byte
}

// Store persists upload drafts so the form survives a restart.
// It is advisory persistence only: every storage failure is
// swallowed and observed as "no draft".
type Store struct {
	storage     Storage
	ttl         time.Duration
	maxFileSize int64
	now         func() time.Time
}

// Option configures the store
type Option func(*Store)

// WithTTL sets draft expiry
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithMaxFileSize sets the content persistence ceiling in bytes
func WithMaxFileSize(size int64) Option {
	return func(s *Store) { s.maxFileSize = size }
}

// NewStore creates a draft store over storage
func NewStore(storage Storage, opts ...Option) *Store {
	res := &Store{storage: storage, ttl: DefaultTTL, maxFileSize: DefaultMaxFileSize, now: time.Now}
	for _, o := range opts {
		o(res)
	}
	return res
}

// Save overwrites the owner's draft with a fresh savedAt
func (s *Store) Save(owner string, d *Draft) {
	if d == nil {
		return
	}
	cp := *d
	cp.SavedAt = s.now().UnixMilli()
	s.write(owner, &cp)
}

// Update merges p into the stored draft, creating one if none exists
func (s *Store) Update(owner string, p *Partial) {
	d := s.Load(owner)
	if p.Method != nil {
		d.Method = *p.Method
	}
	if p.ContainerID != nil {
		d.ContainerID = *p.ContainerID
	}
	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.URL != nil {
		d.URL = *p.URL
	}
	s.Save(owner, d)
}

// StoreFile reads the file bytes and merges a descriptor into the draft.
// Files above the ceiling keep display metadata only, no content.
// Returns true if the content was persisted.
func (s *Store) StoreFile(ctx context.Context, owner string, fd *FileDescriptor, r io.Reader) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d := s.Load(owner)
	cp := *fd
	cp.Content = ""
	if fd.Size > s.maxFileSize {
		goapp.Log.Info().Str("file", fd.Name).Int64("size", fd.Size).Msg("file too big for draft content")
		d.File = &cp
		s.Save(owner, d)
		return false, nil
	}
	var b bytes.Buffer
	if _, err := b.ReadFrom(io.LimitReader(r, s.maxFileSize+1)); err != nil {
		return false, err
	}
	if int64(b.Len()) > s.maxFileSize {
		d.File = &cp
		s.Save(owner, d)
		return false, nil
	}
	cp.Size = int64(b.Len())
	cp.Content = base64.StdEncoding.EncodeToString(b.Bytes())
	d.File = &cp
	s.Save(owner, d)
	return true, nil
}

// Load returns the owner's draft or a structurally empty default.
// An expired entry is deleted as a side effect of reading it.
func (s *Store) Load(owner string) *Draft {
	str, found, err := s.storage.Get(owner)
	if err != nil {
		goapp.Log.Warn().Err(err).Msg("draft read failed")
		return &Draft{}
	}
	if !found {
		return &Draft{}
	}
	var d Draft
	if err := json.Unmarshal([]byte(str), &d); err != nil {
		goapp.Log.Warn().Err(err).Msg("corrupt draft entry")
		s.Clear(owner)
		return &Draft{}
	}
	if s.expired(&d) {
		goapp.Log.Info().Str("owner", goapp.Sanitize(owner)).Msg("draft expired")
		s.Clear(owner)
		return &Draft{}
	}
	return &d
}

// LoadFile reconstructs a file from the stored encoded content.
// Returns nil if no content was persisted.
func (s *Store) LoadFile(owner string) *File {
	d := s.Load(owner)
	if d.File == nil || d.File.Content == "" {
		return nil
	}
	b, err := base64.StdEncoding.DecodeString(d.File.Content)
	if err != nil {
		goapp.Log.Warn().Err(err).Msg("corrupt draft file content")
		return nil
	}
	return &File{Name: d.File.Name, MimeType: d.File.MimeType,
		LastModified: d.File.LastModified, Content: b}
}

// Clear deletes the stored draft unconditionally
func (s *Store) Clear(owner string) {
	if err := s.storage.Delete(owner); err != nil {
		goapp.Log.Warn().Err(err).Msg("draft delete failed")
	}
}

// HasDraft returns true iff a non-expired draft with file content or a URL exists
func (s *Store) HasDraft(owner string) bool {
	d := s.Load(owner)
	return (d.File != nil && d.File.Content != "") || d.URL != ""
}

func (s *Store) expired(d *Draft) bool {
	if d.SavedAt == 0 {
		return false
	}
	return s.now().Sub(time.UnixMilli(d.SavedAt)) > s.ttl
}

func (s *Store) write(owner string, d *Draft) {
	b, err := json.Marshal(d)
	if err != nil {
		goapp.Log.Warn().Err(err).Msg("can't marshal draft")
		return
	}
	if err := s.storage.Put(owner, string(b)); err != nil {
		goapp.Log.Warn().Err(err).Msg("draft write failed")
	}
}
