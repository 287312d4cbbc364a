package draft

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStorage struct {
	data    map[string]string
	failPut bool
	failGet bool
}

func newMemStorage() *memStorage {
	return &memStorage{data: map[string]string{}}
}

func (s *memStorage) Put(key, value string) error {
	if s.failPut {
		return assert.AnError
	}
	s.data[key] = value
	return nil
}

func (s *memStorage) Get(key string) (string, bool, error) {
	if s.failGet {
		return "", false, assert.AnError
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStorage) Delete(key string) error {
	delete(s.data, key)
	return nil
}

func newTestStore(st Storage, opts ...Option) *Store {
	return NewStore(st, opts...)
}

func TestStore_roundTrip(t *testing.T) {
	s := newTestStore(newMemStorage())
	s.Save("own", &Draft{Method: "file", Title: "olia", URL: "http://x"})
	d := s.Load("own")
	assert.Equal(t, "file", d.Method)
	assert.Equal(t, "olia", d.Title)
	assert.Equal(t, "http://x", d.URL)
	assert.NotZero(t, d.SavedAt)
}

func TestStore_loadEmpty(t *testing.T) {
	s := newTestStore(newMemStorage())
	d := s.Load("own")
	require.NotNil(t, d)
	assert.Empty(t, d.Title)
	assert.False(t, s.HasDraft("own"))
}

func TestStore_perOwner(t *testing.T) {
	s := newTestStore(newMemStorage())
	s.Save("own1", &Draft{Title: "a"})
	s.Save("own2", &Draft{Title: "b"})
	assert.Equal(t, "a", s.Load("own1").Title)
	assert.Equal(t, "b", s.Load("own2").Title)
}

func TestStore_update(t *testing.T) {
	s := newTestStore(newMemStorage())
	title := "olia"
	s.Update("own", &Partial{Title: &title})
	url := "http://x"
	s.Update("own", &Partial{URL: &url})
	d := s.Load("own")
	assert.Equal(t, "olia", d.Title)
	assert.Equal(t, "http://x", d.URL)
}

func TestStore_clear(t *testing.T) {
	s := newTestStore(newMemStorage())
	s.Save("own", &Draft{Title: "olia"})
	s.Clear("own")
	assert.Empty(t, s.Load("own").Title)
}

func TestStore_expiredDeletedOnRead(t *testing.T) {
	mem := newMemStorage()
	s := newTestStore(mem, WithTTL(time.Hour))
	now := time.Now()
	s.now = func() time.Time { return now }
	s.Save("own", &Draft{Title: "olia"})

	s.now = func() time.Time { return now.Add(time.Hour + time.Millisecond) }
	d := s.Load("own")
	assert.Empty(t, d.Title)
	_, found := mem.data["own"]
	assert.False(t, found, "expired entry must be deleted on read")
}

func TestStore_notExpiredAtTTL(t *testing.T) {
	s := newTestStore(newMemStorage(), WithTTL(time.Hour))
	now := time.Now()
	s.now = func() time.Time { return now }
	s.Save("own", &Draft{Title: "olia"})
	s.now = func() time.Time { return now.Add(time.Hour) }
	assert.Equal(t, "olia", s.Load("own").Title)
}

func TestStore_corruptDeletedOnRead(t *testing.T) {
	mem := newMemStorage()
	s := newTestStore(mem)
	mem.data["own"] = "{olia"
	d := s.Load("own")
	assert.Empty(t, d.Title)
	_, found := mem.data["own"]
	assert.False(t, found)
}

func TestStore_storageErrorsSwallowed(t *testing.T) {
	mem := newMemStorage()
	mem.failGet = true
	mem.failPut = true
	s := newTestStore(mem)
	s.Save("own", &Draft{Title: "olia"})
	d := s.Load("own")
	require.NotNil(t, d)
	assert.Empty(t, d.Title)
}

func TestStoreFile_small(t *testing.T) {
	s := newTestStore(newMemStorage(), WithMaxFileSize(100))
	stored, err := s.StoreFile(context.Background(), "own",
		&FileDescriptor{Name: "olia.mp3", Size: 4, MimeType: "audio/mpeg"}, strings.NewReader("opus"))
	require.Nil(t, err)
	assert.True(t, stored)

	f := s.LoadFile("own")
	require.NotNil(t, f)
	assert.Equal(t, "olia.mp3", f.Name)
	assert.Equal(t, []byte("opus"), f.Content)
	assert.True(t, s.HasDraft("own"))
}

func TestStoreFile_aboveCeilingKeepsMetadataOnly(t *testing.T) {
	s := newTestStore(newMemStorage(), WithMaxFileSize(10))
	stored, err := s.StoreFile(context.Background(), "own",
		&FileDescriptor{Name: "big.mp3", Size: 11}, bytes.NewReader(make([]byte, 11)))
	require.Nil(t, err)
	assert.False(t, stored)

	d := s.Load("own")
	require.NotNil(t, d.File)
	assert.Equal(t, "big.mp3", d.File.Name)
	assert.Empty(t, d.File.Content)
	assert.Nil(t, s.LoadFile("own"))
}

func TestStoreFile_exactCeilingStored(t *testing.T) {
	s := newTestStore(newMemStorage(), WithMaxFileSize(10))
	stored, err := s.StoreFile(context.Background(), "own",
		&FileDescriptor{Name: "ok.mp3", Size: 10}, bytes.NewReader(make([]byte, 10)))
	require.Nil(t, err)
	assert.True(t, stored)
}

func TestStoreFile_liedAboutSize(t *testing.T) {
	s := newTestStore(newMemStorage(), WithMaxFileSize(10))
	stored, err := s.StoreFile(context.Background(), "own",
		&FileDescriptor{Name: "big.mp3", Size: 5}, bytes.NewReader(make([]byte, 20)))
	require.Nil(t, err)
	assert.False(t, stored)
}
