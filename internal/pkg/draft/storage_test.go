package draft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStorage_putGetDelete(t *testing.T) {
	s, err := NewFSStorage(t.TempDir())
	require.Nil(t, err)

	_, found, err := s.Get("own")
	require.Nil(t, err)
	assert.False(t, found)

	require.Nil(t, s.Put("own", "olia"))
	v, found, err := s.Get("own")
	require.Nil(t, err)
	assert.True(t, found)
	assert.Equal(t, "olia", v)

	require.Nil(t, s.Delete("own"))
	_, found, err = s.Get("own")
	require.Nil(t, err)
	assert.False(t, found)
}

func TestFSStorage_deleteMissing(t *testing.T) {
	s, err := NewFSStorage(t.TempDir())
	require.Nil(t, err)
	assert.Nil(t, s.Delete("own"))
}

func TestFSStorage_badKey(t *testing.T) {
	s, err := NewFSStorage(t.TempDir())
	require.Nil(t, err)
	assert.NotNil(t, s.Put("", "olia"))
	assert.NotNil(t, s.Put("../own", "olia"))
	assert.NotNil(t, s.Put("a/b", "olia"))
	assert.Nil(t, s.Put("user@example.com", "olia"))
}

func TestFSStorage_noDir(t *testing.T) {
	_, err := NewFSStorage("")
	assert.NotNil(t, err)
}
