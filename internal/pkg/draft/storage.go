package draft

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// Storage is a string-keyed durable slot surviving a service restart
type Storage interface {
	Put(key, value string) error
	Get(key string) (string, bool, error)
	Delete(key string) error
}

var keyRegexp = regexp.MustCompile(`^[a-zA-Z0-9_:@.-]+$`)

// FSStorage keeps each slot as a file under dir
type FSStorage struct {
	dir string
}

// NewFSStorage creates storage, making dir if needed
func NewFSStorage(dir string) (*FSStorage, error) {
	if dir == "" {
		return nil, fmt.Errorf("no storage dir")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("can't create dir: %w", err)
	}
	return &FSStorage{dir: dir}, nil
}

// Put writes the slot value
func (s *FSStorage) Put(key, value string) error {
	fn, err := s.fileName(key)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(fn, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(value)
	return err
}

// Get reads the slot value, second result indicates existence
func (s *FSStorage) Get(key string) (string, bool, error) {
	fn, err := s.fileName(key)
	if err != nil {
		return "", false, err
	}
	b, err := os.ReadFile(fn)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(b), true, nil
}

// Delete removes the slot
func (s *FSStorage) Delete(key string) error {
	fn, err := s.fileName(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fn); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FSStorage) fileName(key string) (string, error) {
	if key == "" || !keyRegexp.MatchString(key) {
		return "", fmt.Errorf("wrong storage key '%s'", key)
	}
	return filepath.Join(s.dir, key+".json"), nil
}
