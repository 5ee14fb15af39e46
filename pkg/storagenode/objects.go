package storagenode

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"nodebroker/pkg/log"
)

const (
	objectsDirPerm  = 0o750
	objectsFilePerm = 0o600
)

var objectIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ObjectStore keeps opaque objects as files in a single directory.
type ObjectStore struct {
	dir string
}

// NewObjectStore creates the object directory if needed.
func NewObjectStore(dir string) (*ObjectStore, error) {
	if err := os.MkdirAll(dir, objectsDirPerm); err != nil {
		return nil, fmt.Errorf("create object directory: %w", err)
	}
	return &ObjectStore{dir: dir}, nil
}

// ValidID reports whether id can be used as an object name.
func ValidID(id string) bool {
	return objectIDPattern.MatchString(id)
}

// Put writes the object through a temp file so readers never see a partial object.
func (s *ObjectStore) Put(id string, src io.Reader) (int64, error) {
	if !ValidID(id) {
		return 0, ErrInvalidObjectID
	}

	tempFile, err := os.CreateTemp(s.dir, ".upload-*.tmp")
	if err != nil {
		return 0, err
	}
	tempPath := tempFile.Name()

	written, err := io.Copy(tempFile, src)
	if closeErr := tempFile.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tempPath, objectsFilePerm)
	}
	if err == nil {
		err = os.Rename(tempPath, s.path(id))
	}
	if err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			log.Warn().Err(removeErr).Str("temp_file", tempPath).Msg("Failed to remove temp file")
		}
		return 0, err
	}

	return written, nil
}

// Path returns the file path of an existing object.
func (s *ObjectStore) Path(id string) (string, error) {
	if !ValidID(id) {
		return "", ErrInvalidObjectID
	}
	path := s.path(id)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrObjectNotFound
		}
		return "", err
	}
	return path, nil
}

// Delete removes the object.
func (s *ObjectStore) Delete(id string) error {
	if !ValidID(id) {
		return ErrInvalidObjectID
	}
	if err := os.Remove(s.path(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrObjectNotFound
		}
		return err
	}
	return nil
}

func (s *ObjectStore) path(id string) string {
	return filepath.Join(s.dir, id)
}
