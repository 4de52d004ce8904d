package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Artifact names shared between pipeline stages.
const (
	LogAnalysis = "log-analysis"
	TestConfig  = "test-config"
	TestResults = "test-results"
)

// ErrNotFound is returned when a stage reads an artifact nobody has written.
var ErrNotFound = errors.New("artifact not found")

// Store keeps one JSON document per artifact in a shared directory.
// Each artifact has a single writer and is written atomically, so stages
// never need to coordinate beyond running in order.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("artifact: empty directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "artifact: create %s", dir)
	}
	return &Store{dir: dir}, nil
}

// Dir is the shared directory the store is rooted at.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file backing the named artifact.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// Write replaces the named artifact with v encoded as indented JSON.
func (s *Store) Write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "artifact: encode %s", name)
	}
	return s.WriteFile(name+".json", append(data, '\n'))
}

// Read decodes the named artifact into v.
func (s *Store) Read(name string, v any) error {
	data, err := os.ReadFile(s.Path(name))
	if os.IsNotExist(err) {
		return errors.Wrapf(ErrNotFound, "%s", name)
	}
	if err != nil {
		return errors.Wrapf(err, "artifact: read %s", name)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "artifact: decode %s", name)
	}
	return nil
}

// WriteFile atomically writes an arbitrary file (reports, test plans) into
// the shared directory: a temp file in the same directory renamed over the target.
func (s *Store) WriteFile(filename string, data []byte) error {
	target := filepath.Join(s.dir, filename)

	tmp, err := os.CreateTemp(s.dir, "."+filename+".*")
	if err != nil {
		return errors.Wrapf(err, "artifact: write %s", filename)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "artifact: write %s", filename)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "artifact: write %s", filename)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return errors.Wrapf(err, "artifact: write %s", filename)
	}
	return errors.Wrapf(os.Rename(tmpName, target), "artifact: write %s", filename)
}

// Remove deletes the named artifact. Removing a missing artifact is not an error.
func (s *Store) Remove(name string) error {
	err := os.Remove(s.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "artifact: remove %s", name)
	}
	return nil
}

// Reset clears the stage artifacts so a new run cannot read a previous run's output.
func (s *Store) Reset() error {
	for _, name := range []string{LogAnalysis, TestConfig, TestResults} {
		if err := s.Remove(name); err != nil {
			return err
		}
	}
	return nil
}
