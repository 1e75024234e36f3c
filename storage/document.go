package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"audubon_monitor/models"
)

// PersistenceError means the output document could not be read or written.
// It is the only error that makes a run exit non-zero.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// DocumentStore reads and atomically replaces the JSON output document.
type DocumentStore struct {
	path string

	// beforeRename runs after the temp file is synced and closed. Tests use
	// it to simulate a crash before the rename.
	beforeRename func(tmpPath string) error
}

func NewDocumentStore(path string) *DocumentStore {
	return &DocumentStore{path: path}
}

func (s *DocumentStore) Path() string {
	return s.path
}

// Load returns the previous document, or an empty one if none exists yet.
func (s *DocumentStore) Load() (*models.OutputDocument, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return models.NewOutputDocument(), nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "read", Path: s.path, Err: err}
	}

	doc := models.NewOutputDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, &PersistenceError{Op: "decode", Path: s.path, Err: err}
	}
	if doc.SchemaVersion > models.SchemaVersion {
		return nil, &PersistenceError{Op: "decode", Path: s.path,
			Err: fmt.Errorf("schema version %d is newer than %d", doc.SchemaVersion, models.SchemaVersion)}
	}
	if doc.Listings == nil {
		doc.Listings = make(map[string]*models.CanonicalListing)
	}
	if doc.Sources == nil {
		doc.Sources = make(map[models.Source]*models.SourceStatus)
	}
	doc.SchemaVersion = models.SchemaVersion
	return doc, nil
}

// Marshal renders the document the way Save writes it.
func Marshal(doc *models.OutputDocument) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Save writes doc to a temp file in the target directory, syncs it and
// renames it over the target. Readers see either the old or the new document.
func (s *DocumentStore) Save(doc *models.OutputDocument) error {
	data, err := Marshal(doc)
	if err != nil {
		return &PersistenceError{Op: "encode", Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &PersistenceError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return &PersistenceError{Op: "create temp", Path: dir, Err: err}
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &PersistenceError{Op: "write", Path: tmpPath, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &PersistenceError{Op: "sync", Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &PersistenceError{Op: "close", Path: tmpPath, Err: err}
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return &PersistenceError{Op: "chmod", Path: tmpPath, Err: err}
	}

	if s.beforeRename != nil {
		if err := s.beforeRename(tmpPath); err != nil {
			return &PersistenceError{Op: "rename", Path: s.path, Err: err}
		}
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return &PersistenceError{Op: "rename", Path: s.path, Err: err}
	}
	committed = true

	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
