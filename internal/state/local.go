package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

const fileVersion = "1.0"

// FileStore implements Store using a single local JSON document holding
// every guild. Each write rewrites the whole document atomically and keeps
// the previous version as a .bak file.
type FileStore struct {
	Path string

	lockConfig LockConfig

	mu       sync.Mutex
	lockFile *os.File
}

// NewFileStore creates a JSON file store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path, lockConfig: DefaultLockConfig()}
}

// WithLockConfig overrides the non-zero fields of the lock configuration.
func (s *FileStore) WithLockConfig(cfg LockConfig) *FileStore {
	if cfg.LockTimeout > 0 {
		s.lockConfig.LockTimeout = cfg.LockTimeout
	}
	if cfg.StaleThreshold > 0 {
		s.lockConfig.StaleThreshold = cfg.StaleThreshold
	}
	return s
}

// stateFile is the on-disk JSON structure.
type stateFile struct {
	Version string                  `json:"version"`
	Guilds  map[string]*GuildRecord `json:"guilds"`
}

// ErrStateCorrupted is returned when the state file cannot be parsed and
// no usable backup exists.
type ErrStateCorrupted struct {
	Path       string
	BackupUsed bool
	Err        error
}

func (e *ErrStateCorrupted) Error() string {
	if e.BackupUsed {
		return fmt.Sprintf("state file %q and backup are both corrupted: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("state file %q is corrupted: %v", e.Path, e.Err)
}

func (e *ErrStateCorrupted) Unwrap() error { return e.Err }

// Get implements Store.
func (s *FileStore) Get(_ context.Context, guildID string) (*GuildRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	rec, ok := doc.Guilds[guildID]
	if !ok || rec == nil {
		return nil, ErrNotFound
	}
	rec.ensure()
	return rec, nil
}

// Put implements Store.
func (s *FileStore) Put(ctx context.Context, rec *GuildRecord) error {
	if rec == nil || rec.GuildID == "" {
		return errors.New("guild record without guild id")
	}
	return s.modify(ctx, func(doc *stateFile) {
		doc.Guilds[rec.GuildID] = rec.Clone()
	})
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, guildID string) error {
	return s.modify(ctx, func(doc *stateFile) {
		delete(doc.Guilds, guildID)
	})
}

// List implements Store.
func (s *FileStore) List(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(doc.Guilds))
	for id := range doc.Guilds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) modify(ctx context.Context, fn func(doc *stateFile)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lockWithContext(ctx); err != nil {
		return err
	}
	defer func() { _ = s.unlock() }()

	doc, err := s.load()
	if err != nil {
		return err
	}
	fn(doc)
	return s.save(doc)
}

// load reads the state document, falling back to the backup when the
// primary file is corrupted. A missing file is an empty document.
func (s *FileStore) load() (*stateFile, error) {
	doc, err := readStateFile(s.Path)
	if err == nil {
		return doc, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return &stateFile{Version: fileVersion, Guilds: map[string]*GuildRecord{}}, nil
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
		return nil, fmt.Errorf("reading state file: %w", err)
	}
	return s.recoverFromBackup(err)
}

func (s *FileStore) recoverFromBackup(primaryErr error) (*stateFile, error) {
	doc, err := readStateFile(s.Path + ".bak")
	if err != nil {
		return nil, &ErrStateCorrupted{Path: s.Path, BackupUsed: true, Err: primaryErr}
	}
	return doc, nil
}

func readStateFile(path string) (*stateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc stateFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Guilds == nil {
		doc.Guilds = make(map[string]*GuildRecord)
	}
	return &doc, nil
}

// save writes doc through a temp file and rename so readers never observe a
// partially written document. The previous document is kept as .bak.
func (s *FileStore) save(doc *stateFile) error {
	doc.Version = fileVersion
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if prev, err := os.ReadFile(s.Path); err == nil {
		if err := os.WriteFile(s.Path+".bak", prev, 0644); err != nil {
			return fmt.Errorf("writing state backup: %w", err)
		}
	}

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
