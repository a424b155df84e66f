package state

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/schaermu/toolsync/internal/apperr"
)

// DirName is the name of the shared state directory.
const DirName = ".sync-state"

// DirFor returns the state directory shared by all tools whose targets live
// under the same parent as targetRoot.
func DirFor(targetRoot string) string {
	return filepath.Join(filepath.Dir(filepath.Clean(targetRoot)), DirName)
}

// Store loads and saves SyncState files in a shared state directory. Each
// machine only ever writes its own file.
type Store struct {
	dir      string
	identity Identity
	logger   *slog.Logger
	now      func() time.Time
}

// NewStore creates a store rooted at dir for the given machine.
func NewStore(dir string, identity Identity, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:      dir,
		identity: identity,
		logger:   logger,
		now:      time.Now,
	}
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

// Identity returns the machine identity this store writes for.
func (s *Store) Identity() Identity {
	return s.identity
}

// Path returns the state file owned by this machine.
func (s *Store) Path() string {
	return filepath.Join(s.dir, s.identity.Hostname+".json")
}

// Load reads this machine's state, returning an empty state if none has
// been saved yet.
func (s *Store) Load() (*SyncState, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(s.identity, s.now()), nil
		}
		return nil, apperr.IO("load state", s.Path(), err)
	}

	st, err := decode(data)
	if err != nil {
		return nil, apperr.Parse("load state", s.Path(), err)
	}
	return st, nil
}

// Save refreshes LastSync and atomically replaces this machine's state file.
func (s *Store) Save(st *SyncState) error {
	st.LastSync = s.now()
	if st.MachineID == "" {
		st.MachineID = s.identity.MachineID
	}
	if st.Hostname == "" {
		st.Hostname = s.identity.Hostname
	}
	st.ensureMaps()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return apperr.IO("create state directory", s.dir, err)
	}

	tmpPath, err := s.writeTemp(data)
	if err != nil {
		return err
	}
	return s.commit(tmpPath)
}

// writeTemp writes data to a temporary file next to the state file.
func (s *Store) writeTemp(data []byte) (string, error) {
	tmp, err := os.CreateTemp(s.dir, "."+s.identity.Hostname+"-*.tmp")
	if err != nil {
		return "", apperr.IO("save state", s.dir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", apperr.IO("save state", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", apperr.IO("save state", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", apperr.IO("save state", tmpPath, err)
	}
	return tmpPath, nil
}

// commit renames a fully written temp file over the state file.
func (s *Store) commit(tmpPath string) error {
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		_ = os.Remove(tmpPath)
		return apperr.IO("save state", s.Path(), err)
	}
	return nil
}

// LoadAll reads every machine's state. Files that cannot be parsed are
// skipped so one corrupt record never hides the others.
func (s *Store) LoadAll() (map[string]*SyncState, error) {
	states := make(map[string]*SyncState)

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, apperr.IO("list states", s.dir, err)
	}

	for _, p := range matches {
		data, err := os.ReadFile(p)
		if err != nil {
			s.logger.Debug("skipping unreadable state file", "path", p, "error", err)
			continue
		}
		st, err := decode(data)
		if err != nil || st.MachineID == "" {
			s.logger.Debug("skipping invalid state file", "path", p, "error", err)
			continue
		}
		states[st.MachineID] = st
	}

	return states, nil
}

// MostRecentStateForPath returns the FileState with the latest LastSynced
// for a qualified path across all machines, optionally ignoring this
// machine's own record.
func (s *Store) MostRecentStateForPath(qualified string, excludeSelf bool) (FileState, bool, error) {
	all, err := s.LoadAll()
	if err != nil {
		return FileState{}, false, err
	}

	var (
		best  FileState
		found bool
	)
	for machineID, st := range all {
		if excludeSelf && machineID == s.identity.MachineID {
			continue
		}
		rec, ok := st.File(qualified)
		if !ok {
			continue
		}
		if !found || rec.LastSynced.After(best.LastSynced) {
			best = rec
			found = true
		}
	}
	return best, found, nil
}

func decode(data []byte) (*SyncState, error) {
	var st SyncState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	st.ensureMaps()
	return &st, nil
}
