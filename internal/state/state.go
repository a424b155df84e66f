// Package state persists, per machine, what was last synchronized for every
// managed path.
package state

import (
	"path"
	"time"
)

// Decision records what happened to a planned deletion.
type Decision string

const (
	DecisionConfirmed Decision = "confirmed"
	DecisionSkipped   Decision = "skipped"
	DecisionPending   Decision = "pending"
)

// FileState is the checksum and time recorded the last time a path was
// known to be synchronized.
type FileState struct {
	Checksum   string    `json:"checksum"`
	LastSynced time.Time `json:"last_synced"`
}

// DeletionRecord is informational history about a deletion decision.
type DeletionRecord struct {
	DeletedAt time.Time `json:"deleted_at"`
	Checksum  string    `json:"checksum"`
	Decision  Decision  `json:"decision"`
}

// SyncState is the persisted record of one machine.
type SyncState struct {
	MachineID string                    `json:"machine_id"`
	Hostname  string                    `json:"hostname"`
	LastSync  time.Time                 `json:"last_sync"`
	Files     map[string]FileState      `json:"files"`
	Deletions map[string]DeletionRecord `json:"deletions"`
}

// New returns an empty state for the given identity.
func New(id Identity, now time.Time) *SyncState {
	return &SyncState{
		MachineID: id.MachineID,
		Hostname:  id.Hostname,
		LastSync:  now,
		Files:     make(map[string]FileState),
		Deletions: make(map[string]DeletionRecord),
	}
}

// QualifiedPath builds the state key for a path relative to a tool root.
func QualifiedPath(tool, rel string) string {
	return path.Join(tool, rel)
}

// File returns the recorded state for a qualified path.
func (s *SyncState) File(qualified string) (FileState, bool) {
	fs, ok := s.Files[qualified]
	return fs, ok
}

// UpdateFile records a successful synchronization of a qualified path.
func (s *SyncState) UpdateFile(qualified, checksum string, at time.Time) {
	if s.Files == nil {
		s.Files = make(map[string]FileState)
	}
	s.Files[qualified] = FileState{Checksum: checksum, LastSynced: at}
}

// RemoveFile forgets a qualified path after a successful deletion.
func (s *SyncState) RemoveFile(qualified string) {
	delete(s.Files, qualified)
}

// RecordDeletion stores deletion history for a qualified path.
func (s *SyncState) RecordDeletion(qualified, checksum string, decision Decision, at time.Time) {
	if s.Deletions == nil {
		s.Deletions = make(map[string]DeletionRecord)
	}
	s.Deletions[qualified] = DeletionRecord{DeletedAt: at, Checksum: checksum, Decision: decision}
}

// HasDeletionRecord reports whether any deletion history exists for a path.
func (s *SyncState) HasDeletionRecord(qualified string) bool {
	_, ok := s.Deletions[qualified]
	return ok
}

func (s *SyncState) ensureMaps() {
	if s.Files == nil {
		s.Files = make(map[string]FileState)
	}
	if s.Deletions == nil {
		s.Deletions = make(map[string]DeletionRecord)
	}
}
