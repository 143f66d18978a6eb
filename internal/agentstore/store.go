// Package agentstore provides atomic JSON persistence for agent records, keyed by
// agent id, under paseoHome/agents/<agentId>.json. Each record is the single
// writer's responsibility: writes are serialized per-record and performed as
// write-temp-then-rename so a crash mid-write never leaves a partial file.
package agentstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/moby/sys/atomicwriter"

	"github.com/paseo-dev/paseo/internal/common/logger"
)

// ErrNotFound is returned when no record exists for the given agent id.
var ErrNotFound = errors.New("agent record not found")

// Store persists agent records as atomic JSON documents.
type Store struct {
	dir string
	log *logger.Logger

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	deletes map[string]struct{} // agent ids in beginDelete barrier
}

// New creates a Store rooted at <paseoHome>/agents.
func New(paseoHome string, log *logger.Logger) (*Store, error) {
	dir := filepath.Join(paseoHome, "agents")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create agent store dir: %w", err)
	}
	return &Store{
		dir:     dir,
		log:     log,
		locks:   make(map[string]*sync.Mutex),
		deletes: make(map[string]struct{}),
	}, nil
}

func (s *Store) recordLock(agentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[agentID] = l
	}
	return l
}

func (s *Store) path(agentID string) string {
	return filepath.Join(s.dir, agentID+".json")
}

// Upsert writes the record for agentID atomically. It is a no-op error
// (ErrDeleteInProgress) if a beginDelete barrier is currently active for this
// agent id, preventing a racing persistence hook from re-creating a record
// that closeAgent+remove is in the middle of deleting (spec §4.3.5).
func (s *Store) Upsert(ctx context.Context, agentID string, record any) error {
	s.mu.Lock()
	_, deleting := s.deletes[agentID]
	s.mu.Unlock()
	if deleting {
		return ErrDeleteInProgress
	}

	lock := s.recordLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal agent record %s: %w", agentID, err)
	}
	if err := atomicwriter.WriteFile(s.path(agentID), data, 0o600); err != nil {
		return fmt.Errorf("persist agent record %s: %w", agentID, err)
	}
	return nil
}

// Load reads the record for agentID into dst (a pointer). Returns ErrNotFound
// if no record exists.
func (s *Store) Load(ctx context.Context, agentID string, dst any) error {
	lock := s.recordLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(s.path(agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read agent record %s: %w", agentID, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal agent record %s: %w", agentID, err)
	}
	return nil
}

// ErrDeleteInProgress is returned by Upsert when a beginDelete barrier for the
// same agent id is active.
var ErrDeleteInProgress = errors.New("agent delete in progress")

// BeginDelete raises the barrier described in spec §4.3.5: once raised,
// concurrent Upsert calls for this agent id fail instead of silently
// recreating the record.
func (s *Store) BeginDelete(agentID string) {
	s.mu.Lock()
	s.deletes[agentID] = struct{}{}
	s.mu.Unlock()
}

// Remove deletes the on-disk record and clears the beginDelete barrier.
func (s *Store) Remove(ctx context.Context, agentID string) error {
	lock := s.recordLock(agentID)
	lock.Lock()
	err := os.Remove(s.path(agentID))
	lock.Unlock()

	s.mu.Lock()
	delete(s.deletes, agentID)
	delete(s.locks, agentID)
	s.mu.Unlock()

	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove agent record %s: %w", agentID, err)
	}
	return nil
}

// List returns every agent id currently on disk, for startup reconciliation.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list agent store: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, name[:len(name)-len(".json")])
	}
	return ids, nil
}
