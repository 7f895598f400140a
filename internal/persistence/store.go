// Package persistence implements the master's periodic snapshot of
// {pending_queue, assigned_set, results[]} (spec §6, "Persisted state
// (master)") sufficient to resume on crash, and the SkipLoadState
// bypass.
package persistence

import (
	"time"

	"github.com/Codesmith28/cloud-dispatch/internal/taskqueue"
)

// Snapshot is the on-disk/on-document shape of master state.
type Snapshot struct {
	Pending  []int64               `json:"pending_queue"`
	Assigned []int64               `json:"assigned_set"`
	Done     []taskqueue.DoneEntry `json:"results"`
	SavedAt  time.Time             `json:"saved_at"`
}

// Store persists and restores a Snapshot. Implementations: FileStore
// (default) and CouchStore (optional durable backend).
type Store interface {
	Save(s Snapshot) error
	Load() (Snapshot, bool, error)
}
