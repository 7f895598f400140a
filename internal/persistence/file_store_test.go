package persistence

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Codesmith28/cloud-dispatch/internal/taskqueue"
)

func TestFileStoreLoadMissingReturnsNotFound(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "snapshot.json"))
	_, found, err := fs.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatalf("expected no snapshot to be found")
	}
}

func TestFileStoreSaveThenLoadRoundTrips(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "snapshot.json"))
	s := Snapshot{
		Pending:  []int64{1, 2, 3},
		Assigned: []int64{4},
		Done:     []taskqueue.DoneEntry{{TaskID: 5, TimeUsage: time.Second}},
		SavedAt:  time.Now().Truncate(time.Second),
	}

	if err := fs.Save(s); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, found, err := fs.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !found {
		t.Fatalf("expected snapshot to be found")
	}
	if len(loaded.Pending) != 3 || loaded.Assigned[0] != 4 || len(loaded.Done) != 1 {
		t.Fatalf("unexpected round-tripped snapshot: %+v", loaded)
	}
}
