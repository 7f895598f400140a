package workerregistry

import (
	"testing"
	"time"

	"github.com/Codesmith28/cloud-dispatch/internal/taskqueue"
)

func TestAddAssignsIncreasingIDsInOrder(t *testing.T) {
	q := taskqueue.New()
	r := New(q)

	c1 := r.Add(nil)
	c2 := r.Add(nil)

	if c2.NodeID <= c1.NodeID {
		t.Fatalf("node ids must increase, got %d then %d", c1.NodeID, c2.NodeID)
	}
	snap := r.Snapshot()
	if len(snap) != 2 || snap[0].NodeID != c1.NodeID || snap[1].NodeID != c2.NodeID {
		t.Fatalf("Snapshot should preserve insertion order")
	}
}

func TestRemoveByIDReclaimsComputingTask(t *testing.T) {
	q := taskqueue.New()
	q.Init([]int64{42})
	r := New(q)

	ctx := r.Add(nil)
	taskID, _ := q.PopFront()
	q.MarkAssigned(taskID, ctx.NodeID)
	r.SetComputing(ctx.NodeID, taskID)

	if ok := r.RemoveByID(ctx.NodeID, false); !ok {
		t.Fatalf("RemoveByID should succeed for a known node")
	}

	got, ok := q.PopFront()
	if !ok || got != 42 {
		t.Fatalf("reclaimed task should reappear at the front of pendingQueue, got %d, %v", got, ok)
	}
}

func TestRemoveByIDUnknownReturnsFalse(t *testing.T) {
	q := taskqueue.New()
	r := New(q)
	if r.RemoveByID(999, false) {
		t.Fatalf("removing an unknown node id should report false")
	}
}

func TestStaleIDsThreshold(t *testing.T) {
	q := taskqueue.New()
	r := New(q)
	ctx := r.Add(nil)

	if stale := r.StaleIDs(35 * time.Second); len(stale) != 0 {
		t.Fatalf("freshly added node should not be stale")
	}

	r.mu.Lock()
	r.nodes[ctx.NodeID].LastUpdateTs = time.Now().Add(-40 * time.Second)
	r.mu.Unlock()

	stale := r.StaleIDs(35 * time.Second)
	if len(stale) != 1 || stale[0] != ctx.NodeID {
		t.Fatalf("expected node %d to be stale, got %v", ctx.NodeID, stale)
	}
}
