// Package taskqueue implements the task half of the Task Queue & Scheduler
// component (C4): the pending FIFO/LIFO deque plus the authoritative
// per-task status map (pending/assigned/done).
//
// Adapted from go-master/pkg/taskqueue's mutex-guarded map shape, with the
// container/heap priority queue dropped — spec's Task carries no priority
// or deadline field, so there is nothing to order by beyond arrival, and a
// plain container/list deque gives the FIFO-append / LIFO-reclaim split
// the tick algorithm needs directly.
package taskqueue

import (
	"container/list"
	"sync"
	"time"

	"github.com/Codesmith28/cloud-dispatch/internal/variant"
)

type Status int

const (
	StatusPending Status = iota
	StatusAssigned
	StatusDone
)

// Task mirrors spec §3's Task record.
type Task struct {
	ID         int64
	Status     Status
	Result     variant.Variants
	AssignedTo int64 // node id; -1 if none
	TimeUsage  time.Duration
}

// DoneEntry is the persisted shape of a completed task.
type DoneEntry struct {
	TaskID    int64
	Result    variant.Variants
	TimeUsage time.Duration
}

// Queue holds every task emitted by the solver's init phase and the FIFO
// pending deque. Every taskId is in exactly one of {pending, assigned,
// done} at all times (spec §3 invariant).
type Queue struct {
	mu      sync.Mutex
	tasks   map[int64]*Task
	pending *list.List // of int64
}

func New() *Queue {
	return &Queue{
		tasks:   make(map[int64]*Task),
		pending: list.New(),
	}
}

// Init populates the queue from the solver's initAsMaster appender calls,
// in the order they were appended (FIFO for fresh work).
func (q *Queue) Init(ids []int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range ids {
		q.tasks[id] = &Task{ID: id, Status: StatusPending, AssignedTo: -1}
		q.pending.PushBack(id)
	}
}

// PopFront removes and returns the task id at the head of the pending
// deque, if any. It does not itself change the task's status; the caller
// (scheduler) calls MarkAssigned once dispatch is underway.
func (q *Queue) PopFront() (int64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := q.pending.Front()
	if front == nil {
		return 0, false
	}
	q.pending.Remove(front)
	return front.Value.(int64), true
}

// PushFront reclaims a task ahead of never-tried work (LIFO for
// failures), per the reclaim rule in spec §4.3.
func (q *Queue) PushFront(id int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending.PushFront(id)
	if t, ok := q.tasks[id]; ok {
		t.Status = StatusPending
		t.AssignedTo = -1
	}
}

// MarkAssigned transitions a popped task to ASSIGNED, recording the node
// it was dispatched to.
func (q *Queue) MarkAssigned(id, nodeID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t, ok := q.tasks[id]; ok {
		t.Status = StatusAssigned
		t.AssignedTo = nodeID
	}
}

// MarkDone transitions an ASSIGNED task to DONE and records its result.
// It reports false (and does nothing) if the task is not currently
// ASSIGNED — the dedup oracle for duplicate finishCompute deliveries
// described in spec §4.4's edge cases.
func (q *Queue) MarkDone(id int64, result variant.Variants, timeUsage time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok || t.Status != StatusAssigned {
		return false
	}
	t.Status = StatusDone
	t.Result = result
	t.TimeUsage = timeUsage
	t.AssignedTo = -1
	return true
}

func (q *Queue) Status(id int64) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[id]
	if !ok {
		return 0, false
	}
	return t.Status, true
}

func (q *Queue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

func (q *Queue) AssignedLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.tasks {
		if t.Status == StatusAssigned {
			n++
		}
	}
	return n
}

func (q *Queue) DoneLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.tasks {
		if t.Status == StatusDone {
			n++
		}
	}
	return n
}

// AllAccountedFor reports whether every task has reached DONE.
func (q *Queue) AllAccountedFor() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.tasks {
		if t.Status != StatusDone {
			return false
		}
	}
	return true
}

// Snapshot returns the persisted shape of current state: pending ids in
// FIFO order, assigned ids (unordered), and completed entries.
func (q *Queue) Snapshot() (pending []int64, assigned []int64, done []DoneEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for e := q.pending.Front(); e != nil; e = e.Next() {
		pending = append(pending, e.Value.(int64))
	}
	for _, t := range q.tasks {
		switch t.Status {
		case StatusAssigned:
			assigned = append(assigned, t.ID)
		case StatusDone:
			done = append(done, DoneEntry{TaskID: t.ID, Result: t.Result, TimeUsage: t.TimeUsage})
		}
	}
	return pending, assigned, done
}

// LoadSnapshot reconstructs state from a prior run's snapshot. Tasks that
// were ASSIGNED when the snapshot was taken have no surviving worker in
// the new process, so they are requeued to the front of pending ahead of
// tasks that were merely PENDING (same reclaim priority a live worker
// loss would receive); DONE tasks are restored as-is and never
// re-dispatched, per spec S6.
func (q *Queue) LoadSnapshot(pending, assigned []int64, done []DoneEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = make(map[int64]*Task)
	q.pending = list.New()

	for _, id := range assigned {
		q.tasks[id] = &Task{ID: id, Status: StatusPending, AssignedTo: -1}
		q.pending.PushBack(id)
	}
	for _, id := range pending {
		q.tasks[id] = &Task{ID: id, Status: StatusPending, AssignedTo: -1}
		q.pending.PushBack(id)
	}
	for _, d := range done {
		q.tasks[d.TaskID] = &Task{
			ID:        d.TaskID,
			Status:    StatusDone,
			Result:    d.Result,
			TimeUsage: d.TimeUsage,
			AssignedTo: -1,
		}
	}
}
