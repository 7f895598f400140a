package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Codesmith28/cloud-dispatch/internal/solver"
	"github.com/Codesmith28/cloud-dispatch/internal/taskqueue"
	"github.com/Codesmith28/cloud-dispatch/internal/variant"
	"github.com/Codesmith28/cloud-dispatch/internal/workerregistry"
)

// fakeProxy lets tests control whether a dispatched task "succeeds" or
// fails, without any real socket.
type fakeProxy struct {
	addr string

	mu       sync.Mutex
	fail     bool
	gotTasks []int64
}

func (f *fakeProxy) AddTask(nodeID, taskID int64, timeout time.Duration, cb func(nodeID, taskID int64, ok bool)) {
	f.mu.Lock()
	f.gotTasks = append(f.gotTasks, taskID)
	fail := f.fail
	f.mu.Unlock()
	go cb(nodeID, taskID, !fail)
}

func (f *fakeProxy) Disconnect()        {}
func (f *fakeProxy) RemoteAddr() string { return f.addr }

type countingSolver struct {
	n int

	mu      sync.Mutex
	results map[int64]variant.Variants
	done    bool
}

func newCountingSolver(n int) *countingSolver {
	return &countingSolver{n: n, results: make(map[int64]variant.Variants)}
}

func (s *countingSolver) InitAsMaster(a solver.TaskAppender) {
	for i := 0; i < s.n; i++ {
		a.AddTask(int64(i))
	}
}
func (s *countingSolver) InitAsWorker() {}
func (s *countingSolver) Compute(taskID int64) variant.Variants { return nil }
func (s *countingSolver) SetResult(taskID int64, result variant.Reader, timeUsage time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var v variant.Variants
	if result != nil {
		for i := 0; i < result.Len(); i++ {
			v = append(v, variant.Value{Kind: result.Kind(i)})
		}
	}
	s.results[taskID] = v
}
func (s *countingSolver) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
}
func (s *countingSolver) finishedCalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
func (s *countingSolver) resultCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func newTestScheduler(n int) (*Scheduler, *countingSolver, *taskqueue.Queue, *workerregistry.Registry) {
	q := taskqueue.New()
	r := workerregistry.New(q)
	sv := newCountingSolver(n)
	s := New(q, r, sv, 20*time.Millisecond, 35*time.Second)
	return s, sv, q, r
}

func TestEmptyTaskSetTerminatesImmediately(t *testing.T) {
	s, sv, _, _ := newTestScheduler(0)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go s.Run(ctx)

	select {
	case <-s.Finished():
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("expected termination on first tick for an empty task set")
	}
	if !sv.finishedCalled() {
		t.Fatalf("solver.Finish() should have been called")
	}
}

func TestSingleWorkerCompletesAllTasks(t *testing.T) {
	s, sv, q, r := newTestScheduler(3)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go s.Run(ctx)

	proxy := &fakeProxy{addr: "tcp://worker:1"}
	node := s.OnNodeAvailable(proxy)
	if node == nil {
		t.Fatalf("OnNodeAvailable returned nil")
	}

	// Drive completion: as tasks get dispatched, report them done.
	deadline := time.After(2 * time.Second)
	for q.DoneLen() < 3 {
		select {
		case <-deadline:
			t.Fatalf("tasks did not complete in time; done=%d", q.DoneLen())
		case <-time.After(10 * time.Millisecond):
		}
		proxy.mu.Lock()
		pending := append([]int64(nil), proxy.gotTasks...)
		proxy.gotTasks = nil
		proxy.mu.Unlock()
		for _, taskID := range pending {
			s.HandleFinishCompute(taskID, variant.Variants{variant.Int64(taskID * taskID)}, time.Millisecond)
		}
	}

	select {
	case <-s.Finished():
	case <-time.After(time.Second):
		t.Fatalf("scheduler did not terminate after all tasks completed")
	}
	if sv.resultCount() != 3 {
		t.Fatalf("expected 3 results, got %d", sv.resultCount())
	}
	_ = r
}

func TestWorkerLossReclaimsTask(t *testing.T) {
	s, _, q, _ := newTestScheduler(1)
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go s.Run(ctx)

	failing := &fakeProxy{addr: "tcp://worker:1", fail: true}
	s.OnNodeAvailable(failing)

	// Wait for the failed dispatch to be detected and the task reclaimed.
	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("task was never reclaimed to the pending queue")
		default:
		}
		failing.mu.Lock()
		dispatched := len(failing.gotTasks) > 0
		failing.mu.Unlock()
		if dispatched && q.PendingLen() == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
