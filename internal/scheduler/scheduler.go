// Package scheduler implements the Task Scheduler (C4), the master core:
// it owns the single control thread (§5) that serializes every mutation
// of the Node Registry and Task Queue, runs the periodic tick, and
// detects termination.
//
// Adapted from go-master/pkg/scheduler's ticker-driven Start/ScheduleOnce
// shape. The teacher's greedy resource-matching (cpu/mem/gpu bin packing)
// is replaced by spec §4.4's simpler rule: one task per idle node, in
// registry order, every tick.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Codesmith28/cloud-dispatch/internal/nodeproxy"
	"github.com/Codesmith28/cloud-dispatch/internal/solver"
	"github.com/Codesmith28/cloud-dispatch/internal/taskqueue"
	"github.com/Codesmith28/cloud-dispatch/internal/variant"
	"github.com/Codesmith28/cloud-dispatch/internal/workerregistry"
)

const (
	// DefaultTickInterval is kDefaultRefreshIntervalInSeconds from
	// original_source's compute_model.cc.
	DefaultTickInterval = 1 * time.Second

	// DefaultLivenessThreshold is the 35s liveness window spec §4.4/§5
	// names explicitly.
	DefaultLivenessThreshold = 35 * time.Second
)

type appender struct{ ids *[]int64 }

func (a *appender) AddTask(id int64) { *a.ids = append(*a.ids, id) }

// Scheduler performs every task assignment, node addition and node
// removal on the Registry and Queue it is built with; its entry points
// post onto a single control channel and so are processed one at a time
// regardless of which goroutine called in — the Go rendering of spec §5's
// "dedicated control thread." Heartbeat timestamps (Registry.Touch) and
// snapshot save/restore (Queue.Snapshot/LoadSnapshot) are applied by
// their callers directly, under the Registry's and Queue's own locks.
type Scheduler struct {
	queue    *taskqueue.Queue
	registry *workerregistry.Registry
	solver   solver.Solver

	tickInterval      time.Duration
	livenessThreshold time.Duration

	events chan func()

	mu           sync.Mutex
	runningCount int

	finishOnce sync.Once
	finished   chan struct{}
}

func New(queue *taskqueue.Queue, registry *workerregistry.Registry, sv solver.Solver, tickInterval, livenessThreshold time.Duration) *Scheduler {
	return &Scheduler{
		queue:             queue,
		registry:          registry,
		solver:            sv,
		tickInterval:      tickInterval,
		livenessThreshold: livenessThreshold,
		events:            make(chan func(), 256),
		finished:          make(chan struct{}),
	}
}

// Finished is closed once the termination check fires and solver.Finish()
// has been called.
func (s *Scheduler) Finished() <-chan struct{} { return s.finished }

// RunningCount returns the most recently computed runningCount (number of
// nodes that are COMPUTING as of the last tick).
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningCount
}

// post hands fn to the control loop. It is safe to call from any
// goroutine, including RPC completion callbacks invoked off the
// transport's I/O goroutines.
func (s *Scheduler) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.finished:
	}
}

// Start seeds the task set from the solver's initAsMaster. It does not
// block and does not start the periodic tick; Run does that, and blocks
// until ctx is cancelled or termination is reached.
func (s *Scheduler) Start() {
	var ids []int64
	s.solver.InitAsMaster(&appender{&ids})
	s.queue.Init(ids)
}

// Run is the control loop: it processes posted closures and the tick
// ticker strictly one at a time until ctx is cancelled or termination is
// reached.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	// An empty initial task set terminates on the first tick, per spec's
	// boundary behavior, without waiting a full interval.
	s.tick()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.finished:
			return
		case fn := <-s.events:
			fn()
		case <-ticker.C:
			s.tick()
		}
	}
}

// OnNodeAvailable adds a fresh READY NodeContext for proxy and triggers an
// immediate tick, returning the allocated context synchronously (the
// caller, typically the Master Protocol Handler, needs the node id to
// correlate future requests on this connection).
func (s *Scheduler) OnNodeAvailable(proxy workerregistry.Proxy) *workerregistry.NodeContext {
	reply := make(chan *workerregistry.NodeContext, 1)
	s.post(func() {
		ctx := s.registry.Add(proxy)
		reply <- ctx
		s.tick()
	})
	select {
	case ctx := <-reply:
		return ctx
	case <-s.finished:
		return nil
	}
}

// OnNodeUnavailable removes node id without peer notification (the peer
// already went away) and triggers a tick.
func (s *Scheduler) OnNodeUnavailable(id int64) {
	s.post(func() {
		s.registry.RemoveByID(id, false)
		s.tick()
	})
}

// HandleFinishCompute delivers a completed task's result to the solver
// and returns its node to READY. A finishCompute for a task not currently
// assigned to any node is silently ignored — the assigned-set membership
// is the dedup oracle (spec §4.4 edge case).
func (s *Scheduler) HandleFinishCompute(taskID int64, result variant.Variants, timeUsage time.Duration) {
	s.post(func() {
		// Iterate every node without an early break once a match is found —
		// this mirrors original_source's handleFinishCompute, a documented
		// benign inefficiency (spec §9 Design Notes), not a bug to fix.
		foundNodeID := int64(-1)
		for _, ctx := range s.registry.Snapshot() {
			if ctx.Status == workerregistry.StatusComputing && ctx.CurrentTaskID == taskID {
				foundNodeID = ctx.NodeID
			}
		}
		if foundNodeID == -1 {
			return
		}
		if !s.queue.MarkDone(taskID, result, timeUsage) {
			return
		}
		s.solver.SetResult(taskID, result, timeUsage)
		s.registry.SetReady(foundNodeID)
		s.tick()
	})
}

// dispatchCallback is the completion handler passed to proxy.AddTask. It
// always receives both nodeID and taskID explicitly (see
// nodeproxy.Proxy.AddTask's doc comment on the fixed asymmetric-argument
// bug). ok==false means the worker is unreachable; the node is removed
// with notification, which reclaims its task to the front of the pending
// queue via Registry.RemoveByID.
func (s *Scheduler) dispatchCallback(nodeID, taskID int64, ok bool) {
	if ok {
		return
	}
	s.post(func() {
		s.registry.RemoveByID(nodeID, true)
		s.tick()
	})
}

// tick is spec §4.4's refreshStatus: it only ever runs on the control
// loop goroutine (called directly from Run, or from within a closure that
// Run itself executed), so it requires no locking of its own beyond what
// Registry and Queue already provide internally.
func (s *Scheduler) tick() {
	stale := s.registry.StaleIDs(s.livenessThreshold)
	staleSet := make(map[int64]bool, len(stale))
	for _, id := range stale {
		staleSet[id] = true
	}

	runningCount := 0
	for _, ctx := range s.registry.Snapshot() {
		if staleSet[ctx.NodeID] {
			continue // removed at step 4 below with notifyRemoved=true
		}
		switch ctx.Status {
		case workerregistry.StatusReady:
			taskID, ok := s.queue.PopFront()
			if !ok {
				continue
			}
			s.queue.MarkAssigned(taskID, ctx.NodeID)
			s.registry.SetComputing(ctx.NodeID, taskID)
			runningCount++
			ctx.Proxy.AddTask(ctx.NodeID, taskID, nodeproxy.DefaultRequestTimeout, s.dispatchCallback)
		case workerregistry.StatusComputing:
			runningCount++
		}
	}

	for _, id := range stale {
		s.registry.RemoveByID(id, true)
	}

	s.mu.Lock()
	s.runningCount = runningCount
	s.mu.Unlock()

	if runningCount == 0 && s.queue.PendingLen() == 0 {
		s.finishOnce.Do(func() {
			s.solver.Finish()
			close(s.finished)
		})
	}
}
