// Package workerregistry implements the Node Registry (C3): the master's
// set of currently known workers, each tagged with a lifecycle state.
//
// Adapted from go-master/pkg/workerregistry's mutex-guarded map plus
// subscriber-event idiom, retargeted from resource-bin-packing
// (Reserve/Release CPU/mem/GPU) to the READY/COMPUTING lifecycle and
// reclaim-on-removal behavior spec §4.3 calls for.
package workerregistry

import (
	"sync"
	"time"

	"github.com/Codesmith28/cloud-dispatch/internal/taskqueue"
)

type Status int

const (
	StatusReady Status = iota
	StatusComputing
)

// Proxy is the slice of nodeproxy.Proxy's behavior the registry and
// scheduler need. Depending on this narrow interface (rather than the
// concrete, transport-backed type) lets both be exercised with an
// in-memory fake, with no real socket involved.
type Proxy interface {
	AddTask(nodeID, taskID int64, timeout time.Duration, cb func(nodeID, taskID int64, ok bool))
	Disconnect()
	RemoteAddr() string
}

// NodeContext is the master-side record of one worker, per spec §3.
type NodeContext struct {
	NodeID        int64
	Proxy         Proxy
	Status        Status
	CurrentTaskID int64 // -1 if READY
	LastUpdateTs  time.Time
}

type EventKind int

const (
	EventAdded EventKind = iota
	EventRemoved
)

// Event is published to subscribers on add/remove, mirroring the
// teacher's RegistryEvent pub-sub idiom (used here for observability —
// e.g. a CLI status command or log line — not for correctness).
type Event struct {
	Kind   EventKind
	NodeID int64
}

// Registry owns every NodeContext exclusively (spec §3 ownership rule).
// All mutation is serialized through Registry's own mutex, which stands
// in for "the control thread" (§5) regardless of which goroutine actually
// calls in.
type Registry struct {
	mu         sync.Mutex
	nodes      map[int64]*NodeContext
	order      []int64 // insertion order, oldest first
	nextNodeID int64
	queue      *taskqueue.Queue

	subscribers []chan<- Event
}

// New creates a Registry that reclaims lost tasks into queue.
func New(queue *taskqueue.Queue) *Registry {
	return &Registry{
		nodes: make(map[int64]*NodeContext),
		queue: queue,
	}
}

// Subscribe registers ch to receive future Add/Remove events.
func (r *Registry) Subscribe(ch chan<- Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, ch)
}

func (r *Registry) notify(ev Event) {
	for _, ch := range r.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Add allocates a fresh node id for proxy, stores a READY NodeContext, and
// returns it.
func (r *Registry) Add(proxy Proxy) *NodeContext {
	r.mu.Lock()
	r.nextNodeID++
	id := r.nextNodeID
	ctx := &NodeContext{
		NodeID:        id,
		Proxy:         proxy,
		Status:        StatusReady,
		CurrentTaskID: -1,
		LastUpdateTs:  time.Now(),
	}
	r.nodes[id] = ctx
	r.order = append(r.order, id)
	r.mu.Unlock()

	r.notify(Event{Kind: EventAdded, NodeID: id})
	return ctx
}

// RemoveByID removes the NodeContext for id, if present. If
// notifyRemoved, the peer's proxy is disconnected (fire-and-forget) so it
// can clean up. If the removed context was COMPUTING, its currentTaskId
// is pushed to the front of the pending queue — the reclaim rule.
func (r *Registry) RemoveByID(id int64, notifyRemoved bool) bool {
	r.mu.Lock()
	ctx, ok := r.nodes[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.nodes, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if notifyRemoved && ctx.Proxy != nil {
		ctx.Proxy.Disconnect()
	}
	if ctx.Status == StatusComputing && ctx.CurrentTaskID >= 0 {
		r.queue.PushFront(ctx.CurrentTaskID)
	}

	r.notify(Event{Kind: EventRemoved, NodeID: id})
	return true
}

func (r *Registry) Find(id int64) (*NodeContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.nodes[id]
	return ctx, ok
}

// Snapshot returns a copy of the current NodeContext pointers in registry
// (insertion) order — oldest idle worker first, per the tick's
// tie-break rule.
func (r *Registry) Snapshot() []*NodeContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*NodeContext, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.nodes[id])
	}
	return out
}

// SetComputing marks node id COMPUTING with taskID.
func (r *Registry) SetComputing(id, taskID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx, ok := r.nodes[id]; ok {
		ctx.Status = StatusComputing
		ctx.CurrentTaskID = taskID
	}
}

// SetReady marks node id READY with no current task.
func (r *Registry) SetReady(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ctx, ok := r.nodes[id]; ok {
		ctx.Status = StatusReady
		ctx.CurrentTaskID = -1
	}
}

// Touch refreshes lastUpdateTs for id (the master calls it on each
// heartbeat request), reporting whether the node is still known.
func (r *Registry) Touch(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, ok := r.nodes[id]
	if !ok {
		return false
	}
	ctx.LastUpdateTs = time.Now()
	return true
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}

// StaleIDs returns node ids whose lastUpdateTs is older than threshold,
// in registry order.
func (r *Registry) StaleIDs(threshold time.Duration) []int64 {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []int64
	for _, id := range r.order {
		ctx := r.nodes[id]
		if now.Sub(ctx.LastUpdateTs) > threshold {
			stale = append(stale, id)
		}
	}
	return stale
}

// FindByAddress looks up a node by its proxy's remote address, used by
// the disconnect(address) request kind.
func (r *Registry) FindByAddress(addr string) (*NodeContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		ctx := r.nodes[id]
		if ctx.Proxy != nil && ctx.Proxy.RemoteAddr() == addr {
			return ctx, true
		}
	}
	return nil, false
}
