// Package nodeproxy implements the Remote Node Proxy (C2): one peer's
// connection handshake, request-id allocation, last-heard-from timestamp,
// and typed RPC wrappers, all on top of a wire.PeerConn.
package nodeproxy

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Codesmith28/cloud-dispatch/internal/variant"
	"github.com/Codesmith28/cloud-dispatch/internal/wire"
)

// State is the proxy's connection lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Ready
	Closed
)

// DefaultRequestTimeout bounds every typed RPC below; spec leaves the
// exact figure to the implementer.
const DefaultRequestTimeout = 5 * time.Second

// Proxy represents one peer (worker, from the master's point of view, or
// master, from the worker's). A Proxy carries no explicit refcount: the
// Node Registry is its sole owner, and in-flight RPC completions close
// over a node id plus a registry lookup rather than the Proxy itself, so
// a completion for an already-removed node silently no-ops (see
// scheduler.dispatchCallback).
type Proxy struct {
	pc *wire.PeerConn

	myAddr     string
	remoteAddr string

	mu                sync.Mutex
	state             State
	remoteConnectionID int64
	lastUpdateTs      time.Time

	nextRequestID int64 // atomic
}

// New wraps an already-established PeerConn (e.g. handed to the master by
// the transport's accept loop, or returned by Transport.DialPeer on the
// worker side).
func New(pc *wire.PeerConn, myAddr, remoteAddr string) *Proxy {
	return &Proxy{
		pc:           pc,
		myAddr:       myAddr,
		remoteAddr:   remoteAddr,
		state:        Disconnected,
		lastUpdateTs: time.Now(),
	}
}

// MarkReady is used by the passive side of a handshake (the Master
// Protocol Handler, which receives rather than sends connect) to adopt a
// freshly accepted connection as Ready without going through Connect.
func (p *Proxy) MarkReady(remoteConnectionID int64) {
	p.mu.Lock()
	p.remoteConnectionID = remoteConnectionID
	p.state = Ready
	p.mu.Unlock()
}

func (p *Proxy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Proxy) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// RemoteConnectionID returns the id the peer echoes on every request, or
// zero if not yet connected.
func (p *Proxy) RemoteConnectionID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteConnectionID
}

func (p *Proxy) Touch() {
	p.mu.Lock()
	p.lastUpdateTs = time.Now()
	p.mu.Unlock()
}

func (p *Proxy) LastUpdateTs() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUpdateTs
}

func (p *Proxy) nextReqID() int64 {
	return atomic.AddInt64(&p.nextRequestID, 1)
}

func (p *Proxy) stamp(name string) *wire.Envelope {
	return &wire.Envelope{
		ConnectionID: p.RemoteConnectionID(),
		RequestID:    p.nextReqID(),
		Timestamp:    time.Now().UnixNano(),
		Name:         name,
	}
}

// Connect sends a connect request carrying this side's own listen
// address; onDone fires with ok=true once the reply stores a
// remoteConnectionId and the proxy transitions to Ready, or ok=false on
// ERROR (the proxy then transitions to Closed).
func (p *Proxy) Connect(timeout time.Duration, onDone func(ok bool)) {
	p.setState(Connecting)
	req := p.stamp(wire.NameConnect)
	req.Connect = &wire.ConnectPayload{Address: p.myAddr}

	err := p.pc.SendRequest(req, timeout, func(ok bool, resp *wire.Envelope) {
		if !ok || resp == nil || !resp.OK() {
			p.setState(Closed)
			if onDone != nil {
				onDone(false)
			}
			return
		}
		p.mu.Lock()
		p.remoteConnectionID = resp.ConnectionID
		p.state = Ready
		p.mu.Unlock()
		if onDone != nil {
			onDone(true)
		}
	})
	if err != nil {
		p.setState(Closed)
		if onDone != nil {
			onDone(false)
		}
	}
}

// Disconnect is fire-and-forget; the proxy transitions to Closed
// immediately regardless of delivery.
func (p *Proxy) Disconnect() {
	req := p.stamp(wire.NameDisconnect)
	req.Disconnect = &wire.DisconnectPayload{Address: p.myAddr}
	p.pc.SendRequest(req, 0, nil)
	p.setState(Closed)
}

// Heartbeat sends a liveness ping; cb reports ok/err.
func (p *Proxy) Heartbeat(timeout time.Duration, cb func(ok bool)) {
	req := p.stamp(wire.NameHeartbeat)
	req.Heartbeat = &wire.HeartbeatPayload{}
	err := p.pc.SendRequest(req, timeout, func(ok bool, resp *wire.Envelope) {
		success := ok && resp != nil && resp.OK()
		if success {
			p.Touch()
		}
		if cb != nil {
			cb(success)
		}
	})
	if err != nil && cb != nil {
		cb(false)
	}
}

// AddTask dispatches a compute request for taskID. cb is always invoked
// with both nodeID and taskID explicitly — spec.md Design Notes flags the
// original dispatch callback as passing nodeId on success and taskId on
// failure; this reimplementation always supplies both, closing that gap.
func (p *Proxy) AddTask(nodeID, taskID int64, timeout time.Duration, cb func(nodeID, taskID int64, ok bool)) {
	req := p.stamp(wire.NameCompute)
	req.Compute = &wire.ComputePayload{TaskID: taskID}
	err := p.pc.SendRequest(req, timeout, func(ok bool, resp *wire.Envelope) {
		success := ok && resp != nil && resp.OK()
		if success {
			p.Touch()
		}
		if cb != nil {
			cb(nodeID, taskID, success)
		}
	})
	if err != nil && cb != nil {
		cb(nodeID, taskID, false)
	}
}

// FinishTask reports a completed compute back to the master (worker
// side).
func (p *Proxy) FinishTask(taskID int64, result variant.Variants, timeUsage time.Duration, timeout time.Duration, cb func(ok bool)) {
	req := p.stamp(wire.NameFinishCompute)
	req.FinishCompute = &wire.FinishComputePayload{
		TaskID:    taskID,
		Result:    result,
		TimeUsage: timeUsage.Nanoseconds(),
	}
	err := p.pc.SendRequest(req, timeout, func(ok bool, resp *wire.Envelope) {
		success := ok && resp != nil && resp.OK()
		if success {
			p.Touch()
		}
		if cb != nil {
			cb(success)
		}
	})
	if err != nil && cb != nil {
		cb(false)
	}
}

// PeerConn exposes the underlying connection for components (e.g. the
// remote-shell session) that need to send requests not modeled by a
// typed wrapper above.
func (p *Proxy) PeerConn() *wire.PeerConn { return p.pc }

// RemoteAddr is this peer's advertised listen address.
func (p *Proxy) RemoteAddr() string { return p.remoteAddr }
