package masterserver

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Codesmith28/cloud-dispatch/internal/scheduler"
	"github.com/Codesmith28/cloud-dispatch/internal/solver"
	"github.com/Codesmith28/cloud-dispatch/internal/taskqueue"
	"github.com/Codesmith28/cloud-dispatch/internal/variant"
	"github.com/Codesmith28/cloud-dispatch/internal/wire"
	"github.com/Codesmith28/cloud-dispatch/internal/workerregistry"
)

type noopSolver struct{}

func (noopSolver) InitAsMaster(solver.TaskAppender)                                   {}
func (noopSolver) InitAsWorker()                                                      {}
func (noopSolver) Compute(int64) variant.Variants                                      { return nil }
func (noopSolver) SetResult(int64, variant.Reader, time.Duration)                      {}
func (noopSolver) Finish()                                                            {}

func newTestServer(t *testing.T) (*Server, *scheduler.Scheduler, context.CancelFunc) {
	t.Helper()
	q := taskqueue.New()
	r := workerregistry.New(q)
	sched := scheduler.New(q, r, noopSolver{}, 20*time.Millisecond, 35*time.Second)
	sched.Start()

	ctx, cancel := context.WithCancel(context.Background())
	go sched.Run(ctx)

	srv := New("tcp://master:3310", sched, r, zap.NewNop())
	return srv, sched, cancel
}

func TestHandleConnectAllocatesConnectionID(t *testing.T) {
	srv, _, cancel := newTestServer(t)
	defer cancel()

	pc := &wire.PeerConn{}
	req := &wire.Envelope{Name: wire.NameConnect, Connect: &wire.ConnectPayload{Address: "tcp://worker:9"}}

	resp := srv.Handle(context.Background(), pc, req)

	if !resp.OK() {
		t.Fatalf("expected OK reply, got error_code=%d", resp.ErrorCode)
	}
	if resp.ConnectionID == 0 {
		t.Fatalf("expected a nonzero allocated connection id")
	}
	if pc.LocalConnectionID != resp.ConnectionID {
		t.Fatalf("PeerConn.LocalConnectionID should match the allocated id")
	}
}

func TestHeartbeatRejectsMismatchedConnectionID(t *testing.T) {
	srv, _, cancel := newTestServer(t)
	defer cancel()

	pc := &wire.PeerConn{}
	connectResp := srv.Handle(context.Background(), pc, &wire.Envelope{
		Name: wire.NameConnect, Connect: &wire.ConnectPayload{Address: "tcp://worker:9"},
	})

	bad := &wire.Envelope{Name: wire.NameHeartbeat, ConnectionID: connectResp.ConnectionID + 1}
	resp := srv.Handle(context.Background(), pc, bad)
	if resp.OK() {
		t.Fatalf("expected connection mismatch to be rejected")
	}
	if resp.ErrorCode != wire.ErrConnectionMismatch {
		t.Fatalf("expected ErrConnectionMismatch, got %d", resp.ErrorCode)
	}
}

func TestHeartbeatAcceptsMatchingConnectionID(t *testing.T) {
	srv, _, cancel := newTestServer(t)
	defer cancel()

	pc := &wire.PeerConn{}
	connectResp := srv.Handle(context.Background(), pc, &wire.Envelope{
		Name: wire.NameConnect, Connect: &wire.ConnectPayload{Address: "tcp://worker:9"},
	})

	good := &wire.Envelope{Name: wire.NameHeartbeat, ConnectionID: connectResp.ConnectionID}
	resp := srv.Handle(context.Background(), pc, good)
	if !resp.OK() {
		t.Fatalf("expected OK for a matching connection id, got error_code=%d", resp.ErrorCode)
	}
}

func TestUnknownRequestKindRejected(t *testing.T) {
	srv, _, cancel := newTestServer(t)
	defer cancel()

	resp := srv.Handle(context.Background(), &wire.PeerConn{}, &wire.Envelope{Name: "bogus"})
	if resp.ErrorCode != wire.ErrUnknownName {
		t.Fatalf("expected ErrUnknownName, got %d", resp.ErrorCode)
	}
}
