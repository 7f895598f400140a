package workerruntime

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Codesmith28/cloud-dispatch/internal/nodeproxy"
	"github.com/Codesmith28/cloud-dispatch/internal/solver"
	"github.com/Codesmith28/cloud-dispatch/internal/variant"
	"github.com/Codesmith28/cloud-dispatch/internal/wire"
)

type stubSolver struct {
	computed []int64
}

func (s *stubSolver) InitAsMaster(solver.TaskAppender) {}
func (s *stubSolver) InitAsWorker()                    {}
func (s *stubSolver) Compute(taskID int64) variant.Variants {
	s.computed = append(s.computed, taskID)
	return variant.Variants{variant.Int64(taskID * 2)}
}
func (s *stubSolver) SetResult(int64, variant.Reader, time.Duration) {}
func (s *stubSolver) Finish()                                       {}

func TestHandleRejectsNonComputeRequests(t *testing.T) {
	rt := New("tcp://worker:1", "tcp://master:1", &stubSolver{}, zap.NewNop())
	resp := rt.Handle(context.Background(), &wire.PeerConn{}, &wire.Envelope{Name: wire.NameHeartbeat})
	if resp.ErrorCode != wire.ErrUnknownName {
		t.Fatalf("expected ErrUnknownName, got %d", resp.ErrorCode)
	}
}

func TestHandleRejectsMalformedCompute(t *testing.T) {
	rt := New("tcp://worker:1", "tcp://master:1", &stubSolver{}, zap.NewNop())
	resp := rt.Handle(context.Background(), &wire.PeerConn{}, &wire.Envelope{Name: wire.NameCompute})
	if resp.ErrorCode != wire.ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %d", resp.ErrorCode)
	}
}

func TestHandleAcksComputeAndInvokesSolverAsync(t *testing.T) {
	sv := &stubSolver{}
	rt := New("tcp://worker:1", "tcp://master:1", sv, zap.NewNop())
	// A bare PeerConn's FinishTask call will fail synchronously (no real
	// socket), which is fine: this test only checks the ack is immediate
	// and the solver eventually runs.
	rt.proxy = nodeproxy.New(&wire.PeerConn{}, rt.myAddr, rt.masterAddr)

	resp := rt.Handle(context.Background(), &wire.PeerConn{}, &wire.Envelope{
		Name: wire.NameCompute, Compute: &wire.ComputePayload{TaskID: 7},
	})
	if !resp.OK() {
		t.Fatalf("expected immediate OK ack, got error_code=%d", resp.ErrorCode)
	}

	deadline := time.After(time.Second)
	for len(sv.computed) == 0 {
		select {
		case <-deadline:
			t.Fatalf("solver.Compute was never invoked")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if sv.computed[0] != 7 {
		t.Fatalf("expected Compute(7), got Compute(%d)", sv.computed[0])
	}
}

func TestReportFinishWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	sv := &stubSolver{}
	rt := New("tcp://worker:1", "tcp://master:1", sv, logger)
	rt.proxy = nodeproxy.New(&wire.PeerConn{}, rt.myAddr, rt.masterAddr)

	start := time.Now()
	rt.reportFinishWithRetry(1, variant.Variants{variant.Int64(2)}, time.Millisecond)
	elapsed := time.Since(start)

	// Backoffs are 1s then 2s between the three attempts.
	if elapsed < 3*time.Second {
		t.Fatalf("expected retries to honor the 1s/2s backoff, elapsed=%s", elapsed)
	}
	if logs.FilterMessageSnippet("relying on master's liveness timer").Len() != 1 {
		t.Fatalf("expected exactly one give-up warning to be logged")
	}
}
