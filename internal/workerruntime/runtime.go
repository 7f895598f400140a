// Package workerruntime implements the Worker Runtime (C6): the opposite
// end of the protocol from the master. It registers with the master,
// receives compute requests, invokes the user Solver, and reports
// completion with a bounded exponential-backoff retry.
//
// The retry shape is adapted from
// worker/internal/server/worker_server.go's reportCancellationWithRetry:
// three attempts with a 1s then 2s backoff between them before giving up
// and trusting
// the master's liveness timer to reclaim the task.
package workerruntime

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Codesmith28/cloud-dispatch/internal/nodeproxy"
	"github.com/Codesmith28/cloud-dispatch/internal/solver"
	"github.com/Codesmith28/cloud-dispatch/internal/variant"
	"github.com/Codesmith28/cloud-dispatch/internal/wire"
)

// HeartbeatInterval is roughly half the master's 35s liveness threshold,
// per spec §4.6.
const HeartbeatInterval = 17500 * time.Millisecond

const maxFinishRetries = 3

type Runtime struct {
	myAddr     string
	masterAddr string
	solver     solver.Solver
	logger     *zap.Logger

	transport *wire.Transport
	proxy     *nodeproxy.Proxy
}

func New(myAddr, masterAddr string, sv solver.Solver, logger *zap.Logger) *Runtime {
	rt := &Runtime{
		myAddr:     myAddr,
		masterAddr: masterAddr,
		solver:     sv,
		logger:     logger,
	}
	rt.transport = wire.NewTransport(logger, rt)
	return rt
}

var _ wire.Handler = (*Runtime)(nil)

// Start binds the worker's own listener (kept for protocol symmetry with
// the master/remote-shell pairing even though, in this implementation,
// pushed compute requests arrive over the same connection the worker
// dials out on) and connects to the master.
func (rt *Runtime) Start(ctx context.Context, listenAddr string) error {
	go func() {
		if err := rt.transport.Serve(ctx, listenAddr); err != nil && ctx.Err() == nil {
			rt.logger.Warn("worker listener stopped", zap.Error(err))
		}
	}()

	if err := rt.connectToMaster(); err != nil {
		return err
	}

	go rt.heartbeatLoop(ctx)
	return nil
}

func (rt *Runtime) connectToMaster() error {
	pc, err := rt.transport.DialPeer(rt.masterAddr)
	if err != nil {
		return err
	}
	rt.proxy = nodeproxy.New(pc, rt.myAddr, rt.masterAddr)

	result := make(chan bool, 1)
	rt.proxy.Connect(nodeproxy.DefaultRequestTimeout, func(ok bool) { result <- ok })
	if !<-result {
		return errors.New("workerruntime: connect to master failed")
	}

	rt.solver.InitAsWorker()
	rt.logger.Info("connected to master", zap.String("master_address", rt.masterAddr))
	return nil
}

func (rt *Runtime) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.proxy.Heartbeat(nodeproxy.DefaultRequestTimeout, func(ok bool) {
				if !ok {
					rt.logger.Warn("heartbeat to master failed")
				}
			})
		}
	}
}

// Handle services requests the master pushes down the worker's proxy
// connection. Only "compute" is expected; anything else is rejected.
func (rt *Runtime) Handle(ctx context.Context, pc *wire.PeerConn, req *wire.Envelope) *wire.Envelope {
	if req.Name != wire.NameCompute {
		return &wire.Envelope{Name: req.Name, ErrorCode: wire.ErrUnknownName}
	}
	if req.Compute == nil {
		return &wire.Envelope{Name: req.Name, ErrorCode: wire.ErrMalformed}
	}

	taskID := req.Compute.TaskID
	go rt.executeTask(taskID)

	// Ack immediately; the real result is reported later via a separate
	// finishCompute request, mirroring the teacher's assign-then-async-
	// execute pattern in AssignTask/executeTask.
	return &wire.Envelope{Name: req.Name}
}

func (rt *Runtime) executeTask(taskID int64) {
	start := time.Now()
	result := rt.solver.Compute(taskID)
	elapsed := time.Since(start)
	rt.reportFinishWithRetry(taskID, result, elapsed)
}

func (rt *Runtime) reportFinishWithRetry(taskID int64, result variant.Variants, elapsed time.Duration) {
	for attempt := 1; attempt <= maxFinishRetries; attempt++ {
		ok := rt.reportFinishOnce(taskID, result, elapsed)
		if ok {
			return
		}
		if attempt < maxFinishRetries {
			backoff := time.Duration(int64(1)<<uint(attempt-1)) * time.Second
			time.Sleep(backoff)
		}
	}
	rt.logger.Warn("finishTask failed after retries; relying on master's liveness timer to reclaim",
		zap.Int64("task_id", taskID))
}

func (rt *Runtime) reportFinishOnce(taskID int64, result variant.Variants, elapsed time.Duration) bool {
	done := make(chan bool, 1)
	rt.proxy.FinishTask(taskID, result, elapsed, nodeproxy.DefaultRequestTimeout, func(ok bool) { done <- ok })
	return <-done
}
