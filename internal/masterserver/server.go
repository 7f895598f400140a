// Package masterserver implements the Master Protocol Handler (C5): it
// demultiplexes incoming requests by oneof tag onto the Node Registry and
// Task Scheduler (C3/C4) and emits a reply synchronously.
//
// Adapted from go-master/pkg/master/server.go's method-per-request-kind
// shape, generalized from gRPC-generated dispatch to a Name-tag switch
// over wire.Envelope.
package masterserver

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Codesmith28/cloud-dispatch/internal/nodeproxy"
	"github.com/Codesmith28/cloud-dispatch/internal/scheduler"
	"github.com/Codesmith28/cloud-dispatch/internal/wire"
	"github.com/Codesmith28/cloud-dispatch/internal/workerregistry"
)

// Server is the master side's wire.Handler.
type Server struct {
	myAddr    string
	scheduler *scheduler.Scheduler
	registry  *workerregistry.Registry
	logger    *zap.Logger

	mu         sync.Mutex
	nextConnID int64
	byConn     map[*wire.PeerConn]int64 // pc -> nodeID
}

var _ wire.Handler = (*Server)(nil)

func New(myAddr string, sched *scheduler.Scheduler, registry *workerregistry.Registry, logger *zap.Logger) *Server {
	return &Server{
		myAddr:    myAddr,
		scheduler: sched,
		registry:  registry,
		logger:    logger,
		byConn:    make(map[*wire.PeerConn]int64),
	}
}

func (s *Server) Handle(ctx context.Context, pc *wire.PeerConn, req *wire.Envelope) *wire.Envelope {
	switch req.Name {
	case wire.NameConnect:
		return s.handleConnect(pc, req)
	case wire.NameDisconnect:
		return s.handleDisconnect(pc, req)
	case wire.NameHeartbeat:
		return s.handleHeartbeat(pc, req)
	case wire.NameFinishCompute:
		return s.handleFinishCompute(pc, req)
	default:
		s.logger.Warn("unrecognized request kind", zap.String("name", req.Name))
		return &wire.Envelope{Name: req.Name, ErrorCode: wire.ErrUnknownName}
	}
}

func (s *Server) handleConnect(pc *wire.PeerConn, req *wire.Envelope) *wire.Envelope {
	if req.Connect == nil {
		return &wire.Envelope{Name: req.Name, ErrorCode: wire.ErrMalformed}
	}

	s.mu.Lock()
	s.nextConnID++
	connID := s.nextConnID
	s.mu.Unlock()

	pc.LocalConnectionID = connID

	proxy := nodeproxy.New(pc, s.myAddr, req.Connect.Address)
	proxy.MarkReady(connID)

	node := s.scheduler.OnNodeAvailable(proxy)

	s.mu.Lock()
	if node != nil {
		s.byConn[pc] = node.NodeID
	}
	s.mu.Unlock()

	s.logger.Info("worker connected",
		zap.String("address", req.Connect.Address),
		zap.Int64("connection_id", connID))

	return &wire.Envelope{Name: req.Name, ConnectionID: connID}
}

func (s *Server) handleDisconnect(pc *wire.PeerConn, req *wire.Envelope) *wire.Envelope {
	if req.Disconnect == nil {
		return &wire.Envelope{Name: req.Name, ErrorCode: wire.ErrMalformed}
	}
	if !s.validateConnection(pc, req) {
		return &wire.Envelope{Name: req.Name, ErrorCode: wire.ErrConnectionMismatch}
	}

	nodeID, ok := s.nodeIDFor(pc)
	if !ok {
		if ctx, found := s.registry.FindByAddress(req.Disconnect.Address); found {
			nodeID, ok = ctx.NodeID, true
		}
	}
	if ok {
		s.scheduler.OnNodeUnavailable(nodeID)
		s.mu.Lock()
		delete(s.byConn, pc)
		s.mu.Unlock()
	}

	return &wire.Envelope{Name: req.Name}
}

func (s *Server) handleHeartbeat(pc *wire.PeerConn, req *wire.Envelope) *wire.Envelope {
	if !s.validateConnection(pc, req) {
		return &wire.Envelope{Name: req.Name, ErrorCode: wire.ErrConnectionMismatch}
	}
	if nodeID, ok := s.nodeIDFor(pc); ok {
		s.registry.Touch(nodeID)
	}
	return &wire.Envelope{Name: req.Name}
}

func (s *Server) handleFinishCompute(pc *wire.PeerConn, req *wire.Envelope) *wire.Envelope {
	if req.FinishCompute == nil {
		return &wire.Envelope{Name: req.Name, ErrorCode: wire.ErrMalformed}
	}
	if !s.validateConnection(pc, req) {
		return &wire.Envelope{Name: req.Name, ErrorCode: wire.ErrConnectionMismatch}
	}

	fc := req.FinishCompute
	s.scheduler.HandleFinishCompute(fc.TaskID, fc.Result, time.Duration(fc.TimeUsage)*time.Nanosecond)

	return &wire.Envelope{Name: req.Name}
}

func (s *Server) validateConnection(pc *wire.PeerConn, req *wire.Envelope) bool {
	return req.ConnectionID == pc.LocalConnectionID
}

func (s *Server) nodeIDFor(pc *wire.PeerConn) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byConn[pc]
	return id, ok
}

