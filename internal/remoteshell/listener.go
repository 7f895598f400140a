package remoteshell

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Codesmith28/cloud-dispatch/internal/wire"
)

// Listener is the C7 Listener endpoint: it accepts CreateSession, spawns
// a per-session Executor, and demultiplexes ExecuteCommand/FileOperation/
// SessionHeartbeat/DeleteSession by session_id.
type Listener struct {
	sessions *SessionManager
	workDir  string
	logger   *zap.Logger
}

var _ wire.Handler = (*Listener)(nil)

func NewListener(workDir string, logger *zap.Logger) *Listener {
	return &Listener{
		sessions: NewSessionManager(),
		workDir:  workDir,
		logger:   logger,
	}
}

// SweepExpired tears down sessions whose heartbeat has lapsed, mirroring
// the master's stale-node reclaim tick. Intended to be run on its own
// ticker by the caller (e.g. every few seconds).
func (l *Listener) SweepExpired() {
	for _, s := range l.sessions.Expired(time.Now()) {
		s.Executor.Kill()
		l.sessions.Delete(s.ID)
		l.logger.Info("remote-shell session expired", zap.Int64("session_id", s.ID))
	}
}

func (l *Listener) Handle(ctx context.Context, pc *wire.PeerConn, req *wire.Envelope) *wire.Envelope {
	switch req.Name {
	case wire.NameCreateSession:
		return l.handleCreateSession(req)
	case wire.NameDeleteSession:
		return l.handleDeleteSession(req)
	case wire.NameSessionHeartbeat:
		return l.handleHeartbeat(req)
	case wire.NameExecuteCommand:
		return l.handleExecuteCommand(pc, req)
	case wire.NameFileOperation:
		return l.handleFileOperation(req)
	default:
		return &wire.Envelope{Name: req.Name, ErrorCode: wire.ErrUnknownName}
	}
}

func (l *Listener) handleCreateSession(req *wire.Envelope) *wire.Envelope {
	if req.CreateSession == nil {
		return &wire.Envelope{Name: req.Name, ErrorCode: wire.ErrMalformed}
	}
	s := l.sessions.Create(req.CreateSession.Address)
	l.logger.Info("remote-shell session created",
		zap.Int64("session_id", s.ID), zap.String("client", s.ClientAddr))
	return &wire.Envelope{Name: req.Name, SessionID: s.ID}
}

func (l *Listener) handleDeleteSession(req *wire.Envelope) *wire.Envelope {
	s, ok := l.sessions.Delete(req.SessionID)
	if ok {
		s.Executor.Kill()
	}
	return &wire.Envelope{Name: req.Name, SessionID: req.SessionID}
}

func (l *Listener) handleHeartbeat(req *wire.Envelope) *wire.Envelope {
	if !l.sessions.Touch(req.SessionID) {
		return &wire.Envelope{Name: req.Name, SessionID: req.SessionID, ErrorCode: wire.ErrNotFound}
	}
	return &wire.Envelope{Name: req.Name, SessionID: req.SessionID}
}

func (l *Listener) handleExecuteCommand(pc *wire.PeerConn, req *wire.Envelope) *wire.Envelope {
	if req.ExecuteCommand == nil {
		return &wire.Envelope{Name: req.Name, ErrorCode: wire.ErrMalformed}
	}
	s, ok := l.sessions.Get(req.SessionID)
	if !ok {
		return &wire.Envelope{Name: req.Name, SessionID: req.SessionID, ErrorCode: wire.ErrNotFound}
	}
	runTag := uuid.New().String()
	err := s.Executor.Run(pc, s.ID, req.RequestID, req.ExecuteCommand.Cmd, req.ExecuteCommand.Args)
	if err != nil {
		l.logger.Warn("failed to start command",
			zap.String("run_tag", runTag), zap.String("cmd", req.ExecuteCommand.Cmd), zap.Error(err))
		return &wire.Envelope{Name: req.Name, SessionID: req.SessionID, ErrorCode: wire.ErrMalformed}
	}
	l.logger.Info("command started",
		zap.String("run_tag", runTag), zap.Int64("session_id", s.ID), zap.String("cmd", req.ExecuteCommand.Cmd))
	return &wire.Envelope{Name: req.Name, SessionID: req.SessionID}
}

func (l *Listener) handleFileOperation(req *wire.Envelope) *wire.Envelope {
	if req.FileOperation == nil {
		return &wire.Envelope{Name: req.Name, ErrorCode: wire.ErrMalformed}
	}
	if _, ok := l.sessions.Get(req.SessionID); !ok {
		return &wire.Envelope{Name: req.Name, SessionID: req.SessionID, ErrorCode: wire.ErrNotFound}
	}

	switch req.FileOperation.Cmd {
	case "fs":
		return l.handleFileSend(req)
	case "fg":
		return l.handleFileGet(req)
	default:
		return &wire.Envelope{Name: req.Name, SessionID: req.SessionID, ErrorCode: wire.ErrMalformed}
	}
}

// handleFileSend ("file send") writes client-pushed blobs under workDir.
func (l *Listener) handleFileSend(req *wire.Envelope) *wire.Envelope {
	fo := req.FileOperation
	for i, p := range fo.Paths {
		if i >= len(fo.Blobs) {
			break
		}
		dest, err := l.resolvePath(p)
		if err != nil {
			return &wire.Envelope{Name: req.Name, SessionID: req.SessionID, ErrorCode: wire.ErrMalformed}
		}
		if err := os.WriteFile(dest, fo.Blobs[i], 0o644); err != nil {
			l.logger.Warn("file send write failed", zap.String("path", dest), zap.Error(err))
			return &wire.Envelope{Name: req.Name, SessionID: req.SessionID, ErrorCode: wire.ErrMalformed}
		}
	}
	return &wire.Envelope{Name: req.Name, SessionID: req.SessionID, FileOperation: &wire.FileOperationPayload{Cmd: "fs"}}
}

// handleFileGet ("file get") reads files from workDir and returns them.
func (l *Listener) handleFileGet(req *wire.Envelope) *wire.Envelope {
	fo := req.FileOperation
	resp := &wire.FileOperationPayload{Cmd: "fg"}
	for _, p := range fo.Paths {
		src, err := l.resolvePath(p)
		if err != nil {
			return &wire.Envelope{Name: req.Name, SessionID: req.SessionID, ErrorCode: wire.ErrMalformed}
		}
		data, err := os.ReadFile(src)
		if err != nil {
			l.logger.Warn("file get read failed", zap.String("path", src), zap.Error(err))
			return &wire.Envelope{Name: req.Name, SessionID: req.SessionID, ErrorCode: wire.ErrNotFound}
		}
		resp.Paths = append(resp.Paths, p)
		resp.Blobs = append(resp.Blobs, data)
	}
	return &wire.Envelope{Name: req.Name, SessionID: req.SessionID, FileOperation: resp}
}

func (l *Listener) resolvePath(p string) (string, error) {
	clean := filepath.Clean(p)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", errors.New("remoteshell: path escapes work directory")
	}
	return filepath.Join(l.workDir, clean), nil
}
