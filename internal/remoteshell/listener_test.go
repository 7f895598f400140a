package remoteshell

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/Codesmith28/cloud-dispatch/internal/wire"
)

func TestCreateSessionAssignsIncreasingIDs(t *testing.T) {
	l := NewListener(t.TempDir(), zap.NewNop())
	ctx := context.Background()
	pc := &wire.PeerConn{}

	r1 := l.Handle(ctx, pc, &wire.Envelope{Name: wire.NameCreateSession, CreateSession: &wire.CreateSessionPayload{Address: "tcp://client:1"}})
	r2 := l.Handle(ctx, pc, &wire.Envelope{Name: wire.NameCreateSession, CreateSession: &wire.CreateSessionPayload{Address: "tcp://client:2"}})

	if !r1.OK() || !r2.OK() {
		t.Fatalf("expected both create_session calls to succeed")
	}
	if r2.SessionID <= r1.SessionID {
		t.Fatalf("expected increasing session ids, got %d then %d", r1.SessionID, r2.SessionID)
	}
}

func TestExecuteCommandUnknownSessionRejected(t *testing.T) {
	l := NewListener(t.TempDir(), zap.NewNop())
	resp := l.Handle(context.Background(), &wire.PeerConn{}, &wire.Envelope{
		Name: wire.NameExecuteCommand, SessionID: 999,
		ExecuteCommand: &wire.ExecuteCommandPayload{Cmd: "echo"},
	})
	if resp.ErrorCode != wire.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %d", resp.ErrorCode)
	}
}

func TestHeartbeatRejectsUnknownSession(t *testing.T) {
	l := NewListener(t.TempDir(), zap.NewNop())
	resp := l.Handle(context.Background(), &wire.PeerConn{}, &wire.Envelope{
		Name: wire.NameSessionHeartbeat, SessionID: 42,
	})
	if resp.ErrorCode != wire.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %d", resp.ErrorCode)
	}
}

func TestFileSendThenFileGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewListener(dir, zap.NewNop())
	ctx := context.Background()
	pc := &wire.PeerConn{}

	created := l.Handle(ctx, pc, &wire.Envelope{
		Name: wire.NameCreateSession, CreateSession: &wire.CreateSessionPayload{Address: "tcp://client:1"},
	})
	sid := created.SessionID

	content := []byte("hello remote shell")
	sendResp := l.Handle(ctx, pc, &wire.Envelope{
		Name: wire.NameFileOperation, SessionID: sid,
		FileOperation: &wire.FileOperationPayload{Cmd: "fs", Paths: []string{"foo.txt"}, Blobs: [][]byte{content}},
	})
	if !sendResp.OK() {
		t.Fatalf("file send failed: error_code=%d", sendResp.ErrorCode)
	}
	if got, err := os.ReadFile(filepath.Join(dir, "foo.txt")); err != nil || string(got) != string(content) {
		t.Fatalf("file was not written as expected: err=%v got=%q", err, got)
	}

	getResp := l.Handle(ctx, pc, &wire.Envelope{
		Name: wire.NameFileOperation, SessionID: sid,
		FileOperation: &wire.FileOperationPayload{Cmd: "fg", Paths: []string{"foo.txt"}},
	})
	if !getResp.OK() || len(getResp.FileOperation.Blobs) != 1 {
		t.Fatalf("file get failed: %+v", getResp)
	}
	if string(getResp.FileOperation.Blobs[0]) != string(content) {
		t.Fatalf("file get returned wrong content: %q", getResp.FileOperation.Blobs[0])
	}
}

func TestFileOperationRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	l := NewListener(dir, zap.NewNop())
	ctx := context.Background()
	pc := &wire.PeerConn{}

	created := l.Handle(ctx, pc, &wire.Envelope{
		Name: wire.NameCreateSession, CreateSession: &wire.CreateSessionPayload{Address: "tcp://client:1"},
	})

	resp := l.Handle(ctx, pc, &wire.Envelope{
		Name: wire.NameFileOperation, SessionID: created.SessionID,
		FileOperation: &wire.FileOperationPayload{Cmd: "fg", Paths: []string{"../etc/passwd"}},
	})
	if resp.OK() {
		t.Fatalf("expected path escape to be rejected")
	}
}

func TestDeleteSessionRemovesSession(t *testing.T) {
	l := NewListener(t.TempDir(), zap.NewNop())
	ctx := context.Background()
	pc := &wire.PeerConn{}

	created := l.Handle(ctx, pc, &wire.Envelope{
		Name: wire.NameCreateSession, CreateSession: &wire.CreateSessionPayload{Address: "tcp://client:1"},
	})
	l.Handle(ctx, pc, &wire.Envelope{Name: wire.NameDeleteSession, SessionID: created.SessionID})

	resp := l.Handle(ctx, pc, &wire.Envelope{Name: wire.NameSessionHeartbeat, SessionID: created.SessionID})
	if resp.ErrorCode != wire.ErrNotFound {
		t.Fatalf("expected session to be gone after delete, got error_code=%d", resp.ErrorCode)
	}
}
