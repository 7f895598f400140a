package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler decodes and reacts to an inbound request, returning the reply
// envelope to write back. It is the single demultiplexing seam C5/C7
// register themselves behind.
type Handler interface {
	Handle(ctx context.Context, pc *PeerConn, req *Envelope) *Envelope
}

// ReplyFunc is invoked exactly once with the outcome of an outstanding
// request: ok and the response on success, !ok on transport error or
// timeout.
type ReplyFunc func(ok bool, resp *Envelope)

type pendingCall struct {
	cb    ReplyFunc
	timer *time.Timer
}

// PeerConn is a single persistent full-duplex connection to one peer.
// Both directions flow over it for the lifetime of the underlying
// websocket: once established (by either dialing out or accepting an
// inbound upgrade), either side may originate requests on it.
type PeerConn struct {
	RemoteAddr string

	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	mu      sync.Mutex
	pending map[int64]*pendingCall
	closed  bool

	// LocalConnectionID is the id this process allocated for the peer on
	// this connection (master side); set once a connect handshake
	// succeeds. Zero until then.
	LocalConnectionID int64
}

func newPeerConn(conn *websocket.Conn, addr string, logger *zap.Logger) *PeerConn {
	pc := &PeerConn{
		RemoteAddr: addr,
		conn:       conn,
		send:       make(chan []byte, 64),
		logger:     logger,
		pending:    make(map[int64]*pendingCall),
	}
	return pc
}

// SendRequest stamps nothing (the caller, typically a nodeproxy.Proxy, is
// responsible for connection_id/request_id/timestamp) and writes req over
// the wire. If timeout is zero the send is fire-and-forget: no pending
// entry is registered and cb is never invoked. Otherwise, if SendRequest
// returns nil, cb fires exactly once, either with the correlated reply or
// ok=false on timeout/transport error; if it returns an error (connection
// closed or never opened, send buffer full), cb is never invoked.
func (pc *PeerConn) SendRequest(req *Envelope, timeout time.Duration, cb ReplyFunc) error {
	if timeout <= 0 {
		return pc.write(req)
	}

	pc.mu.Lock()
	if pc.closed || pc.pending == nil {
		pc.mu.Unlock()
		return errors.New("wire: connection closed")
	}
	timer := time.AfterFunc(timeout, func() { pc.fireTimeout(req.RequestID) })
	pc.pending[req.RequestID] = &pendingCall{cb: cb, timer: timer}
	pc.mu.Unlock()

	if err := pc.write(req); err != nil {
		pc.mu.Lock()
		if call, ok := pc.pending[req.RequestID]; ok {
			call.timer.Stop()
			delete(pc.pending, req.RequestID)
		}
		pc.mu.Unlock()
		return err
	}
	return nil
}

// SendResponse writes a reply envelope (IsResponse=true) back to the peer.
func (pc *PeerConn) SendResponse(resp *Envelope) error {
	resp.IsResponse = true
	return pc.write(resp)
}

func (pc *PeerConn) fireTimeout(requestID int64) {
	pc.mu.Lock()
	call, ok := pc.pending[requestID]
	if ok {
		delete(pc.pending, requestID)
	}
	pc.mu.Unlock()
	if ok {
		call.cb(false, nil)
	}
}

func (pc *PeerConn) deliverResponse(resp *Envelope) {
	pc.mu.Lock()
	call, ok := pc.pending[resp.RequestID]
	if ok {
		call.timer.Stop()
		delete(pc.pending, resp.RequestID)
	}
	pc.mu.Unlock()
	if !ok {
		return // unknown or already-timed-out request id; drop silently
	}
	call.cb(resp.OK(), resp)
}

func (pc *PeerConn) write(e *Envelope) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	select {
	case pc.send <- b:
		return nil
	default:
		return errors.New("wire: send buffer full")
	}
}

// Close abandons all pending calls (firing ok=false) and closes the
// underlying socket.
func (pc *PeerConn) Close() {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return
	}
	pc.closed = true
	pending := pc.pending
	pc.pending = nil
	pc.mu.Unlock()

	for _, call := range pending {
		call.timer.Stop()
		call.cb(false, nil)
	}
	close(pc.send)
}

func (pc *PeerConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer pc.conn.Close()

	for {
		select {
		case msg, ok := <-pc.send:
			pc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				pc.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := pc.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			pc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := pc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Transport runs one websocket endpoint: it serves inbound upgrades and
// can dial out, demultiplexing every frame on a
// connection to either a registered Handler (inbound requests) or a
// pending call's callback (responses).
type Transport struct {
	logger  *zap.Logger
	handler Handler
	dialer  websocket.Dialer

	httpServer *http.Server

	mu      sync.Mutex
	dialed  map[string]*PeerConn
	accepted []*PeerConn
}

func NewTransport(logger *zap.Logger, handler Handler) *Transport {
	return &Transport{
		logger:  logger,
		handler: handler,
		dialer:  websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		dialed:  make(map[string]*PeerConn),
	}
}

// Serve binds addr and upgrades inbound connections on /rpc. It blocks
// until the context is cancelled or the listener fails.
func (t *Transport) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", t.handleUpgrade)

	t.httpServer = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := t.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		t.httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	pc := newPeerConn(conn, r.RemoteAddr, t.logger)
	t.mu.Lock()
	t.accepted = append(t.accepted, pc)
	t.mu.Unlock()

	go pc.writePump()
	t.readPump(pc)
}

// DialPeer opens (or reuses) a persistent connection to addr, of the form
// "tcp://HOST:PORT".
func (t *Transport) DialPeer(addr string) (*PeerConn, error) {
	t.mu.Lock()
	if pc, ok := t.dialed[addr]; ok {
		t.mu.Unlock()
		return pc, nil
	}
	t.mu.Unlock()

	wsURL := toWebsocketURL(addr)
	conn, _, err := t.dialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: dial %s: %w", addr, err)
	}

	pc := newPeerConn(conn, addr, t.logger)

	t.mu.Lock()
	t.dialed[addr] = pc
	t.mu.Unlock()

	go pc.writePump()
	go t.readPump(pc)

	return pc, nil
}

func toWebsocketURL(addr string) string {
	hostPort := strings.TrimPrefix(addr, "tcp://")
	return "ws://" + hostPort + "/rpc"
}

func (t *Transport) readPump(pc *PeerConn) {
	defer pc.Close()

	pc.conn.SetReadLimit(maxMessageSize)
	pc.conn.SetReadDeadline(time.Now().Add(pongWait))
	pc.conn.SetPongHandler(func(string) error {
		pc.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := pc.conn.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.logger.Warn("malformed frame", zap.Error(err))
			continue
		}

		if env.IsResponse {
			pc.deliverResponse(&env)
			continue
		}

		if t.handler == nil {
			continue
		}
		reply := t.handler.Handle(context.Background(), pc, &env)
		if reply == nil {
			continue
		}
		reply.RequestID = env.RequestID
		if err := pc.SendResponse(reply); err != nil {
			t.logger.Warn("failed to write response", zap.Error(err))
		}
	}
}

// Shutdown closes every known connection.
func (t *Transport) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, pc := range t.dialed {
		pc.Close()
	}
	for _, pc := range t.accepted {
		pc.Close()
	}
}
