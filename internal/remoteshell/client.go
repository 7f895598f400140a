package remoteshell

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/Codesmith28/cloud-dispatch/internal/wire"
)

// HeartbeatInterval is comfortably inside HeartbeatTimeout so a single
// missed send doesn't trip the listener's deadline.
const HeartbeatInterval = 10 * time.Second

// Client is the Local Client endpoint (C7): an interactive terminal that
// parses commands per ParseCommand and drives a remote-shell session.
type Client struct {
	transport    *wire.Transport
	pc           *wire.PeerConn
	sessionID    int64
	connectionID int64
	myAddr       string
	logger       *zap.Logger

	out     io.Writer
	exitSig chan *wire.ExecuteOutputPayload
}

var _ wire.Handler = (*Client)(nil)

func NewClient(myAddr string, logger *zap.Logger) *Client {
	c := &Client{
		myAddr:  myAddr,
		logger:  logger,
		out:     os.Stdout,
		exitSig: make(chan *wire.ExecuteOutputPayload, 1),
	}
	c.transport = wire.NewTransport(logger, c)
	return c
}

// Connect dials the listener and creates a session.
func (c *Client) Connect(listenerAddr string) error {
	pc, err := c.transport.DialPeer(listenerAddr)
	if err != nil {
		return err
	}
	c.pc = pc

	req := &wire.Envelope{
		Name:          wire.NameCreateSession,
		Timestamp:     time.Now().UnixNano(),
		CreateSession: &wire.CreateSessionPayload{Address: c.myAddr},
	}
	result := make(chan *wire.Envelope, 1)
	if err := pc.SendRequest(req, 5*time.Second, func(ok bool, resp *wire.Envelope) {
		if ok {
			result <- resp
		} else {
			result <- nil
		}
	}); err != nil {
		return err
	}
	resp := <-result
	if resp == nil || !resp.OK() {
		return fmt.Errorf("remoteshell: create_session failed")
	}
	c.sessionID = resp.SessionID
	return nil
}

// Handle receives pushed ExecuteOutput messages from the listener's
// Executor and prints them, signaling on the final is_exit message.
func (c *Client) Handle(ctx context.Context, pc *wire.PeerConn, req *wire.Envelope) *wire.Envelope {
	if req.Name != wire.NameExecuteOutput || req.ExecuteOutput == nil {
		return &wire.Envelope{Name: req.Name, ErrorCode: wire.ErrUnknownName}
	}
	out := req.ExecuteOutput
	if out.Output != "" {
		fmt.Fprint(c.out, out.Output)
	}
	if out.IsExit {
		select {
		case c.exitSig <- out:
		default:
		}
	}
	return &wire.Envelope{Name: req.Name}
}

// Run drives the interactive loop until the user types exit/q. gets is
// deliberately not used here (spec flags it as unsafe); readline provides
// a bounded line reader instead.
func (c *Client) Run(ctx context.Context) error {
	rl, err := readline.New("> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	go c.heartbeatLoop(ctx)

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF or readline.ErrInterrupt
			c.sendDeleteSession()
			return nil
		}
		verb, args := ParseCommand(line)
		if verb == "" {
			continue
		}
		switch verb {
		case "exit", "q":
			c.sendDeleteSession()
			return nil
		case "l":
			c.runLocal(args)
		case "fs":
			c.fileSend(args)
		case "fg":
			c.fileGet(args)
		default:
			c.executeRemote(verb, args)
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req := &wire.Envelope{
				Name:             wire.NameSessionHeartbeat,
				SessionID:        c.sessionID,
				Timestamp:        time.Now().UnixNano(),
				SessionHeartbeat: &wire.SessionHeartbeatPayload{},
			}
			c.pc.SendRequest(req, 5*time.Second, func(ok bool, resp *wire.Envelope) {
				if !ok {
					c.logger.Warn("session heartbeat failed")
				}
			})
		}
	}
}

func (c *Client) sendDeleteSession() {
	req := &wire.Envelope{
		Name:          wire.NameDeleteSession,
		SessionID:     c.sessionID,
		Timestamp:     time.Now().UnixNano(),
		DeleteSession: &wire.DeleteSessionPayload{},
	}
	c.pc.SendRequest(req, 0, nil)
}

// runLocal shells out on the client's own machine; this never touches
// the wire.
func (c *Client) runLocal(args []string) {
	if len(args) == 0 {
		return
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = c.out
	cmd.Stderr = c.out
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(c.out, "l: %v\n", err)
	}
}

func (c *Client) executeRemote(cmd string, args []string) {
	req := &wire.Envelope{
		Name:           wire.NameExecuteCommand,
		SessionID:      c.sessionID,
		Timestamp:      time.Now().UnixNano(),
		ExecuteCommand: &wire.ExecuteCommandPayload{Address: c.myAddr, Cmd: cmd, Args: args},
	}
	ack := make(chan bool, 1)
	if err := c.pc.SendRequest(req, 5*time.Second, func(ok bool, resp *wire.Envelope) {
		ack <- ok && resp != nil && resp.OK()
	}); err != nil {
		fmt.Fprintf(c.out, "%s: %v\n", cmd, err)
		return
	}
	if !<-ack {
		fmt.Fprintf(c.out, "%s: failed to start\n", cmd)
		return
	}
	<-c.exitSig // interleaved output prints via Handle until is_exit arrives
}

func (c *Client) fileSend(paths []string) {
	fo := &wire.FileOperationPayload{Cmd: "fs"}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			fmt.Fprintf(c.out, "fs %s: %v\n", p, err)
			return
		}
		fo.Paths = append(fo.Paths, p)
		fo.Blobs = append(fo.Blobs, data)
	}
	c.sendFileOperation(fo)
}

func (c *Client) fileGet(paths []string) {
	req := &wire.Envelope{
		Name:          wire.NameFileOperation,
		SessionID:     c.sessionID,
		Timestamp:     time.Now().UnixNano(),
		FileOperation: &wire.FileOperationPayload{Cmd: "fg", Paths: paths},
	}
	result := make(chan *wire.Envelope, 1)
	if err := c.pc.SendRequest(req, 10*time.Second, func(ok bool, resp *wire.Envelope) {
		if ok {
			result <- resp
		} else {
			result <- nil
		}
	}); err != nil {
		fmt.Fprintf(c.out, "fg: %v\n", err)
		return
	}
	resp := <-result
	if resp == nil || !resp.OK() || resp.FileOperation == nil {
		fmt.Fprintf(c.out, "fg: failed\n")
		return
	}
	for i, p := range resp.FileOperation.Paths {
		if i >= len(resp.FileOperation.Blobs) {
			break
		}
		if err := os.WriteFile(filepath.Base(p), resp.FileOperation.Blobs[i], 0o644); err != nil {
			fmt.Fprintf(c.out, "fg %s: %v\n", p, err)
		}
	}
}

func (c *Client) sendFileOperation(fo *wire.FileOperationPayload) {
	req := &wire.Envelope{
		Name:          wire.NameFileOperation,
		SessionID:     c.sessionID,
		Timestamp:     time.Now().UnixNano(),
		FileOperation: fo,
	}
	result := make(chan bool, 1)
	if err := c.pc.SendRequest(req, 10*time.Second, func(ok bool, resp *wire.Envelope) {
		result <- ok && resp != nil && resp.OK()
	}); err != nil {
		fmt.Fprintf(c.out, "%s: %v\n", fo.Cmd, err)
		return
	}
	if !<-result {
		fmt.Fprintf(c.out, "%s: failed\n", fo.Cmd)
	}
}
