package remoteshell

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"

	"github.com/Codesmith28/cloud-dispatch/internal/wire"
)

// ExecState is the Executor's IDLE/RUNNING state machine, per spec §4.7.
type ExecState int

const (
	Idle ExecState = iota
	Running
)

// Executor runs exactly one command at a time for a bound session,
// streaming stdout/stderr back to the client as ExecuteOutput pushes
// tagged with the original request id, and a final is_exit message on
// subprocess exit.
type Executor struct {
	mu                sync.Mutex
	state             ExecState
	cmd               *exec.Cmd
	cancel            context.CancelFunc
	originalRequestID int64
}

func NewExecutor() *Executor {
	return &Executor{state: Idle}
}

func (e *Executor) State() ExecState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Run spawns cmd/args and streams its output back over pc. It returns
// immediately after the subprocess is spawned; a goroutine drives
// streaming and the IDLE transition on exit.
func (e *Executor) Run(pc *wire.PeerConn, sessionID, originalRequestID int64, name string, args []string) error {
	e.mu.Lock()
	if e.state == Running {
		e.mu.Unlock()
		return errAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		e.mu.Unlock()
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		e.mu.Unlock()
		return err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		e.mu.Unlock()
		return err
	}
	e.state = Running
	e.cmd = cmd
	e.cancel = cancel
	e.originalRequestID = originalRequestID
	e.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go e.streamLines(pc, sessionID, originalRequestID, stdout, &wg)
	go e.streamLines(pc, sessionID, originalRequestID, stderr, &wg)

	go func() {
		wg.Wait()
		waitErr := cmd.Wait()
		exitCode := int32(0)
		if waitErr != nil {
			if exit, ok := waitErr.(*exec.ExitError); ok {
				exitCode = int32(exit.ExitCode())
			} else {
				exitCode = -1
			}
		}
		e.mu.Lock()
		e.state = Idle
		e.cmd = nil
		e.cancel = nil
		e.mu.Unlock()

		pushExecuteOutput(pc, sessionID, &wire.ExecuteOutputPayload{
			OriginalRequestID: originalRequestID,
			IsExit:            true,
			ExitCode:          exitCode,
		})
	}()

	return nil
}

func (e *Executor) streamLines(pc *wire.PeerConn, sessionID, originalRequestID int64, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		pushExecuteOutput(pc, sessionID, &wire.ExecuteOutputPayload{
			OriginalRequestID: originalRequestID,
			Output:            scanner.Text() + "\n",
		})
	}
}

// Kill tears down any in-flight subprocess, e.g. on DeleteSession or a
// missed heartbeat.
func (e *Executor) Kill() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	e.state = Idle
	e.cmd = nil
	e.cancel = nil
}

func pushExecuteOutput(pc *wire.PeerConn, sessionID int64, payload *wire.ExecuteOutputPayload) {
	req := &wire.Envelope{
		Name:          wire.NameExecuteOutput,
		SessionID:     sessionID,
		ExecuteOutput: payload,
	}
	// Fire-and-forget: output pushes are not individually acknowledged,
	// only the final is_exit message matters for state, and the client
	// is expected to be listening for the duration of the command.
	pc.SendRequest(req, 0, nil)
}

type executorError string

func (e executorError) Error() string { return string(e) }

const errAlreadyRunning = executorError("remoteshell: executor is already running a command")
