// Package wire implements the message transport (C1): a persistent,
// full-duplex websocket connection per peer carrying JSON-framed request
// and response Envelopes, with per-request timeouts and a callback fired
// exactly once on reply, error, or timeout.
package wire

import "github.com/Codesmith28/cloud-dispatch/internal/variant"

// Name values for the oneof payload kinds, mirrored 1:1 from the wire
// protocol table.
const (
	NameConnect          = "connect"
	NameDisconnect       = "disconnect"
	NameHeartbeat        = "heartbeat"
	NameCompute          = "compute"
	NameFinishCompute    = "finish_compute"
	NameCreateSession    = "create_session"
	NameDeleteSession    = "delete_session"
	NameExecuteCommand   = "execute_command"
	NameExecuteOutput    = "execute_output"
	NameFileOperation    = "file_operation"
	NameSessionHeartbeat = "session_heart_beat"
)

// ErrCode is the error_code common field; zero means success.
type ErrCode int32

const (
	ErrNone ErrCode = 0
	// ErrConnectionMismatch is returned when connection_id does not match
	// the server's current value for the sender.
	ErrConnectionMismatch ErrCode = 1
	// ErrUnknownName is returned for an unrecognized oneof tag.
	ErrUnknownName ErrCode = 2
	// ErrMalformed is returned when a recognized oneof's payload is absent
	// or structurally invalid.
	ErrMalformed ErrCode = 3
	// ErrNotFound covers "no such worker/session" lookups.
	ErrNotFound ErrCode = 4
)

// Envelope is both Request and Response: the common fields plus exactly
// one populated oneof payload pointer, matching spec §6's wire protocol.
type Envelope struct {
	ConnectionID int64  `json:"connection_id"`
	RequestID    int64  `json:"request_id"`
	Timestamp    int64  `json:"timestamp"`
	SessionID    int64  `json:"session_id,omitempty"`
	ErrorCode    ErrCode `json:"error_code,omitempty"`
	Name         string `json:"name"`
	IsResponse   bool   `json:"is_response,omitempty"`

	Connect          *ConnectPayload          `json:"connect,omitempty"`
	Disconnect       *DisconnectPayload       `json:"disconnect,omitempty"`
	Heartbeat        *HeartbeatPayload        `json:"heartbeat,omitempty"`
	Compute          *ComputePayload          `json:"compute,omitempty"`
	FinishCompute    *FinishComputePayload    `json:"finish_compute,omitempty"`
	CreateSession    *CreateSessionPayload    `json:"create_session,omitempty"`
	DeleteSession    *DeleteSessionPayload    `json:"delete_session,omitempty"`
	ExecuteCommand   *ExecuteCommandPayload   `json:"execute_command,omitempty"`
	ExecuteOutput    *ExecuteOutputPayload    `json:"execute_output,omitempty"`
	FileOperation    *FileOperationPayload    `json:"file_operation,omitempty"`
	SessionHeartbeat *SessionHeartbeatPayload `json:"session_heart_beat,omitempty"`
}

// OK reports whether the envelope carries a successful error_code.
func (e *Envelope) OK() bool { return e.ErrorCode == ErrNone }

type ConnectPayload struct {
	Address string `json:"address"`
}

// A successful connect reply carries the freshly allocated connection id
// in the reply envelope's own ConnectionID field, per the `{connection_id}`
// reply shape.
type DisconnectPayload struct {
	Address string `json:"address"`
}

type HeartbeatPayload struct{}

type ComputePayload struct {
	TaskID int64 `json:"task_id"`
}

type FinishComputePayload struct {
	TaskID    int64             `json:"task_id"`
	Result    variant.Variants  `json:"result"`
	TimeUsage int64             `json:"time_usage_ns"`
}

type CreateSessionPayload struct {
	Address string `json:"address"`
}

type DeleteSessionPayload struct{}

type ExecuteCommandPayload struct {
	Address string   `json:"address"`
	Cmd     string   `json:"cmd"`
	Args    []string `json:"args"`
}

type ExecuteOutputPayload struct {
	OriginalRequestID int64  `json:"original_request_id"`
	Output            string `json:"output"`
	IsExit            bool   `json:"is_exit"`
	ExitCode          int32  `json:"exit_code"`
}

// FileOperationPayload carries "fs"/"fg" file push/pull requests and
// replies. Paths and Blobs are parallel slices (paths[i] corresponds to
// blobs[i]) rather than the single alternating-args list the original
// shell parser builds, since JSON cannot carry arbitrary binary content
// inside a string arg list without an explicit byte field.
type FileOperationPayload struct {
	Cmd   string   `json:"cmd"`
	Paths []string `json:"paths"`
	Blobs [][]byte `json:"blobs,omitempty"`
}

type SessionHeartbeatPayload struct{}
