package server

import (
	"context"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/musinsa-manager/internal/service"
)

// Controller is the command surface the server exposes.
type Controller interface {
	Dispatch(ctx context.Context, name string, payload []byte) (interface{}, error)
	Subscribe(buffer int) (<-chan service.Event, func())
}

// CommandRequest is the body of POST /api/v1/command.
type CommandRequest struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CommandResponse is the body of every command reply.
type CommandResponse struct {
	Status string      `json:"status"` // "success" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// MessageType tags WebSocket frames sent by the client, and command replies sent back.
type MessageType string

const (
	MsgTypeCommand       MessageType = "command"
	MsgTypeCommandResult MessageType = "commandResult"
	MsgTypeSystemError   MessageType = "systemError"
)

// WSMessage is a client frame, or a reply to one. Events are sent as service.Event.
type WSMessage struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Command   string          `json:"command,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Data      interface{}     `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}
