// Package a2a implements the thin slice of the agent-to-agent protocol that
// workers speak: JSON-RPC 2.0 over HTTP with message/send and message/stream,
// plus agent-card discovery.
package a2a

import (
	"encoding/json"
	"fmt"
	"strings"
)

// JSON-RPC and discovery constants.
const (
	Version       = "2.0"
	MethodSend    = "message/send"
	MethodStream  = "message/stream"
	AgentCardPath = "/.well-known/agent-card.json"
)

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewResult builds a success response for id.
func NewResult(id json.RawMessage, result any) (Response, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return Response{}, err
	}
	return Response{JSONRPC: Version, ID: id, Result: data}, nil
}

// NewError builds an error response for id.
func NewError(id json.RawMessage, code int, msg string) Response {
	return Response{JSONRPC: Version, ID: id, Error: &RPCError{Code: code, Message: msg}}
}

// Roles carried on messages.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Part is one piece of message content. Only text parts are produced.
type Part struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
}

// TextPart returns a text part.
func TextPart(text string) Part { return Part{Kind: "text", Text: text} }

func joinText(parts []Part) string {
	var sb strings.Builder
	for _, p := range parts {
		if p.Kind == "text" || p.Kind == "" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// Message is a single conversational turn.
type Message struct {
	Kind      string `json:"kind"`
	MessageID string `json:"messageId"`
	TaskID    string `json:"taskId,omitempty"`
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
}

// NewTextMessage builds a message with a single text part.
func NewTextMessage(id, taskID, role, text string) Message {
	return Message{Kind: "message", MessageID: id, TaskID: taskID, Role: role, Parts: []Part{TextPart(text)}}
}

// Text returns the concatenated text parts.
func (m Message) Text() string { return joinText(m.Parts) }

// SendParams are the params of message/send and message/stream.
type SendParams struct {
	Message Message `json:"message"`
}

// TaskState is the worker-side state of a task.
type TaskState string

const (
	StateSubmitted     TaskState = "submitted"
	StateWorking       TaskState = "working"
	StateInputRequired TaskState = "input-required"
	StateCompleted     TaskState = "completed"
	StateFailed        TaskState = "failed"
	StateCanceled      TaskState = "canceled"
)

// Terminal reports whether no further updates follow this state.
func (s TaskState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled, StateInputRequired:
		return true
	}
	return false
}

// TaskStatus is a task's state with an optional agent message.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// Text returns the status message text, if any.
func (s TaskStatus) Text() string {
	if s.Message == nil {
		return ""
	}
	return s.Message.Text()
}

// Artifact is an output produced by a task.
type Artifact struct {
	ArtifactID string `json:"artifactId"`
	Name       string `json:"name,omitempty"`
	Parts      []Part `json:"parts"`
}

// Task is the result of message/send.
type Task struct {
	Kind      string     `json:"kind"`
	ID        string     `json:"id"`
	Status    TaskStatus `json:"status"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Text returns the artifacts' text, or the status message when there are
// no artifacts.
func (t Task) Text() string {
	var sb strings.Builder
	for _, a := range t.Artifacts {
		sb.WriteString(joinText(a.Parts))
	}
	if sb.Len() == 0 {
		return t.Status.Text()
	}
	return sb.String()
}

// Stream event kinds.
const (
	KindStatusUpdate   = "status-update"
	KindArtifactUpdate = "artifact-update"
)

// StreamEvent is the result of each message/stream SSE event. Status is set
// for status updates and Artifact for artifact updates.
type StreamEvent struct {
	Kind     string      `json:"kind"`
	TaskID   string      `json:"taskId"`
	Status   *TaskStatus `json:"status,omitempty"`
	Artifact *Artifact   `json:"artifact,omitempty"`
	Final    bool        `json:"final,omitempty"`
}

// AgentCard is the self-description a worker serves at AgentCardPath.
type AgentCard struct {
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	URL                string       `json:"url"`
	Version            string       `json:"version"`
	Capabilities       Capabilities `json:"capabilities"`
	DefaultInputModes  []string     `json:"defaultInputModes"`
	DefaultOutputModes []string     `json:"defaultOutputModes"`
	Skills             []AgentSkill `json:"skills"`
}

// Capabilities lists optional protocol features.
type Capabilities struct {
	Streaming bool `json:"streaming"`
}

// AgentSkill describes one thing an agent can do.
type AgentSkill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Examples    []string `json:"examples,omitempty"`
}
