package session

import "encoding/json"

// Inbound and outbound event names. The wire names date back to the
// original browser client and are kept for compatibility: the field
// "socketId" carries what the server calls a connection ID.
const (
	EventJoin           = "join"
	EventJoined         = "joined"
	EventGetCode        = "get-code"
	EventCodeChange     = "code-change"
	EventInputChange    = "input-change"
	EventLanguageChange = "language-change"
	EventCursorUpdate   = "cursor-update"
	EventSyncCode       = "sync-code"
	EventCodeExecution  = "code-execution"
	EventCodeRunning    = "code-running"
	EventDisconnected   = "disconnected"
	EventError          = "error"
)

// Envelope is the frame format in both directions: a named event plus
// a JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Member is one room participant as reported in "joined" payloads.
type Member struct {
	SocketID string `json:"socketId"`
	Username string `json:"username"`
}

// ExecResult is the last execution outcome stored per room. Output and
// Error are both retained verbatim; an empty Error means the run
// produced no error text, not that no result exists.
type ExecResult struct {
	Output string `json:"output"`
	Error  string `json:"error"`
}

type joinPayload struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type roomPayload struct {
	RoomID string `json:"roomId"`
}

type codePayload struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

type inputPayload struct {
	RoomID string `json:"roomId"`
	Input  string `json:"input"`
}

type languagePayload struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
}

// cursorPayload carries an opaque editor-local position. The relay
// forwards it without interpreting it; null is a valid position
// (cursor left the viewport).
type cursorPayload struct {
	RoomID   string          `json:"roomId"`
	Position json.RawMessage `json:"position"`
}

type syncCodePayload struct {
	SocketID string `json:"socketId"`
	Code     string `json:"code"`
}

type execPayload struct {
	RoomID string `json:"roomId"`
	Output string `json:"output"`
	Error  string `json:"error"`
}

type joinedMsg struct {
	Clients  []Member `json:"clients"`
	Username string   `json:"username"`
	SocketID string   `json:"socketId"`
}

type codeChangeMsg struct {
	Code     string `json:"code"`
	Username string `json:"username,omitempty"`
}

type inputChangeMsg struct {
	Input    string `json:"input"`
	Username string `json:"username,omitempty"`
}

type languageChangeMsg struct {
	Language string `json:"language"`
	Username string `json:"username,omitempty"`
}

type cursorUpdateMsg struct {
	SocketID string          `json:"socketId"`
	Username string          `json:"username"`
	Position json.RawMessage `json:"position"`
}

type execMsg struct {
	Output   string `json:"output"`
	Error    string `json:"error"`
	Username string `json:"username,omitempty"`
}

type runningMsg struct {
	Username string `json:"username"`
}

type disconnectedMsg struct {
	SocketID string `json:"socketId"`
	Username string `json:"username"`
}

type errorMsg struct {
	Message string `json:"message"`
}
