package protocol

import "encoding/json"

type CommandType string

const (
	CommandExecute    CommandType = "execute"
	CommandFind       CommandType = "find"
	CommandProbe      CommandType = "probe"
	CommandClick      CommandType = "click"
	CommandFill       CommandType = "fill"
	CommandHover      CommandType = "hover"
	CommandScreenshot CommandType = "screenshot"
	CommandDrag       CommandType = "drag"
	CommandNavigate   CommandType = "navigate"
	CommandRelease    CommandType = "release"
)

type EventType string

const (
	// EventNavigated is pushed when the top-level document of the
	// controlled tab changes.
	EventNavigated EventType = "navigated"
	// EventDisconnected is raised by the bridge itself when a session's
	// connection closes. The extension never sends it.
	EventDisconnected EventType = "disconnected"
)

// Error codes the extension sets on failed responses.
const (
	ErrorNotFound    = "not_found"
	ErrorDetached    = "detached"
	ErrorUnsupported = "unsupported"
)

type Command struct {
	ID        string          `json:"id"`
	Type      CommandType     `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type Response struct {
	ID        string          `json:"id"`
	OK        bool            `json:"ok"`
	Error     string          `json:"error,omitempty"`
	ErrorCode string          `json:"errorCode,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Event is an unsolicited message from the extension. It carries no id.
type Event struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ExecutePayload runs Source in the page realm with Args as its single
// argument. Name lets the extension use a bundled copy of the script.
type ExecutePayload struct {
	Name   string          `json:"name"`
	Source string          `json:"source"`
	Args   json.RawMessage `json:"args,omitempty"`
}

type FindPayload struct {
	Frames []string `json:"frames,omitempty"`
	CSS    string   `json:"css,omitempty"`
	XPath  string   `json:"xpath,omitempty"`
}

// FindData names the element the extension now holds a reference to.
type FindData struct {
	Handle string `json:"handle"`
}

type HandlePayload struct {
	Handle string `json:"handle"`
}

type FillPayload struct {
	Handle string `json:"handle"`
	Text   string `json:"text"`
}

type DragPayload struct {
	Handle string `json:"handle"`
	Target string `json:"target"`
}

type ScreenshotData struct {
	Format string `json:"format,omitempty"`
	Data   []byte `json:"data"`
}

type NavigatePayload struct {
	URL string `json:"url"`
}

type NavigateData struct {
	URL string `json:"url"`
}

type NavigatedEvent struct {
	URL string `json:"url"`
}
