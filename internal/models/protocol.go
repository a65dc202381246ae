package models

type CommandKind string

const (
	CommandShell          CommandKind = "shell"
	CommandService        CommandKind = "service"
	CommandDiagnostics    CommandKind = "diagnostics"
	CommandCollectDetails CommandKind = "collect-details"
)

// Valid reports whether k is one of the kinds the agent understands.
func (k CommandKind) Valid() bool {
	switch k {
	case CommandShell, CommandService, CommandDiagnostics, CommandCollectDetails:
		return true
	}
	return false
}

// Command is the wire format published to a device's command destination.
type Command struct {
	DeviceID  string      `json:"deviceId" msgpack:"device_id"`
	CommandID string      `json:"commandId" msgpack:"command_id"`
	Type      CommandKind `json:"type" msgpack:"type"`
	Payload   string      `json:"payload" msgpack:"payload"`
}

type ResultStatus string

const (
	ResultOK      ResultStatus = "ok"
	ResultTimeout ResultStatus = "timeout"
	ResultError   ResultStatus = "error"
)

// Class folds unknown statuses into ResultError for display. The raw value
// stays on the result.
func (s ResultStatus) Class() ResultStatus {
	switch s {
	case ResultOK, ResultTimeout:
		return s
	}
	return ResultError
}

// CommandResult is reported by the agent on the command-result stream. One
// command may produce zero or several results.
type CommandResult struct {
	DeviceID   string       `json:"deviceId" msgpack:"device_id"`
	CommandID  string       `json:"commandId" msgpack:"command_id"`
	Type       string       `json:"type" msgpack:"type"`
	Status     ResultStatus `json:"status" msgpack:"status"`
	Output     string       `json:"output,omitempty" msgpack:"output,omitempty"`
	Error      string       `json:"error,omitempty" msgpack:"error,omitempty"`
	StartedAt  Timestamp    `json:"startedAt" msgpack:"started_at"`
	FinishedAt Timestamp    `json:"finishedAt" msgpack:"finished_at"`
}

const maxOutputDisplay = 2000

// TruncateOutput shortens command output for display.
func TruncateOutput(text string) string {
	runes := []rune(text)
	if len(runes) <= maxOutputDisplay {
		return text
	}
	return string(runes[:maxOutputDisplay]) + "..."
}
