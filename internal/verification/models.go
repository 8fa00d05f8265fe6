// Package verification checks a final assistant response against the tool
// evidence gathered in the same turn and decides whether it can be shown
// as is, shown with caveats, or must be replaced.
package verification

import "encoding/json"

// Severity of a finding
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Decision is the outcome of verifying one response
type Decision string

const (
	DecisionPass Decision = "pass"
	DecisionWarn Decision = "warn"
	DecisionFail Decision = "fail"
)

// Confidence in a response given its findings and the data degradation
// behind it
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Finding is one issue a rule detected in a response
type Finding struct {
	CheckName string   `json:"check_name"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
}

// Result is the verification verdict for one response
type Result struct {
	Decision   Decision   `json:"decision"`
	Confidence Confidence `json:"confidence"`
	Findings   []Finding  `json:"findings"`
}

// ToolEvidence is the normalized output of one tool call
type ToolEvidence struct {
	ToolName string         `json:"tool_name"`
	Output   map[string]any `json:"output"`
}

// UnknownTool names evidence from tool messages that carry no name.
const UnknownTool = "unknown_tool"

// Role of a conversation message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the conversation history. Content is either a
// JSON string or a list of content blocks; tool messages may also carry a
// JSON object.
type Message struct {
	Role       Role            `json:"role"`
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Content    json.RawMessage `json:"content"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
}

// ToolCall is a tool invocation requested by the assistant
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// TextMessage builds a message whose content is plain text.
func TextMessage(role Role, text string) Message {
	content, _ := json.Marshal(text)
	return Message{Role: role, Content: content}
}
