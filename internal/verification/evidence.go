package verification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// LatestUserIndex returns the index of the last user message, or -1.
func LatestUserIndex(messages []Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// CollectEvidence normalizes every tool message after latestUser. It
// never fails: payloads that are not JSON objects are wrapped as
// {"raw_content": ...}.
func CollectEvidence(messages []Message, latestUser int) []ToolEvidence {
	start := latestUser + 1
	if start < 0 {
		start = 0
	}

	evidence := []ToolEvidence{}
	for i := start; i < len(messages); i++ {
		msg := messages[i]
		if msg.Role != RoleTool {
			continue
		}
		name := strings.TrimSpace(msg.Name)
		if name == "" {
			name = UnknownTool
		}
		evidence = append(evidence, ToolEvidence{
			ToolName: name,
			Output:   ParseToolOutput(msg.Content),
		})
	}
	return evidence
}

// ParseToolOutput turns tool message content into a map. Objects are used
// as is; strings holding a JSON object are parsed; anything else is
// wrapped under "raw_content".
func ParseToolOutput(content json.RawMessage) map[string]any {
	content = bytes.TrimSpace(content)
	if len(content) == 0 {
		return map[string]any{"raw_content": ""}
	}

	switch content[0] {
	case '{':
		var obj map[string]any
		if err := json.Unmarshal(content, &obj); err == nil {
			return obj
		}
	case '"':
		var s string
		if err := json.Unmarshal(content, &s); err == nil {
			var obj map[string]any
			if trimmed := strings.TrimSpace(s); strings.HasPrefix(trimmed, "{") &&
				json.Unmarshal([]byte(trimmed), &obj) == nil {
				return obj
			}
			return map[string]any{"raw_content": s}
		}
	case '[':
		var list []any
		if err := json.Unmarshal(content, &list); err == nil {
			return map[string]any{"raw_content": list}
		}
	}
	return map[string]any{"raw_content": string(content)}
}

// ExtractText returns the text of message content given either as a
// string or as a list of {"text": ...} blocks.
func ExtractText(content json.RawMessage) string {
	content = bytes.TrimSpace(content)
	if len(content) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		return s
	}

	var blocks []json.RawMessage
	if err := json.Unmarshal(content, &blocks); err == nil {
		var sb strings.Builder
		for _, b := range blocks {
			var block map[string]any
			if json.Unmarshal(b, &block) != nil {
				continue
			}
			if text, ok := block["text"]; ok && text != nil {
				sb.WriteString(fmt.Sprint(text))
			}
		}
		return sb.String()
	}

	return string(content)
}

// DataWarnings returns every degradation tag across the evidence, in
// evidence order. A data_warnings value that is not a list is ignored.
func DataWarnings(evidence []ToolEvidence) []string {
	var tags []string
	for _, item := range evidence {
		values, ok := item.Output["data_warnings"].([]any)
		if !ok {
			continue
		}
		for _, v := range values {
			if v == nil {
				continue
			}
			tag := fmt.Sprint(v)
			if tag == "" {
				continue
			}
			tags = append(tags, tag)
		}
	}
	return tags
}
