// Package models defines the shared data types: parsed session log records,
// activity/state enums, and the wire protocol exchanged between the
// monitoring client and the registry server.
package models

import (
	"encoding/json"
	"time"
)

// Record types as they appear in the session log's "type" field.
const (
	RecordTypeUser      = "user"
	RecordTypeAssistant = "assistant"
	RecordTypeSystem    = "system"
)

// Content block types within a message.
const (
	BlockTypeText       = "text"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// ContentBlock is one element of a message's content array.
type ContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`        // tool_use
	Input     json.RawMessage `json:"input,omitempty"`       // tool_use
	ToolUseID string          `json:"tool_use_id,omitempty"` // tool_result
}

// Usage carries the token counters attached to assistant records.
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheReadTokens     int `json:"cache_read_input_tokens"`
	CacheCreationTokens int `json:"cache_creation_input_tokens"`
}

// Message is the inner message object of a log record. Content is either a
// plain string (simple user messages) or an array of content blocks; both
// forms decode into Blocks.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"-"`
	Usage   *Usage         `json:"usage,omitempty"`
}

type messageAlias struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Usage   *Usage          `json:"usage,omitempty"`
}

// UnmarshalJSON accepts both the string and the block-array content forms.
func (m *Message) UnmarshalJSON(data []byte) error {
	var alias messageAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	m.Role = alias.Role
	m.Usage = alias.Usage
	m.Content = nil
	if len(alias.Content) == 0 {
		return nil
	}
	if alias.Content[0] == '"' {
		var text string
		if err := json.Unmarshal(alias.Content, &text); err != nil {
			return err
		}
		m.Content = []ContentBlock{{Type: BlockTypeText, Text: text}}
		return nil
	}
	return json.Unmarshal(alias.Content, &m.Content)
}

// LogRecord is one parsed line of a session log file. Immutable once parsed.
type LogRecord struct {
	Type        string    `json:"type"`
	Message     *Message  `json:"message,omitempty"`
	SessionID   string    `json:"sessionId,omitempty"`
	ParentUUID  *string   `json:"parentUuid,omitempty"`
	UUID        string    `json:"uuid,omitempty"`
	IsSidechain bool      `json:"isSidechain,omitempty"`
	IsMeta      bool      `json:"isMeta,omitempty"`
	CWD         string    `json:"cwd,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
}

// ToolUse returns the first tool invocation block of the record, if any.
func (r *LogRecord) ToolUse() *ContentBlock {
	if r.Message == nil {
		return nil
	}
	for i := range r.Message.Content {
		if r.Message.Content[i].Type == BlockTypeToolUse {
			return &r.Message.Content[i]
		}
	}
	return nil
}

// HasToolResult reports whether any content block is a tool result.
func (r *LogRecord) HasToolResult() bool {
	if r.Message == nil {
		return false
	}
	for i := range r.Message.Content {
		if r.Message.Content[i].Type == BlockTypeToolResult {
			return true
		}
	}
	return false
}

// TextContent returns the concatenated text blocks of the record.
func (r *LogRecord) TextContent() string {
	if r.Message == nil {
		return ""
	}
	var out string
	for i := range r.Message.Content {
		if r.Message.Content[i].Type == BlockTypeText {
			out += r.Message.Content[i].Text
		}
	}
	return out
}

// IsUserMessage reports whether the record is a genuine user-authored
// message (not a tool result relayed under the user role, not meta).
func (r *LogRecord) IsUserMessage() bool {
	return r.Type == RecordTypeUser && !r.IsMeta && !r.HasToolResult()
}
