// Package claude decodes the stream-json output of the Claude CLI.
package claude

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Kind discriminates Event.
type Kind int

const (
	KindUnknown Kind = iota
	KindSystemInit
	KindAssistant
	KindUser
	KindResultSuccess
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindSystemInit:
		return "system-init"
	case KindAssistant:
		return "assistant"
	case KindUser:
		return "user"
	case KindResultSuccess:
		return "result-success"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// BlockKind discriminates ContentBlock.
type BlockKind int

const (
	BlockUnknown BlockKind = iota
	BlockText
	BlockThinking
	BlockToolUse
	BlockToolResult
)

// ContentBlock is one entry of a message's content list.
type ContentBlock struct {
	Kind BlockKind
	Type string

	// Text holds the text of text blocks and the reasoning of thinking blocks.
	Text string

	ID    string
	Name  string
	Input any

	ToolUseID string
	Content   string
	IsError   bool
}

type Message struct {
	ID         string
	Model      string
	StopReason string
	Content    []ContentBlock
}

// EndOfTurn reports whether the model finished its answer with this message.
func (m *Message) EndOfTurn() bool {
	return m != nil && m.StopReason == "end_turn"
}

// Event is one decoded output line.
type Event struct {
	Kind      Kind
	Type      string
	Subtype   string
	SessionID string

	// Message is set for KindAssistant and KindUser.
	Message *Message
	// ErrorMessage is set for KindError.
	ErrorMessage string
	// Result is the final text of KindResultSuccess.
	Result string

	// Raw is the whole decoded object.
	Raw map[string]any
}

var errMissingType = errors.New("missing type discriminator")

// DecodeError is returned for lines that are not event objects.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	line := e.Line
	if len(line) > 100 {
		line = line[:100] + "..."
	}
	return fmt.Sprintf("cannot decode claude event %q: %v", line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses one line. Objects with an unrecognised type decode to
// KindUnknown; only non-objects and objects without a type fail.
func Decode(line string) (Event, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Event{}, &DecodeError{Line: line, Err: err}
	}
	typ := stringField(raw, "type")
	if typ == "" {
		return Event{}, &DecodeError{Line: line, Err: errMissingType}
	}

	evt := Event{
		Type:      typ,
		Subtype:   stringField(raw, "subtype"),
		SessionID: stringField(raw, "session_id"),
		Raw:       raw,
	}

	switch {
	case typ == "system" && evt.Subtype == "init":
		evt.Kind = KindSystemInit
	case typ == "assistant":
		evt.Kind = KindAssistant
		evt.Message = decodeMessage(raw["message"])
	case typ == "user":
		evt.Kind = KindUser
		evt.Message = decodeMessage(raw["message"])
	case typ == "result" && evt.Subtype == "success":
		evt.Kind = KindResultSuccess
		evt.Result = stringField(raw, "result")
	case typ == "error":
		evt.Kind = KindError
		evt.ErrorMessage = errorText(raw["error"])
	default:
		evt.Kind = KindUnknown
	}
	return evt, nil
}

// IsResultSuccess reports whether line is the final success event.
func IsResultSuccess(line string) bool {
	if !strings.Contains(line, `"result"`) {
		return false
	}
	var head struct {
		Type    string `json:"type"`
		Subtype string `json:"subtype"`
	}
	if err := json.Unmarshal([]byte(line), &head); err != nil {
		return false
	}
	return head.Type == "result" && head.Subtype == "success"
}

func decodeMessage(v any) *Message {
	m, ok := v.(map[string]any)
	if !ok {
		return &Message{}
	}
	msg := &Message{
		ID:         stringField(m, "id"),
		Model:      stringField(m, "model"),
		StopReason: stringField(m, "stop_reason"),
	}

	switch content := m["content"].(type) {
	case string:
		msg.Content = []ContentBlock{{Kind: BlockText, Type: "text", Text: content}}
	case []any:
		for _, item := range content {
			if block, ok := item.(map[string]any); ok {
				msg.Content = append(msg.Content, decodeBlock(block))
			}
		}
	}
	return msg
}

func decodeBlock(m map[string]any) ContentBlock {
	block := ContentBlock{Type: stringField(m, "type")}
	switch block.Type {
	case "text":
		block.Kind = BlockText
		block.Text = stringField(m, "text")
	case "thinking":
		block.Kind = BlockThinking
		block.Text = stringField(m, "thinking")
	case "tool_use":
		block.Kind = BlockToolUse
		block.ID = stringField(m, "id")
		block.Name = stringField(m, "name")
		block.Input = m["input"]
		if block.Input == nil {
			block.Input = map[string]any{}
		}
	case "tool_result":
		block.Kind = BlockToolResult
		block.ToolUseID = stringField(m, "tool_use_id")
		block.Content = flattenToolResult(m["content"])
		block.IsError, _ = m["is_error"].(bool)
	}
	return block
}

// flattenToolResult turns string or text-part content into plain text.
func flattenToolResult(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case []any:
		parts := make([]string, 0, len(c))
		for _, item := range c {
			if part, ok := item.(map[string]any); ok && stringField(part, "type") == "text" {
				parts = append(parts, stringField(part, "text"))
				continue
			}
			data, _ := json.Marshal(item)
			parts = append(parts, string(data))
		}
		return strings.Join(parts, "\n")
	default:
		data, _ := json.Marshal(c)
		return string(data)
	}
}

func errorText(v any) string {
	switch e := v.(type) {
	case nil:
		return "Unknown error"
	case string:
		return e
	case map[string]any:
		if msg := stringField(e, "message"); msg != "" {
			return msg
		}
		data, _ := json.Marshal(e)
		return string(data)
	default:
		return fmt.Sprint(e)
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
