// Package openai adapts the OpenAI chat completions protocol to the Claude
// CLI: requests are converted into a prompt and session settings, CLI events
// are translated into chat.completion.chunk objects.
package openai

import (
	"bytes"
	"errors"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultModel     = "claude-code"
	DefaultChunkSize = 100

	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	FinishStop = "stop"
)

type ChatRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Stream      *bool     `json:"stream,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

// Streaming reports whether the caller asked for a stream. An absent flag
// means yes.
func (r ChatRequest) Streaming() bool {
	return r.Stream == nil || *r.Stream
}

type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content is either a plain string or a list of typed parts.
type Content struct {
	Text  string
	Parts []ContentPart
	parts bool
}

func TextContent(s string) Content { return Content{Text: s} }

func PartsContent(parts ...ContentPart) Content { return Content{Parts: parts, parts: true} }

// IsText reports whether the content was sent as a plain string.
func (c Content) IsText() bool { return !c.parts }

// PlainText returns the string content, or the text parts joined by newlines.
func (c Content) PlainText() string {
	if !c.parts {
		return c.Text
	}
	var texts []string
	for _, p := range c.Parts {
		if p.Type == "text" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Content{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{Text: s}
		return nil
	case data[0] == '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = Content{Parts: parts, parts: true}
		return nil
	default:
		return errors.New("message content must be a string or a list of parts")
	}
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.parts {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
	File     *FilePart `json:"file,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type FilePart struct {
	FileData string `json:"file_data,omitempty"`
	FileID   string `json:"file_id,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Chunk is one chat.completion.chunk frame.
type Chunk struct {
	ID                string        `json:"id"`
	Object            string        `json:"object"`
	Created           int64         `json:"created"`
	Model             string        `json:"model"`
	SystemFingerprint string        `json:"system_fingerprint"`
	Choices           []ChunkChoice `json:"choices"`
}

type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	Logprobs     any     `json:"logprobs"`
	FinishReason *string `json:"finish_reason"`
}

type Delta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// Content returns the delta text of the first choice.
func (c Chunk) Content() string {
	if len(c.Choices) == 0 || c.Choices[0].Delta.Content == nil {
		return ""
	}
	return *c.Choices[0].Delta.Content
}

func (c Chunk) Role() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Role
}

func (c Chunk) FinishReason() string {
	if len(c.Choices) == 0 || c.Choices[0].FinishReason == nil {
		return ""
	}
	return *c.Choices[0].FinishReason
}

// MarshalChunk encodes c for a data frame.
func MarshalChunk(c Chunk) ([]byte, error) {
	return json.Marshal(c)
}
