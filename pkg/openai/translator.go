package openai

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mylxsw/asteria/log"
	"github.com/supremeagent/claudegate/pkg/executor/claude"
)

const (
	thinkingOpen  = "\n<thinking>\n"
	thinkingClose = "\n</thinking>\n"
)

type TranslatorOptions struct {
	Model        string
	ChunkSize    int
	ShowThinking bool
	// Session is announced together with the CLI session id on init.
	Session SessionConfig
	Now     func() time.Time
}

// Translator turns the CLI events of one response into chunks. It is not safe
// for concurrent use.
type Translator struct {
	id          string
	created     int64
	model       string
	fingerprint string
	chunkSize   int
	visible     bool
	session     SessionConfig

	inThinking       bool
	sessionAnnounced bool
	roleSent         bool
	finished         bool
}

func NewTranslator(opts TranslatorOptions) *Translator {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.ChunkSize < 1 {
		opts.ChunkSize = DefaultChunkSize
	}
	ts := now()
	return &Translator{
		id:          "chatcmpl-" + uuid.New().String(),
		created:     ts.Unix(),
		model:       opts.Model,
		fingerprint: fmt.Sprintf("fp_%x", ts.UnixMilli()),
		chunkSize:   opts.ChunkSize,
		visible:     opts.ShowThinking,
		session:     opts.Session,
	}
}

func (t *Translator) ID() string { return t.id }

// Finished reports whether a chunk with a finish reason was produced. Later
// events are ignored.
func (t *Translator) Finished() bool { return t.finished }

// Translate returns the chunks for one event.
func (t *Translator) Translate(evt claude.Event) []Chunk {
	if t.finished {
		return nil
	}

	var out []Chunk
	switch evt.Kind {
	case claude.KindSystemInit:
		t.systemInit(&out, evt)
	case claude.KindAssistant:
		t.assistant(&out, evt.Message)
	case claude.KindUser:
		t.toolResults(&out, evt.Message)
	case claude.KindResultSuccess:
		t.closeThinking(&out)
		t.finish(&out)
	case claude.KindError:
		t.closeThinking(&out)
		t.aside(&out, fmt.Sprintf("⚠️ %s\n\n", evt.ErrorMessage), "⚠️ Error", evt.ErrorMessage, false)
		t.stopLast(&out)
	default:
		t.unknown(&out, evt)
	}
	return out
}

// Close returns the chunks that balance an open thinking wrapper.
func (t *Translator) Close() []Chunk {
	var out []Chunk
	t.closeThinking(&out)
	return out
}

func (t *Translator) systemInit(out *[]Chunk, evt claude.Event) {
	if t.sessionAnnounced {
		return
	}
	t.sessionAnnounced = true
	t.ensureRole(out)

	summary := Merge(SessionConfig{SessionID: evt.SessionID}, t.session).Summary()
	t.text(out, summary)
}

func (t *Translator) assistant(out *[]Chunk, msg *claude.Message) {
	if msg == nil {
		return
	}
	lastText := false
	for _, block := range msg.Content {
		switch block.Kind {
		case claude.BlockText:
			t.closeThinking(out)
			t.text(out, "\n"+block.Text)
			lastText = true
		case claude.BlockThinking:
			t.aside(out, fmt.Sprintf("\n💭 %s\n\n", block.Text), "💭 Thinking", block.Text, true)
			lastText = false
		case claude.BlockToolUse:
			input := encodeInput(block.Input)
			t.aside(out,
				fmt.Sprintf("\n🔧 Using %s: %s\n\n", block.Name, input),
				fmt.Sprintf("🔧 Tool use (%s)", block.Name),
				fmt.Sprintf("Using %s: %s", block.Name, input), true)
			lastText = false
		default:
			log.Debugf("skipping assistant content block %q", block.Type)
		}
	}

	if !msg.EndOfTurn() {
		return
	}
	// The finish marker ends the stream, so it rides on the last chunk of
	// the message: the final text chunk only when text comes last.
	if lastText {
		t.stopLast(out)
		return
	}
	t.closeThinking(out)
	t.finish(out)
}

func (t *Translator) toolResults(out *[]Chunk, msg *claude.Message) {
	if msg == nil {
		return
	}
	for _, block := range msg.Content {
		if block.Kind != claude.BlockToolResult {
			continue
		}
		prefix, label := "\n✅ Tool Result: ", "✅ Tool Result"
		if block.IsError {
			prefix, label = "\n❌ Tool Error: ", "❌ Tool Error"
		}
		t.aside(out, prefix+block.Content+"\n\n", label, block.Content, true)
	}
}

func (t *Translator) unknown(out *[]Chunk, evt claude.Event) {
	raw, err := json.MarshalIndent(evt.Raw, "", "  ")
	if err != nil {
		raw = []byte(fmt.Sprint(evt.Raw))
	}
	log.Warningf("unknown claude event type %q", evt.Type)

	body := fmt.Sprintf("Unknown data type '%s': %s", evt.Type, raw)
	t.aside(out, "\n🔍 "+body+"\n\n", "🔍 Debug", body, true)
}

// aside renders reasoning, tool activity and diagnostics: inside the thinking
// wrapper when it is visible, otherwise as a fenced block. The wrapper is only
// opened when wrap is set.
func (t *Translator) aside(out *[]Chunk, visibleText, fenceLabel, fenceBody string, wrap bool) {
	if t.visible {
		if wrap {
			t.openThinking(out)
		}
		t.text(out, visibleText)
		return
	}
	t.text(out, fmt.Sprintf("\n```%s\n%s\n```\n\n", fenceLabel, escapeFences(fenceBody)))
}

func (t *Translator) openThinking(out *[]Chunk) {
	if t.inThinking {
		return
	}
	t.inThinking = true
	t.text(out, thinkingOpen)
}

func (t *Translator) closeThinking(out *[]Chunk) {
	if !t.inThinking {
		return
	}
	t.inThinking = false
	t.text(out, thinkingClose)
}

func (t *Translator) text(out *[]Chunk, s string) {
	pieces := SplitChunks(s, t.chunkSize)
	if len(pieces) == 0 {
		return
	}
	t.ensureRole(out)
	for _, piece := range pieces {
		content := piece
		*out = append(*out, t.chunk(Delta{Content: &content}, nil))
	}
}

func (t *Translator) ensureRole(out *[]Chunk) {
	if t.roleSent {
		return
	}
	t.roleSent = true
	*out = append(*out, t.chunk(Delta{Role: RoleAssistant}, nil))
}

func (t *Translator) finish(out *[]Chunk) {
	if t.finished {
		return
	}
	t.finished = true
	stop := FinishStop
	empty := ""
	*out = append(*out, t.chunk(Delta{Content: &empty}, &stop))
}

// stopLast marks the last content chunk of out as the final one.
func (t *Translator) stopLast(out *[]Chunk) {
	if n := len(*out); n > 0 && (*out)[n-1].Choices[0].Delta.Content != nil {
		stop := FinishStop
		(*out)[n-1].Choices[0].FinishReason = &stop
		t.finished = true
		return
	}
	t.finish(out)
}

func (t *Translator) chunk(delta Delta, finish *string) Chunk {
	return Chunk{
		ID:                t.id,
		Object:            "chat.completion.chunk",
		Created:           t.created,
		Model:             t.model,
		SystemFingerprint: t.fingerprint,
		Choices:           []ChunkChoice{{Index: 0, Delta: delta, FinishReason: finish}},
	}
}

func encodeInput(input any) string {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprint(input)
	}
	return string(data)
}

func escapeFences(s string) string {
	return strings.ReplaceAll(s, "```", "` ` `")
}
