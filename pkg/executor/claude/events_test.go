package claude

import (
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	t.Run("system init", func(t *testing.T) {
		evt, err := Decode(`{"type":"system","subtype":"init","session_id":"abc","tools":[]}`)
		if err != nil {
			t.Fatal(err)
		}
		if evt.Kind != KindSystemInit || evt.SessionID != "abc" {
			t.Fatalf("unexpected event %+v", evt)
		}
	})

	t.Run("assistant blocks", func(t *testing.T) {
		line := `{"type":"assistant","message":{"stop_reason":"end_turn","content":[` +
			`{"type":"thinking","thinking":"hmm"},` +
			`{"type":"tool_use","id":"t1","name":"Read","input":{"path":"a.go"}},` +
			`{"type":"text","text":"hello"},` +
			`{"type":"image"}]}}`
		evt, err := Decode(line)
		if err != nil {
			t.Fatal(err)
		}
		if evt.Kind != KindAssistant || !evt.Message.EndOfTurn() {
			t.Fatalf("unexpected event %+v", evt)
		}
		want := []BlockKind{BlockThinking, BlockToolUse, BlockText, BlockUnknown}
		if len(evt.Message.Content) != len(want) {
			t.Fatalf("expected %d blocks, got %d", len(want), len(evt.Message.Content))
		}
		for i, k := range want {
			if evt.Message.Content[i].Kind != k {
				t.Errorf("block %d: expected kind %d, got %d", i, k, evt.Message.Content[i].Kind)
			}
		}
		if evt.Message.Content[0].Text != "hmm" || evt.Message.Content[1].Name != "Read" {
			t.Errorf("unexpected block fields %+v", evt.Message.Content)
		}
	})

	t.Run("tool result parts", func(t *testing.T) {
		line := `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","is_error":true,` +
			`"content":[{"type":"text","text":"one"},{"type":"text","text":"two"}]}]}}`
		evt, err := Decode(line)
		if err != nil {
			t.Fatal(err)
		}
		block := evt.Message.Content[0]
		if block.Kind != BlockToolResult || !block.IsError || block.Content != "one\ntwo" {
			t.Fatalf("unexpected block %+v", block)
		}
	})

	t.Run("error shapes", func(t *testing.T) {
		cases := map[string]string{
			`{"type":"error","error":"boom"}`:            "boom",
			`{"type":"error","error":{"message":"bad"}}`: "bad",
			`{"type":"error","error":{"code":7}}`:        `{"code":7}`,
			`{"type":"error"}`:                           "Unknown error",
		}
		for line, want := range cases {
			evt, err := Decode(line)
			if err != nil {
				t.Fatal(err)
			}
			if evt.Kind != KindError || evt.ErrorMessage != want {
				t.Errorf("%s: expected %q, got %q", line, want, evt.ErrorMessage)
			}
		}
	})

	t.Run("result kinds", func(t *testing.T) {
		evt, _ := Decode(`{"type":"result","subtype":"success","result":"done"}`)
		if evt.Kind != KindResultSuccess || evt.Result != "done" {
			t.Fatalf("unexpected event %+v", evt)
		}
		evt, _ = Decode(`{"type":"result","subtype":"error_max_turns"}`)
		if evt.Kind != KindUnknown {
			t.Fatalf("expected non-success result to be unknown, got %s", evt.Kind)
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		evt, err := Decode(`{"type":"rate_limit","retry":3}`)
		if err != nil {
			t.Fatal(err)
		}
		if evt.Kind != KindUnknown || evt.Raw["retry"] != float64(3) {
			t.Fatalf("unexpected event %+v", evt)
		}
	})

	t.Run("decode errors", func(t *testing.T) {
		for _, line := range []string{"not json", `["array"]`, `{"no":"type"}`} {
			_, err := Decode(line)
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Errorf("%s: expected DecodeError, got %v", line, err)
			}
		}
	})
}

func TestIsResultSuccess(t *testing.T) {
	cases := []struct {
		line string
		want bool
	}{
		{`{"type":"result","subtype":"success","result":"ok"}`, true},
		{`{"subtype":"success","type":"result"}`, true},
		{`{"type":"result","subtype":"error_during_execution"}`, false},
		{`{"type":"assistant","message":{"content":[{"type":"text","text":"\"type\":\"result\""}]}}`, false},
		{`garbage "result"`, false},
	}
	for _, tc := range cases {
		if got := IsResultSuccess(tc.line); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.line, tc.want, got)
		}
	}
}
