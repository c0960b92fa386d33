package openai

import (
	"regexp"
	"strings"

	"github.com/mylxsw/asteria/log"
)

type valueKind int

const (
	valueWord valueKind = iota
	valueID
	valueBool
	valueList
)

// grammarKey is one recognised key=value token.
type grammarKey struct {
	name string
	kind valueKind
	// historyOnly keys are read from assistant messages but not from the
	// current user message.
	historyOnly bool
	apply       func(c *SessionConfig, v tokenValue)

	re *regexp.Regexp
}

type tokenValue struct {
	word string
	flag bool
	list []string
}

var grammar = []*grammarKey{
	{name: "session-id", kind: valueID, historyOnly: true, apply: func(c *SessionConfig, v tokenValue) { c.SessionID = v.word }},
	{name: "workspace", kind: valueWord, apply: func(c *SessionConfig, v tokenValue) { c.Workspace = v.word }},
	{name: "dangerously-skip-permissions", kind: valueBool, apply: func(c *SessionConfig, v tokenValue) { c.SkipPermissions = boolPtr(v.flag) }},
	{name: "allowed-tools", kind: valueList, apply: func(c *SessionConfig, v tokenValue) { c.AllowedTools = v.list }},
	{name: "disallowed-tools", kind: valueList, apply: func(c *SessionConfig, v tokenValue) { c.DisallowedTools = v.list }},
	{name: "skills", kind: valueList, apply: func(c *SessionConfig, v tokenValue) { c.Skills = v.list }},
	{name: "thinking", kind: valueBool, apply: func(c *SessionConfig, v tokenValue) { c.ShowThinking = boolPtr(v.flag) }},
}

var valuePatterns = map[valueKind]string{
	valueWord: `=(\S+)`,
	valueID:   `=([a-f0-9-]+)`,
	valueBool: `=(\w+)`,
	valueList: `=\[([^\]]*)\]`,
}

const skillOptionsKey = "skill-options"

var (
	promptOverrideRe = regexp.MustCompile(`(?m)(?:^|\s)prompt="([^"]+)"`)
	skillOptionsRe   = regexp.MustCompile(`(?m)(?:^|\s)` + regexp.QuoteMeta(skillOptionsKey) + `\s*=`)
	spaceRunRe       = regexp.MustCompile(`[ \t]{2,}`)
)

func init() {
	for _, k := range grammar {
		k.re = regexp.MustCompile(`(?m)(?:^|\s)` + regexp.QuoteMeta(k.name) + valuePatterns[k.kind])
	}
}

// scanTokens applies the first occurrence of every recognised key in text.
func scanTokens(text string, withHistoryKeys bool) SessionConfig {
	var cfg SessionConfig
	for _, k := range grammar {
		if k.historyOnly && !withHistoryKeys {
			continue
		}
		m := k.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		k.apply(&cfg, parseValue(k.kind, m[1]))
	}
	if opts, ok := ExtractSkillOptions(text); ok {
		cfg.SkillOptions = opts
	}
	return cfg
}

func parseValue(kind valueKind, raw string) tokenValue {
	switch kind {
	case valueBool:
		return tokenValue{flag: strings.EqualFold(raw, "true")}
	case valueList:
		list := []string{}
		for _, item := range strings.Split(raw, ",") {
			item = strings.Trim(strings.TrimSpace(item), `"'`)
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
		return tokenValue{list: list}
	default:
		return tokenValue{word: raw}
	}
}

// scanBalancedBraces finds the object starting at the first '{' at or after
// from and returns its bounds, end exclusive. Braces inside JSON strings do
// not count.
func scanBalancedBraces(text string, from int) (start, end int, ok bool) {
	open := strings.IndexByte(text[from:], '{')
	if open < 0 {
		return 0, 0, false
	}
	start = from + open

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return start, i + 1, true
			}
		}
	}
	return 0, 0, false
}

// skillOptionsSpan locates the whole skill-options token including its object.
func skillOptionsSpan(text string) (markerStart, objStart, objEnd int, ok bool) {
	loc := skillOptionsRe.FindStringIndex(text)
	if loc == nil {
		return 0, 0, 0, false
	}
	objStart, objEnd, ok = scanBalancedBraces(text, loc[1])
	return loc[0], objStart, objEnd, ok
}

// ExtractSkillOptions parses the object following skill-options=. Malformed
// blocks are logged and reported as absent.
func ExtractSkillOptions(text string) (map[string]any, bool) {
	if !strings.Contains(text, skillOptionsKey) {
		return nil, false
	}
	_, start, end, ok := skillOptionsSpan(text)
	if !ok {
		log.Warningf("skill-options block has unbalanced braces, ignoring it")
		return nil, false
	}

	var opts map[string]any
	if err := json.Unmarshal([]byte(text[start:end]), &opts); err != nil {
		log.Warningf("skill-options block is not valid JSON, ignoring it: %v", err)
		return nil, false
	}
	return opts, true
}

// ExtractMessageConfig reads the tokens of a user message and returns the
// text with them removed. A prompt="..." token replaces the text, and a
// message made only of tokens keeps its original text.
func ExtractMessageConfig(text string) (SessionConfig, string) {
	cfg := scanTokens(text, false)

	if m := promptOverrideRe.FindStringSubmatch(text); m != nil {
		return cfg, m[1]
	}
	return cfg, cleanedOr(stripTokens(text, true), text)
}

// ExtractSystemConfig reads the tokens of a system prompt. There prompt="..."
// is ordinary text and stays in place.
func ExtractSystemConfig(text string) (SessionConfig, string) {
	return scanTokens(text, false), cleanedOr(stripTokens(text, false), text)
}

func cleanedOr(cleaned, original string) string {
	if cleaned == "" {
		return original
	}
	return cleaned
}

func stripTokens(text string, withOverride bool) string {
	if marker, _, end, ok := skillOptionsSpan(text); ok {
		text = text[:marker] + leadingSpace(text[marker:end]) + text[end:]
	}
	for _, k := range grammar {
		if k.historyOnly {
			continue
		}
		text = k.re.ReplaceAllStringFunc(text, leadingSpace)
	}
	if withOverride {
		text = promptOverrideRe.ReplaceAllStringFunc(text, leadingSpace)
	}

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		indent := len(l) - len(strings.TrimLeft(l, " \t"))
		lines[i] = strings.TrimRight(l[:indent]+spaceRunRe.ReplaceAllString(l[indent:], " "), " \t\r")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// leadingSpace keeps the separator a token match consumed, so newlines survive.
func leadingSpace(match string) string {
	if match != "" && (match[0] == ' ' || match[0] == '\t' || match[0] == '\n' || match[0] == '\r') {
		return match[:1]
	}
	return ""
}

// ExtractSessionInfo walks prior messages newest first and collects the
// tokens of assistant messages until one carries a session id. That message
// is the session's announcement, so its values win; newer messages only fill
// keys it leaves unset. It returns false when no session id is found.
func ExtractSessionInfo(prior []Message) (SessionConfig, bool) {
	var acc SessionConfig
	for i := len(prior) - 1; i >= 0; i-- {
		msg := prior[i]
		if msg.Role != RoleAssistant || !msg.Content.IsText() {
			continue
		}
		found := scanTokens(msg.Content.Text, true)
		acc = Merge(found, acc)
		if found.SessionID != "" {
			return acc, true
		}
	}
	return SessionConfig{}, false
}
