package routing

import (
	"strings"
	"unicode"
)

// DefaultSilentToken is the reply token that suppresses delivery when it
// appears as a whole word at the start or end of the agent's output.
const DefaultSilentToken = "NO_REPLY"

// ReplyDirectives is the agent's raw output decomposed into control flags
// and the directive-stripped display text. The display text never contains
// raw directive syntax.
type ReplyDirectives struct {
	Text         string // stripped display text
	Silent       bool
	ReplyTo      string // explicit destination, e.g. "telegram:123"
	Exec         string // command to run through the exec collaborator
	Queue        string // command to enqueue for the next turn
	Elevated     bool
	Verbose      bool
	Reasoning    bool
	AudioAsVoice bool
}

// DirectiveOptions configures extraction.
type DirectiveOptions struct {
	SilentToken string // defaults to DefaultSilentToken
}

// Inline tag names. Tags are written [[name]] or [[name:value]] anywhere in
// the reply text and are stripped before delivery.
const (
	tagReplyTo      = "reply_to"
	tagExec         = "exec"
	tagQueue        = "queue"
	tagElevated     = "elevated"
	tagVerbose      = "verbose"
	tagReasoning    = "reasoning"
	tagAudioAsVoice = "audio_as_voice"
)

// ExtractDirectives parses agent output for inline control tags and the
// silent-reply token, returning the flags plus the stripped text.
//
// The scan is a single left-to-right pass: each well-formed [[...]] tag is
// consumed exactly once, so extracting one directive can never corrupt
// detection of another and extraction is order-independent. Malformed or
// unknown tag syntax fails open and stays in the text verbatim.
func ExtractDirectives(raw string, opts DirectiveOptions) ReplyDirectives {
	token := opts.SilentToken
	if token == "" {
		token = DefaultSilentToken
	}

	var out ReplyDirectives
	var sb strings.Builder
	sb.Grow(len(raw))

	for i := 0; i < len(raw); {
		if raw[i] != '[' || !strings.HasPrefix(raw[i:], "[[") {
			sb.WriteByte(raw[i])
			i++
			continue
		}

		end := strings.Index(raw[i+2:], "]]")
		if end < 0 {
			// Unterminated tag: ordinary text.
			sb.WriteString(raw[i:])
			break
		}

		body := raw[i+2 : i+2+end]
		if !out.applyTag(body) {
			// Unknown or malformed tag: keep it as text, move past the
			// opening bracket so nested/overlapping brackets still scan.
			sb.WriteByte(raw[i])
			i++
			continue
		}
		i += 2 + end + 2
	}

	text := collapseSpace(sb.String())

	if stripped, ok := stripAnchoredToken(text, token); ok {
		out.Silent = true
		text = stripped
	}

	out.Text = text
	return out
}

// applyTag interprets one [[...]] body. Returns false when the tag is not a
// known directive (the caller then treats it as ordinary text).
func (d *ReplyDirectives) applyTag(body string) bool {
	name, value := body, ""
	if idx := strings.IndexByte(body, ':'); idx >= 0 {
		name, value = body[:idx], strings.TrimSpace(body[idx+1:])
	}
	name = strings.ToLower(strings.TrimSpace(name))

	switch name {
	case tagReplyTo:
		if value == "" {
			return false
		}
		d.ReplyTo = value
	case tagExec:
		if value == "" {
			return false
		}
		d.Exec = value
	case tagQueue:
		if value == "" {
			return false
		}
		d.Queue = value
	case tagElevated:
		d.Elevated = true
	case tagVerbose:
		d.Verbose = true
	case tagReasoning:
		d.Reasoning = true
	case tagAudioAsVoice:
		d.AudioAsVoice = true
	default:
		return false
	}
	return true
}

// stripAnchoredToken removes token from the start or end of text when it
// stands alone on a word boundary. Mid-sentence occurrences never match.
func stripAnchoredToken(text, token string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == token {
		return "", true
	}

	if strings.HasPrefix(trimmed, token) {
		rest := trimmed[len(token):]
		if r := firstRune(rest); r != 0 && !isWordRune(r) {
			return strings.TrimSpace(rest), true
		}
	}

	if strings.HasSuffix(trimmed, token) {
		rest := trimmed[:len(trimmed)-len(token)]
		if r := lastRune(rest); r != 0 && !isWordRune(r) {
			return strings.TrimSpace(rest), true
		}
	}

	return text, false
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func lastRune(s string) rune {
	var last rune
	for _, r := range s {
		last = r
	}
	return last
}

// collapseSpace trims the text and collapses runs of blank lines / doubled
// spaces left behind by tag removal.
func collapseSpace(s string) string {
	s = strings.ReplaceAll(s, "  ", " ")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		trimmedRight := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmedRight) == "" {
			if blank {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, trimmedRight)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
