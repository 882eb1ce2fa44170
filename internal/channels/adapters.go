package channels

import "unicode/utf8"

// Embed is a rich presentation block for channels that support them. Only
// the fields the relay actually renders are modeled.
type Embed struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Footer      string `json:"footer,omitempty"`
}

// Adapter describes the delivery capabilities of a logical channel id. The
// dispatch stage consults it to render cross-context relays and to chunk or
// caption long replies.
type Adapter struct {
	ID             string
	SupportsEmbeds bool
	CaptionLimit   int // max caption chars on a media send (0 = no media captions)
	TextChunkLimit int // max chars per text message (0 = unlimited)
}

// BuildCrossContextEmbeds renders the origin of a relayed message as an
// embed. Channels without embed support get nil; callers fall back to an
// inline origin label.
func (a Adapter) BuildCrossContextEmbeds(originLabel string) []Embed {
	if !a.SupportsEmbeds || originLabel == "" {
		return nil
	}
	return []Embed{{Footer: "relayed from " + originLabel}}
}

// InlineOrigin renders the origin of a relayed message into the text for
// channels that cannot carry it as an embed. Embed-capable channels return
// the content unchanged; their Send paths use BuildCrossContextEmbeds.
func (a Adapter) InlineOrigin(content, originLabel string) string {
	if originLabel == "" || a.SupportsEmbeds {
		return content
	}
	return "[from " + originLabel + "] " + content
}

// defaultAdapter covers unlisted channel ids: plain text, no embeds, no
// known limits.
var defaultAdapter = Adapter{}

var adapters = map[string]Adapter{
	"whatsapp":   {ID: "whatsapp", CaptionLimit: 1024, TextChunkLimit: 65536},
	"telegram":   {ID: "telegram", CaptionLimit: 1024, TextChunkLimit: 4096},
	"slack":      {ID: "slack", SupportsEmbeds: true, TextChunkLimit: 40000},
	"discord":    {ID: "discord", SupportsEmbeds: true, CaptionLimit: 2000, TextChunkLimit: 2000},
	"dingtalk":   {ID: "dingtalk", TextChunkLimit: 4096},
	"qqbot":      {ID: "qqbot", TextChunkLimit: 4096},
	"wecom":      {ID: "wecom", TextChunkLimit: 2048},
	"matrix":     {ID: "matrix", TextChunkLimit: 32768},
	"mattermost": {ID: "mattermost", SupportsEmbeds: true, TextChunkLimit: 16383},
	"signal":     {ID: "signal", TextChunkLimit: 2000},
	"imessage":   {ID: "imessage"},
	"twitch":     {ID: "twitch", TextChunkLimit: 500},
	"tlon":       {ID: "tlon"},
}

// LookupAdapter returns the delivery capabilities for a channel id. Unknown
// ids get the plain-text default.
func LookupAdapter(channelID string) Adapter {
	if a, ok := adapters[channelID]; ok {
		return a
	}
	d := defaultAdapter
	d.ID = channelID
	return d
}

// ChunkText splits text into pieces no longer than the adapter's chunk
// limit, preferring newline then space boundaries. A zero limit returns the
// text unchanged.
func (a Adapter) ChunkText(text string) []string {
	limit := a.TextChunkLimit
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(text) > limit {
		cut := limit
		if idx := lastIndexByteBefore(text, '\n', limit); idx > 0 {
			cut = idx
		} else if idx := lastIndexByteBefore(text, ' ', limit); idx > 0 {
			cut = idx
		} else {
			// No break point: cut on a rune boundary, never mid-sequence.
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
		}
		chunks = append(chunks, text[:cut])
		text = trimLeadingSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func lastIndexByteBefore(s string, b byte, max int) int {
	for i := max - 1; i > 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func trimLeadingSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\n') {
		s = s[1:]
	}
	return s
}
