package routing

import (
	"regexp"
	"strings"
)

// Target kinds accepted in explicit destinations like "user:123" or
// "channel:#general". The kind prefix is stripped during normalization; the
// adapter only sees the canonical id.
const (
	targetKindUser    = "user:"
	targetKindChannel = "channel:"
	targetKindGroup   = "group:"
)

var (
	digitsRe      = regexp.MustCompile(`^\+?[0-9][0-9 ().-]{4,}$`)
	slackIDRe     = regexp.MustCompile(`^[UCGDW][A-Z0-9]{6,}$`)
	snowflakeRe   = regexp.MustCompile(`^[0-9]{15,21}$`)
	telegramIDRe  = regexp.MustCompile(`^-?[0-9]{5,}$`)
	matrixUserRe  = regexp.MustCompile(`^@[^:]+:.+$`)
	phoneStripRe  = regexp.MustCompile(`[ ().-]`)
	whatsappJIDRe = regexp.MustCompile(`^[0-9]{5,}(@s\.whatsapp\.net|@g\.us)?$`)
)

// NormalizeTarget canonicalizes a raw destination for the given channel.
// Kind prefixes ("user:", "channel:", "group:") and a leading "channel:"
// provider prefix (e.g. "telegram:123") are stripped; phone-style targets
// lose spacing and punctuation. Returns "" when the input is empty after
// normalization.
func NormalizeTarget(channelID, raw string) string {
	t := strings.TrimSpace(raw)
	if t == "" {
		return ""
	}

	if p := channelID + ":"; len(t) > len(p) && strings.EqualFold(t[:len(p)], p) {
		t = t[len(p):]
	}
	for _, kind := range []string{targetKindUser, targetKindChannel, targetKindGroup} {
		if strings.HasPrefix(t, kind) {
			t = t[len(kind):]
			break
		}
	}
	t = strings.TrimSpace(t)

	switch channelID {
	case "whatsapp", "signal":
		// Phone-style: keep a leading + only for signal, digits otherwise.
		if digitsRe.MatchString(t) {
			stripped := phoneStripRe.ReplaceAllString(t, "")
			if channelID == "whatsapp" {
				stripped = strings.TrimPrefix(stripped, "+")
			}
			return stripped
		}
		return t
	case "telegram", "discord", "slack", "twitch":
		return strings.TrimPrefix(t, "@")
	case "matrix":
		// Bare localparts become full user ids elsewhere; strip nothing
		// beyond whitespace so "@alice:example.org" survives intact.
		return t
	default:
		return t
	}
}

// LooksLikeTargetID reports whether a normalized target is plausibly a
// native id on the channel, as opposed to a display name that still needs
// directory resolution.
func LooksLikeTargetID(channelID, target string) bool {
	if target == "" {
		return false
	}
	switch channelID {
	case "whatsapp":
		return whatsappJIDRe.MatchString(target)
	case "signal":
		return digitsRe.MatchString(target)
	case "telegram":
		// User ids are short numerics; supergroup ids are negative.
		return telegramIDRe.MatchString(target)
	case "discord":
		return snowflakeRe.MatchString(target)
	case "slack":
		return slackIDRe.MatchString(target)
	case "matrix":
		return matrixUserRe.MatchString(target) || strings.HasPrefix(target, "!")
	default:
		// Unknown channels accept anything non-empty; the adapter is the
		// final authority on deliverability.
		return true
	}
}
