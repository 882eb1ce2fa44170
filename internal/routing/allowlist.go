package routing

import (
	"regexp"
	"strings"
)

// AccessPolicy decides who may start a conversation on a channel surface.
type AccessPolicy string

const (
	// PolicyOpen admits every sender.
	PolicyOpen AccessPolicy = "open"
	// PolicyAllowlist admits only senders matching a configured entry.
	PolicyAllowlist AccessPolicy = "allowlist"
	// PolicyPairing admits paired senders; unknown senders receive a
	// pairing code instead of a reply.
	PolicyPairing AccessPolicy = "pairing"
	// PolicyDisabled rejects everyone.
	PolicyDisabled AccessPolicy = "disabled"
)

// NormalizePolicy maps arbitrary config input onto a known policy,
// defaulting to pairing for unrecognized values.
func NormalizePolicy(raw string) AccessPolicy {
	switch AccessPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case PolicyOpen:
		return PolicyOpen
	case PolicyAllowlist:
		return PolicyAllowlist
	case PolicyDisabled:
		return PolicyDisabled
	default:
		return PolicyPairing
	}
}

// Match sources, ordered from most to least specific. When several allowlist
// entries match the same sender, the most specific source wins.
const (
	MatchSourceID         = "id"
	MatchSourcePrefixedID = "prefixed-id"
	MatchSourceUsername   = "username"
	MatchSourcePrefixUser = "prefixed-user"
	MatchSourceName       = "name"
	MatchSourcePrefixName = "prefixed-name"
	MatchSourceTag        = "tag"
	MatchSourceSlug       = "slug"
	MatchSourceLocalpart  = "localpart"
	MatchSourceWildcard   = "wildcard"
)

var sourceRank = map[string]int{
	MatchSourceID:         0,
	MatchSourcePrefixedID: 1,
	MatchSourceUsername:   2,
	MatchSourcePrefixUser: 3,
	MatchSourceName:       4,
	MatchSourcePrefixName: 5,
	MatchSourceTag:        6,
	MatchSourceSlug:       7,
	MatchSourceLocalpart:  8,
	MatchSourceWildcard:   9,
}

// AllowlistMatch reports how a sender matched the allowlist. MatchKey is the
// configured entry that matched and MatchSource names which identity field
// it matched against.
type AllowlistMatch struct {
	Allowed     bool
	MatchKey    string
	MatchSource string
}

// SenderIdentity carries every identity facet a channel knows about a
// sender. Fields a channel cannot supply stay empty and are skipped.
type SenderIdentity struct {
	ID       string // platform-native id, e.g. "123456" or "U0AB12CD"
	Username string // handle without decoration, e.g. "alice"
	Name     string // display name, e.g. "Alice Jones"
	Tag      string // discriminated handle, e.g. "alice#1234"
	Email    string // for localpart matching
	Provider string // channel id used for prefixed entries, e.g. "telegram"
}

var slugStripRe = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeSlug lowercases an identity facet and strips everything outside
// [a-z0-9] so "Alice Jones" and "alice.jones" compare equal.
func NormalizeSlug(s string) string {
	return slugStripRe.ReplaceAllString(strings.ToLower(s), "")
}

// normalizeEntry strips decoration from a configured allowlist entry:
// surrounding whitespace, a leading "@", and a "provider:" prefix when it
// names the given provider (aliases like "tg" for telegram included).
func normalizeEntry(entry, provider string) (value string, prefixed bool) {
	e := strings.TrimSpace(entry)
	for _, alias := range providerAliases(provider) {
		p := alias + ":"
		if len(e) > len(p) && strings.EqualFold(e[:len(p)], p) {
			e = e[len(p):]
			prefixed = true
			break
		}
	}
	e = strings.TrimPrefix(e, "@")
	return e, prefixed
}

func providerAliases(provider string) []string {
	switch provider {
	case "telegram":
		return []string{"telegram", "tg"}
	case "whatsapp":
		return []string{"whatsapp", "wa"}
	case "":
		return nil
	default:
		return []string{provider}
	}
}

// ResolveAllow checks a sender against the allowlist entries and returns the
// best match. An empty allowlist admits nobody; a "*" entry admits everyone
// but only as a last resort, so explicit entries still report their own
// match source.
func ResolveAllow(sender SenderIdentity, entries []string) AllowlistMatch {
	best := AllowlistMatch{}
	bestRank := len(sourceRank)

	consider := func(m AllowlistMatch) {
		r, ok := sourceRank[m.MatchSource]
		if !ok {
			return
		}
		if !best.Allowed || r < bestRank {
			best = m
			bestRank = r
		}
	}

	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if entry == "*" {
			consider(AllowlistMatch{Allowed: true, MatchKey: "*", MatchSource: MatchSourceWildcard})
			continue
		}

		value, prefixed := normalizeEntry(entry, sender.Provider)
		if value == "" {
			continue
		}

		if sender.ID != "" && strings.EqualFold(value, sender.ID) {
			src := MatchSourceID
			if prefixed {
				src = MatchSourcePrefixedID
			}
			consider(AllowlistMatch{Allowed: true, MatchKey: entry, MatchSource: src})
			continue
		}
		if sender.Username != "" && strings.EqualFold(value, sender.Username) {
			src := MatchSourceUsername
			if prefixed {
				src = MatchSourcePrefixUser
			}
			consider(AllowlistMatch{Allowed: true, MatchKey: entry, MatchSource: src})
			continue
		}
		if sender.Name != "" && strings.EqualFold(value, sender.Name) {
			src := MatchSourceName
			if prefixed {
				src = MatchSourcePrefixName
			}
			consider(AllowlistMatch{Allowed: true, MatchKey: entry, MatchSource: src})
			continue
		}
		if sender.Tag != "" && strings.EqualFold(value, sender.Tag) {
			consider(AllowlistMatch{Allowed: true, MatchKey: entry, MatchSource: MatchSourceTag})
			continue
		}
		if sender.Email != "" {
			local := sender.Email
			if at := strings.IndexByte(local, '@'); at >= 0 {
				local = local[:at]
			}
			if strings.EqualFold(value, local) {
				consider(AllowlistMatch{Allowed: true, MatchKey: entry, MatchSource: MatchSourceLocalpart})
				continue
			}
		}
		if slug := NormalizeSlug(value); slug != "" {
			if (sender.Name != "" && NormalizeSlug(sender.Name) == slug) ||
				(sender.Username != "" && NormalizeSlug(sender.Username) == slug) {
				consider(AllowlistMatch{Allowed: true, MatchKey: entry, MatchSource: MatchSourceSlug})
			}
		}
	}

	return best
}

// PolicyDecision is the outcome of applying an access policy to a sender.
type PolicyDecision struct {
	Allowed     bool
	NeedPairing bool
	Match       AllowlistMatch
}

// ApplyPolicy combines a policy with an allowlist check. Under the pairing
// policy an allowlisted sender is admitted directly; an unknown sender is
// flagged for the pairing flow rather than rejected outright.
func ApplyPolicy(policy AccessPolicy, sender SenderIdentity, entries []string) PolicyDecision {
	switch policy {
	case PolicyOpen:
		return PolicyDecision{Allowed: true, Match: AllowlistMatch{Allowed: true, MatchKey: "*", MatchSource: MatchSourceWildcard}}
	case PolicyDisabled:
		return PolicyDecision{}
	case PolicyAllowlist:
		m := ResolveAllow(sender, entries)
		return PolicyDecision{Allowed: m.Allowed, Match: m}
	default: // pairing
		m := ResolveAllow(sender, entries)
		if m.Allowed {
			return PolicyDecision{Allowed: true, Match: m}
		}
		return PolicyDecision{NeedPairing: true}
	}
}
