// Package sessions builds session keys, derives stable session ids, and
// persists transcripts.
//
// Session keys follow the canonical format:
//
//	agent:{agentId}:{rest}
//
// Where {rest} depends on the conversation:
//
//	DM:          {channel}:direct:{peerId}
//	Group:       {channel}:group:{groupId}
//	Cron:        cron:{jobId}:run:{runId}
//
// Examples:
//
//	agent:default:telegram:direct:386246614
//	agent:default:whatsapp:group:12036304@g.us
//	agent:default:cron:reminder:run:abc123
package sessions

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect  PeerKind = "direct"
	PeerGroup   PeerKind = "group"
	PeerChannel PeerKind = "channel"
)

const (
	slugMaxLen      = 32
	digestPrefixLen = 10
)

// BuildSessionKey builds the canonical agent session key for a channel conversation.
//
//	DM:    agent:{agentId}:{channel}:direct:{peerID}
//	Group: agent:{agentId}:{channel}:group:{chatID}
func BuildSessionKey(agentID, channel string, kind PeerKind, chatID string) string {
	return fmt.Sprintf("agent:%s:%s:%s:%s", agentID, channel, kind, chatID)
}

// BuildCronSessionKey builds the session key for a cron job run.
// Guards against double-prefixing when jobID is already a canonical key.
func BuildCronSessionKey(agentID, jobID, runID string) string {
	if _, rest := ParseSessionKey(jobID); rest != "" {
		jobID = rest
	}
	return fmt.Sprintf("agent:%s:cron:%s:run:%s", agentID, jobID, runID)
}

// BuildAgentMainSessionKey builds the shared "main" session key for an agent.
// Used when dm_scope="main": all DMs share one session per agent.
func BuildAgentMainSessionKey(agentID, mainKey string) string {
	if mainKey == "" {
		mainKey = "main"
	}
	return fmt.Sprintf("agent:%s:%s", agentID, mainKey)
}

// BuildScopedSessionKey builds a session key based on scope config.
//
// scope:
//   - "global"     → "global"
//   - "per-sender" → depends on dmScope (default)
//
// dmScope (DMs only; groups always use the full key):
//   - "main"             → agent:{agentId}:{mainKey}
//   - "per-peer"         → agent:{agentId}:direct:{peerId}
//   - "per-channel-peer" → agent:{agentId}:{channel}:direct:{peerId}  (default)
func BuildScopedSessionKey(agentID, channel string, kind PeerKind, chatID, scope, dmScope, mainKey string) string {
	if scope == "global" {
		return "global"
	}

	if kind != PeerDirect {
		return BuildSessionKey(agentID, channel, kind, chatID)
	}

	switch dmScope {
	case "main":
		return BuildAgentMainSessionKey(agentID, mainKey)
	case "per-peer":
		return fmt.Sprintf("agent:%s:direct:%s", agentID, chatID)
	default: // "per-channel-peer" or empty
		return BuildSessionKey(agentID, channel, kind, chatID)
	}
}

// ParseSessionKey extracts the agentID and rest from a canonical session key.
// Returns ("", "") if the key is not in the expected format.
func ParseSessionKey(key string) (agentID, rest string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 3 || parts[0] != "agent" {
		return "", ""
	}
	return parts[1], parts[2]
}

// IsCronSession checks if a session key indicates a cron session.
func IsCronSession(key string) bool {
	_, rest := ParseSessionKey(key)
	return strings.HasPrefix(strings.ToLower(rest), "cron:")
}

// PeerKindFromGroup returns PeerGroup if isGroup is true, PeerDirect otherwise.
func PeerKindFromGroup(isGroup bool) PeerKind {
	if isGroup {
		return PeerGroup
	}
	return PeerDirect
}

// NormalizeSessionKey canonicalizes a session key for id derivation:
// trimmed and lowercased. Two keys differing only by case or surrounding
// whitespace map to the same session.
func NormalizeSessionKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// SessionID derives the filesystem-safe, bounded-length id for a session key.
//
// The id is `{slug}-{digest}` where slug is the normalized key with every run
// of non-alphanumeric characters collapsed to a single hyphen (trimmed,
// capped at 32 chars) and digest is the first 10 hex chars of the SHA-256 of
// the normalized, untruncated key. The slug keeps ids human-readable; the
// digest keeps them unique when slugs collide after truncation.
func SessionID(key string) string {
	normalized := NormalizeSessionKey(key)

	sum := sha256.Sum256([]byte(normalized))
	digest := hex.EncodeToString(sum[:])[:digestPrefixLen]

	slug := slugify(normalized)
	if slug == "" {
		return digest
	}
	return slug + "-" + digest
}

func slugify(s string) string {
	var sb strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range s {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if alnum {
			sb.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			sb.WriteByte('-')
			lastHyphen = true
		}
	}
	slug := strings.Trim(sb.String(), "-")
	if len(slug) > slugMaxLen {
		slug = strings.Trim(slug[:slugMaxLen], "-")
	}
	return slug
}
