package memory

import (
	"strings"
	"time"
)

// WorkspaceDefaultTTL is how long session-scoped working memory stays
// relevant before expiry sweeps may archive it.
const WorkspaceDefaultTTL = 24 * time.Hour

const workspacePrefix = Scheme + string(TypeTask) + "/session."

func workspaceSlug(input string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(input) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}

// BuildWorkspacePath returns the task path holding session-scoped working
// memory, e.g. "mory://task/session.sess_42.state".
func BuildWorkspacePath(sessionID, key string) string {
	if key == "" {
		key = "state"
	}
	return workspacePrefix + workspaceSlug(sessionID) + "." + workspaceSlug(key)
}

// IsWorkspacePath reports whether path holds session-scoped working memory.
func IsWorkspacePath(path string) bool {
	return strings.HasPrefix(path, workspacePrefix)
}

// WorkspaceExpired reports whether working memory updated at updatedAt has
// outlived its TTL. Zero timestamps never expire; the forgetting policy
// handles those through its retention floor.
func WorkspaceExpired(updatedAt time.Time, ttl time.Duration) bool {
	if updatedAt.IsZero() {
		return false
	}
	if ttl <= 0 {
		ttl = WorkspaceDefaultTTL
	}
	return timeNow().Sub(updatedAt) > ttl
}

// WorkingCandidate shapes a payload into session-scoped working memory: a
// task node at the workspace path that each write overwrites in place.
func WorkingCandidate(cand Candidate, sessionID, key string) *Candidate {
	cand.Path = BuildWorkspacePath(sessionID, key)
	cand.Type = TypeTask
	cand.Policy = PolicyOverwrite
	if cand.Importance == nil {
		importance := 0.7
		cand.Importance = &importance
	}
	if cand.Utility == nil {
		utility := 0.9
		cand.Utility = &utility
	}
	return &cand
}
