package core

import (
	"regexp"
	"strings"
)

var nonAlphanumeric = regexp.MustCompile(`[^A-Za-z0-9]+`)

// Slugify joins parts with a space and collapses every run of characters
// outside [A-Za-z0-9] into a single dash.
func Slugify(parts ...string) string {
	return nonAlphanumeric.ReplaceAllString(strings.Join(parts, " "), "-")
}

// AgentKey derives the agent id of a (client, category) or (client, brand) pair
func AgentKey(clientID, target string) string {
	return Slugify(clientID, target)
}

// TargetSlug is the part of an agent key that identifies the category or brand
func TargetSlug(target string) string {
	return strings.TrimPrefix(Slugify(" ", target), "-")
}

// ClientOf returns the client part of key when key is an agent of the
// target slug. Client ids may contain dashes, so the target is matched as a
// suffix.
func ClientOf(key, targetSlug string) (string, bool) {
	if targetSlug == "" {
		return "", false
	}
	clientID, ok := strings.CutSuffix(key, "-"+targetSlug)
	if !ok || clientID == "" {
		return "", false
	}
	return clientID, true
}

// OwnedBy reports whether key is an agent of one of the clients
func OwnedBy(key string, clients map[string]bool) bool {
	for i := 1; i < len(key); i++ {
		if key[i] == '-' && clients[key[:i]] {
			return true
		}
	}
	return false
}
