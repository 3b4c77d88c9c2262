package admission

import (
	"strings"

	"vibe-trader/internal/domain"
)

// ResolveIdentity attributes a request to an authenticated user when userID
// is set, else to its network origin. userID must already be verified; see
// Authenticator. forwardedFor is the raw
// X-Forwarded-For header; its first hop wins over remoteIP.
func ResolveIdentity(userID, forwardedFor, remoteIP string) domain.Identity {
	if id := strings.TrimSpace(userID); id != "" {
		return domain.Identity{ID: id, Class: domain.IdentityUser}
	}
	ip := ""
	if forwardedFor != "" {
		ip = strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
	}
	if ip == "" {
		ip = strings.TrimSpace(remoteIP)
	}
	if ip == "" {
		ip = "unknown"
	}
	return domain.Identity{ID: "ip:" + ip, Class: domain.IdentityAnonymous}
}
