package httpserver

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// stampTURNCredentials returns a copy of servers where every entry carrying a
// turn: or turns: URL uses the given short-lived credentials. STUN-only
// entries are passed through untouched.
func stampTURNCredentials(servers []webrtc.ICEServer, username, credential string) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, server := range servers {
		if hasTURNURL(server) {
			server.Username = username
			server.Credential = credential
		}
		out = append(out, server)
	}
	return out
}

func hasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		scheme, _, ok := strings.Cut(strings.TrimSpace(raw), ":")
		if ok && (strings.EqualFold(scheme, "turn") || strings.EqualFold(scheme, "turns")) {
			return true
		}
	}
	return false
}
