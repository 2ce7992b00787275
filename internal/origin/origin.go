// Package origin normalizes browser Origin headers and applies the relay's
// origin allow-list.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// NormalizeHeader validates an Origin header and returns it as
// scheme://host[:port] with the scheme and host lowercased and default ports
// removed. host is the authority part, used for same-host checks.
//
// The opaque origin "null" is accepted and returned unchanged with an empty host.
func NormalizeHeader(header string) (normalized string, host string, ok bool) {
	header = strings.TrimSpace(header)
	switch header {
	case "":
		return "", "", false
	case "null":
		return "null", "", true
	}

	u, err := url.Parse(header)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = normalizeAuthority(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// IsAllowed reports whether a normalized origin may use the relay.
//
// A non-empty allow-list is matched exactly, with "*" matching anything.
// An empty allow-list only admits pages served from the request's own host;
// schemes are not compared so a TLS-terminating proxy in front still works.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowed []string) bool {
	if len(allowed) > 0 {
		for _, a := range allowed {
			if a == "*" || a == normalizedOrigin {
				return true
			}
		}
		return false
	}

	scheme, _, found := strings.Cut(normalizedOrigin, "://")
	if !found || originHost == "" {
		return false
	}
	reqHost, ok := normalizeAuthority(requestHost, scheme)
	return ok && reqHost == originHost
}

// normalizeAuthority lowercases host[:port], brackets IPv6 literals and drops
// the scheme's default port.
func normalizeAuthority(authority, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(strings.ToLower(strings.TrimSpace(authority)))
	if !ok || hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort returns the hostname without IPv6 brackets and the raw port,
// which is empty when absent.
func splitHostPort(authority string) (hostname, port string, ok bool) {
	if authority == "" {
		return "", "", false
	}

	if strings.HasPrefix(authority, "[") {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", "", false
		}
		hostname, rest := authority[1:end], authority[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if len(rest) < 2 || rest[0] != ':' {
			return "", "", false
		}
		return hostname, rest[1:], true
	}

	// Unbracketed IPv6 is not a valid authority.
	if strings.Count(authority, ":") > 1 {
		return "", "", false
	}
	hostname, port, hasPort := strings.Cut(authority, ":")
	if hostname == "" || (hasPort && port == "") {
		return "", "", false
	}
	return hostname, port, true
}
