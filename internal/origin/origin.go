// Package origin implements the browser Origin policy shared by the HTTP API
// and the signaling WebSocket upgrade.
package origin

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Origin is a parsed, normalized browser origin. The zero Origin with Null set
// is the opaque "null" origin.
type Origin struct {
	Scheme string
	// Host is hostname[:port] with default ports dropped and IPv6 literals
	// bracketed.
	Host string
	Null bool
}

func (o Origin) String() string {
	if o.Null {
		return "null"
	}
	return o.Scheme + "://" + o.Host
}

// Parse validates an Origin header value. Only http and https origins without
// credentials, query or path (a bare "/" is tolerated) are accepted.
func Parse(header string) (Origin, bool) {
	header = strings.TrimSpace(header)
	switch header {
	case "":
		return Origin{}, false
	case "null":
		return Origin{Null: true}, true
	}

	u, err := url.Parse(header)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return Origin{}, false
	}
	if u.Path != "" && u.Path != "/" {
		return Origin{}, false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Origin{}, false
	}
	host, ok := canonicalHost(u.Host, scheme)
	if !ok {
		return Origin{}, false
	}
	return Origin{Scheme: scheme, Host: host}, true
}

// Policy decides which origins may open a signaling connection or call the
// HTTP API.
type Policy struct {
	allowed  []string
	allowAny bool
}

// NewPolicy builds a policy from normalized origins (as produced by
// Origin.String) or "*". With no entries only same-host origins are allowed.
func NewPolicy(allowed []string) Policy {
	return Policy{
		allowed:  allowed,
		allowAny: lo.Contains(allowed, "*"),
	}
}

// Allow reports whether a request carrying header for requestHost passes the
// policy. The parsed origin is returned for use in CORS responses.
func (p Policy) Allow(header, requestHost string) (Origin, bool) {
	o, ok := Parse(header)
	if !ok {
		return Origin{}, false
	}
	if p.allowAny {
		return o, true
	}
	if len(p.allowed) > 0 {
		return o, lo.Contains(p.allowed, o.String())
	}
	if o.Null {
		return o, false
	}

	// Same host:port. Scheme is not compared so a TLS-terminating proxy in
	// front of the relay does not break same-site browsers.
	host, ok := canonicalHost(strings.ToLower(strings.TrimSpace(requestHost)), o.Scheme)
	return o, ok && host == o.Host
}

// CheckRequest is a websocket.Upgrader CheckOrigin func. Requests without an
// Origin header come from non-browser clients and are allowed.
func (p Policy) CheckRequest(r *http.Request) bool {
	values := r.Header.Values("Origin")
	switch len(values) {
	case 0:
		return true
	case 1:
		_, ok := p.Allow(values[0], r.Host)
		return ok
	default:
		return false
	}
}

func canonicalHost(authority, scheme string) (string, bool) {
	hostname, port, ok := splitAuthority(authority)
	if !ok {
		return "", false
	}
	hostname = strings.ToLower(hostname)
	if hostname == "" {
		return "", false
	}

	if port != "" {
		n, err := strconv.ParseUint(port, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		if (scheme == "http" && n == 80) || (scheme == "https" && n == 443) {
			port = ""
		} else {
			port = strconv.FormatUint(n, 10)
		}
	}

	if strings.Contains(hostname, ":") {
		hostname = "[" + hostname + "]"
	}
	if port == "" {
		return hostname, true
	}
	return hostname + ":" + port, true
}

// splitAuthority splits host[:port]. IPv6 literals must be bracketed and are
// returned without brackets.
func splitAuthority(authority string) (hostname, port string, ok bool) {
	if rest, found := strings.CutPrefix(authority, "["); found {
		hostname, rest, found = strings.Cut(rest, "]")
		if !found {
			return "", "", false
		}
		if rest == "" {
			return hostname, "", true
		}
		port, found = strings.CutPrefix(rest, ":")
		return hostname, port, found && port != ""
	}

	switch strings.Count(authority, ":") {
	case 0:
		return authority, "", authority != ""
	case 1:
		hostname, port, _ = strings.Cut(authority, ":")
		return hostname, port, hostname != "" && port != ""
	default:
		return "", "", false
	}
}
