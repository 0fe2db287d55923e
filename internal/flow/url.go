package flow

import (
	"fmt"
	"strconv"
	"strings"
)

// QueryParam is a single ordered query-string pair.
type QueryParam struct {
	Key   string
	Value string
}

// URL is a decomposed authority-form URL: a narrower, component-based
// type than net/url.URL. Only the subset of absolute-URL syntax that
// ParseURL accepts is supported; this is not a browser-grade parser.
//
// Mutating any component invalidates the cached serialization; the next
// String()/Authority()/Host() call recomputes it.
type URL struct {
	protocol string // "http" | "https"
	username string
	password string
	hostname string
	port     string // empty means "use protocol default"
	path     string // path + query, as a single opaque string the caller set
	search   []QueryParam

	cache      string
	cacheValid bool
}

// defaultPort returns the elided-by-default port for protocol, or "".
func defaultPort(protocol string) string {
	switch protocol {
	case "https":
		return "443"
	case "http":
		return "80"
	}
	return ""
}

// NewURL builds a URL from its components. protocol is lowercased.
func NewURL(protocol, hostname string) *URL {
	u := &URL{protocol: strings.ToLower(protocol), hostname: strings.ToLower(hostname)}
	return u
}

func (u *URL) invalidate() { u.cacheValid = false }

// Protocol returns "http" or "https".
func (u *URL) Protocol() string { return u.protocol }

// SetProtocol sets the scheme, lowercased.
func (u *URL) SetProtocol(p string) {
	u.protocol = strings.ToLower(p)
	u.invalidate()
}

func (u *URL) Username() (string, bool) {
	if u.username == "" {
		return "", false
	}
	return u.username, true
}

func (u *URL) SetUsername(v string) { u.username = v; u.invalidate() }

func (u *URL) Password() (string, bool) {
	if u.password == "" {
		return "", false
	}
	return u.password, true
}

func (u *URL) SetPassword(v string) { u.password = v; u.invalidate() }

func (u *URL) Hostname() (string, bool) {
	if u.hostname == "" {
		return "", false
	}
	return u.hostname, true
}

// SetHostname sets the host component, lowercased.
func (u *URL) SetHostname(v string) {
	u.hostname = strings.ToLower(v)
	u.invalidate()
}

func (u *URL) Port() (string, bool) {
	if u.port == "" {
		return "", false
	}
	return u.port, true
}

func (u *URL) SetPort(v string) { u.port = v; u.invalidate() }

// PortOrDefault returns the explicit port, or the protocol's default
// port (443/80) if none was set — used by the TLS terminator and HTTP
// engines to pick a dial target.
func (u *URL) PortOrDefault() string {
	if u.port != "" {
		return u.port
	}
	return defaultPort(u.protocol)
}

func (u *URL) Path() (string, bool) {
	if u.path == "" {
		return "", false
	}
	return u.path, true
}

func (u *URL) SetPath(v string) { u.path = v; u.invalidate() }

// SearchParams returns the ordered query parameters.
func (u *URL) SearchParams() []QueryParam {
	return append([]QueryParam(nil), u.search...)
}

// SetSearchParam removes all existing params named key, then appends
// one with value.
func (u *URL) SetSearchParam(key, value string) {
	u.DeleteSearchParam(key)
	u.AppendSearchParam(key, value)
	u.invalidate()
}

// AppendSearchParam adds a param without removing existing ones.
func (u *URL) AppendSearchParam(key, value string) {
	u.search = append(u.search, QueryParam{Key: key, Value: value})
	u.invalidate()
}

// DeleteSearchParam removes every param named key.
func (u *URL) DeleteSearchParam(key string) {
	kept := u.search[:0:0]
	for _, p := range u.search {
		if p.Key == key {
			continue
		}
		kept = append(kept, p)
	}
	u.search = kept
	u.invalidate()
}

// GetSearchParam returns the first value for key, if any.
func (u *URL) GetSearchParam(key string) (string, bool) {
	for _, p := range u.search {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Host returns "hostname[:port]" — port only when explicitly set and
// not the protocol default.
func (u *URL) Host() string {
	if u.hostname == "" {
		return ""
	}
	if u.port == "" || u.port == defaultPort(u.protocol) {
		return u.hostname
	}
	return u.hostname + ":" + u.port
}

// Authority returns "user:pass@host:port" with components elided when
// empty.
func (u *URL) Authority() string {
	var b strings.Builder
	if u.username != "" {
		b.WriteString(u.username)
		if u.password != "" {
			b.WriteString(":")
			b.WriteString(u.password)
		}
		b.WriteString("@")
	}
	b.WriteString(u.Host())
	return b.String()
}

// rawPath returns the path component together with a freshly rendered
// query string built from search, so mutations to SearchParams are
// always reflected even if the caller never touched Path directly.
func (u *URL) rawPath() string {
	p := u.path
	if idx := strings.IndexByte(p, '?'); idx >= 0 {
		p = p[:idx]
	}
	if p == "" {
		p = "/"
	}
	if len(u.search) == 0 {
		return p
	}
	var q strings.Builder
	for i, kv := range u.search {
		if i > 0 {
			q.WriteByte('&')
		}
		q.WriteString(kv.Key)
		q.WriteByte('=')
		q.WriteString(kv.Value)
	}
	return p + "?" + q.String()
}

// PathAndQuery renders the origin-form request target: the path
// (defaulting to "/") plus the query string rebuilt from the ordered
// search params.
func (u *URL) PathAndQuery() string {
	return u.rawPath()
}

// String renders the canonical serialization: lowercase scheme,
// lowercase hostname, default ports elided. ParseURL(u.String())
// reproduces u exactly.
func (u *URL) String() string {
	if u.cacheValid {
		return u.cache
	}
	var b strings.Builder
	b.WriteString(u.protocol)
	b.WriteString("://")
	b.WriteString(u.Authority())
	b.WriteString(u.rawPath())
	u.cache = b.String()
	u.cacheValid = true
	return u.cache
}

// Clone returns a deep copy for the script-executor ownership handoff.
func (u *URL) Clone() *URL {
	c := *u
	c.search = append([]QueryParam(nil), u.search...)
	return &c
}

// ParseURL parses a narrow subset of absolute-URL syntax:
// scheme://[user[:pass]@]host[:port][path[?query]]. It is the inverse
// of String() for any URL that String() itself produced.
func ParseURL(raw string) (*URL, error) {
	rest := raw
	idx := strings.Index(rest, "://")
	if idx < 0 {
		return nil, fmt.Errorf("flow: invalid url %q: missing scheme", raw)
	}
	scheme := strings.ToLower(rest[:idx])
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("flow: unsupported scheme %q", scheme)
	}
	rest = rest[idx+3:]

	u := &URL{protocol: scheme}

	pathIdx := strings.IndexAny(rest, "/?")
	var authority string
	if pathIdx < 0 {
		authority = rest
		rest = ""
	} else {
		authority = rest[:pathIdx]
		rest = rest[pathIdx:]
	}

	if at := strings.LastIndex(authority, "@"); at >= 0 {
		userinfo := authority[:at]
		authority = authority[at+1:]
		if colon := strings.IndexByte(userinfo, ':'); colon >= 0 {
			u.username = userinfo[:colon]
			u.password = userinfo[colon+1:]
		} else {
			u.username = userinfo
		}
	}

	host := authority
	if strings.HasPrefix(authority, "[") {
		// IPv6 literal: [::1]:port
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return nil, fmt.Errorf("flow: invalid url %q: unterminated ipv6 literal", raw)
		}
		host = authority[:end+1]
		remainder := authority[end+1:]
		if strings.HasPrefix(remainder, ":") {
			if _, err := strconv.Atoi(remainder[1:]); err != nil {
				return nil, fmt.Errorf("flow: invalid url %q: bad port", raw)
			}
			u.port = remainder[1:]
		}
	} else if colon := strings.LastIndex(authority, ":"); colon >= 0 {
		host = authority[:colon]
		portStr := authority[colon+1:]
		if _, err := strconv.Atoi(portStr); err != nil {
			return nil, fmt.Errorf("flow: invalid url %q: bad port %q", raw, portStr)
		}
		u.port = portStr
	}
	// Normalize an explicit default port away so parsing is the exact
	// inverse of the default-port-eliding String().
	if u.port == defaultPort(scheme) {
		u.port = ""
	}
	u.hostname = strings.ToLower(host)

	if rest != "" {
		if q := strings.IndexByte(rest, '?'); q >= 0 {
			u.path = rest[:q]
			query := rest[q+1:]
			for _, kv := range strings.Split(query, "&") {
				if kv == "" {
					continue
				}
				if eq := strings.IndexByte(kv, '='); eq >= 0 {
					u.search = append(u.search, QueryParam{Key: kv[:eq], Value: kv[eq+1:]})
				} else {
					u.search = append(u.search, QueryParam{Key: kv, Value: ""})
				}
			}
		} else {
			u.path = rest
		}
	}
	// An empty path serializes as "/", so store it that way for the
	// round trip through String() to be exact.
	if u.path == "" {
		u.path = "/"
	}

	return u, nil
}
