package detect

import (
	"net/http"
	"net/netip"
	"sort"
	"strings"
	"time"
)

// Header is one request header in arrival order.
type Header struct {
	Name  string
	Value string
}

// EdgeSignal carries a best-effort bot verdict supplied by an edge network.
// Scores are on a 0-100 scale where higher means more bot-like.
type EdgeSignal struct {
	Source      string
	Verified    bool
	BotFlag     bool
	BotScore    float64
	HasBotScore bool
	ThreatScore float64
	HasThreat   bool
}

// Signal is the normalized per-request bundle every detector reads. It lives
// for one request only.
type Signal struct {
	SiteID       string
	OwnerID      string
	ClientIP     netip.Addr
	UserAgent    string
	Headers      []Header
	URL          string
	Method       string
	Referer      string
	ContentClass string
	Timestamp    time.Time
	Edge         *EdgeSignal
}

// Get returns the first header value with the given name, case-insensitively.
func (s Signal) Get(name string) (string, bool) {
	for _, h := range s.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// RawRequest is the untrusted request metadata handed in by the serving
// collaborator. Any field may be missing or malformed.
type RawRequest struct {
	SiteID       string
	OwnerID      string
	RemoteAddr   string
	Headers      []Header
	URL          string
	Method       string
	ContentClass string
	Timestamp    time.Time
	Edge         *EdgeSignal
}

// forwardHeaders are checked in priority order when resolving the client IP.
// The edge-connecting headers come first because they are set by the trusted
// edge, the generic proxy headers after, the socket address last.
var forwardHeaders = []string{
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Real-IP",
	"X-Forwarded-For",
}

// ExtractSignal resolves the client IP and normalizes the request into a
// Signal. It never fails: missing fields become zero values, since the
// absence of a field is itself evidence downstream.
func ExtractSignal(raw RawRequest) Signal {
	sig := Signal{
		SiteID:       raw.SiteID,
		OwnerID:      raw.OwnerID,
		Headers:      raw.Headers,
		URL:          raw.URL,
		Method:       raw.Method,
		ContentClass: raw.ContentClass,
		Timestamp:    raw.Timestamp,
		Edge:         raw.Edge,
	}
	if sig.Timestamp.IsZero() {
		sig.Timestamp = time.Now().UTC()
	}
	if ua, ok := sig.Get("User-Agent"); ok {
		sig.UserAgent = ua
	}
	if ref, ok := sig.Get("Referer"); ok {
		sig.Referer = ref
	}
	sig.ClientIP = resolveClientIP(raw)
	return sig
}

// SignalFromHTTP adapts a net/http request for callers embedding the engine
// as middleware.
func SignalFromHTTP(r *http.Request, siteID, ownerID string) Signal {
	headers := make([]Header, 0, len(r.Header))
	for _, name := range headerOrder(r) {
		headers = append(headers, Header{Name: name, Value: r.Header.Get(name)})
	}
	return ExtractSignal(RawRequest{
		SiteID:     siteID,
		OwnerID:    ownerID,
		RemoteAddr: r.RemoteAddr,
		Headers:    headers,
		URL:        r.URL.String(),
		Method:     r.Method,
		Timestamp:  time.Now().UTC(),
	})
}

// headerOrder reconstructs a stable header sequence; net/http does not keep
// wire order, so a sorted canonical order is the best available.
func headerOrder(r *http.Request) []string {
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resolveClientIP(raw RawRequest) netip.Addr {
	get := func(name string) string {
		for _, h := range raw.Headers {
			if strings.EqualFold(h.Name, name) {
				return h.Value
			}
		}
		return ""
	}

	for _, name := range forwardHeaders {
		value := get(name)
		if value == "" {
			continue
		}
		// X-Forwarded-For may carry a chain; the left-most public hop wins.
		for _, part := range strings.Split(value, ",") {
			if addr, ok := parsePublicIP(strings.TrimSpace(part)); ok {
				return addr
			}
		}
	}

	if addr, ok := parsePublicIP(stripPort(raw.RemoteAddr)); ok {
		return addr
	}
	// Fall back to whatever parses, so local testing still yields an address.
	if addr, err := netip.ParseAddr(stripPort(raw.RemoteAddr)); err == nil {
		return addr
	}
	return netip.Addr{}
}

// parsePublicIP accepts only well-formed public unicast addresses. A header
// claiming a private or loopback client is never trusted.
func parsePublicIP(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(stripPort(s))
	if err != nil {
		return netip.Addr{}, false
	}
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsMulticast() {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func stripPort(addr string) string {
	if idx := strings.LastIndex(addr, "]:"); idx != -1 {
		return addr[1:idx]
	}
	if strings.Count(addr, ":") == 1 {
		host, _, _ := strings.Cut(addr, ":")
		return host
	}
	return addr
}
