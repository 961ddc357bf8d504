package sessionguard

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// SecurityContextFromRequest builds a per-request SecurityContext from an
// inbound HTTP request: the real client IP (proxy headers first), the user
// agent, and stable Accept-header material as fingerprint input.
func SecurityContextFromRequest(r *http.Request) SecurityContext {
	if r == nil {
		return SecurityContext{}
	}

	return SecurityContext{
		SourceAddress:      clientIP(r),
		UserAgent:          r.UserAgent(),
		RequestFingerprint: requestFingerprintMaterial(r),
		ObservedAt:         time.Now().UTC(),
	}
}

// clientIP extracts the originating client address, checking proxy headers
// in priority order before falling back to RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For may list "client, proxy1, proxy2"; the leftmost
		// entry is the original client.
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if ip := net.ParseIP(xri); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}

func requestFingerprintMaterial(r *http.Request) string {
	components := make([]string, 0, 3)
	for _, h := range []string{"Accept-Language", "Accept-Encoding", "Accept"} {
		if v := r.Header.Get(h); v != "" {
			components = append(components, v)
		}
	}
	return strings.Join(components, "|")
}
