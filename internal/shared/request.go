package shared

import (
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestInfo captures the provenance of a request for audit records.
type RequestInfo struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Method    string `json:"method,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// RequestInfoFromHTTP extracts provenance from an incoming request.
// RemoteAddr is expected to be rewritten by middleware.RealIP upstream.
func RequestInfoFromHTTP(r *http.Request) RequestInfo {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return RequestInfo{
		IP:        strings.TrimSpace(ip),
		UserAgent: r.UserAgent(),
		Method:    r.Method,
		Endpoint:  r.URL.Path,
		RequestID: middleware.GetReqID(r.Context()),
	}
}
