package observability

import (
	"net"
	"net/http"
	"strings"
)

// ClientMeta identifies the caller behind a request in published events.
type ClientMeta struct {
	RequestID string `json:"request_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	IP        string `json:"ip,omitempty"`
}

// ClientMetaFromRequest reads the request id and device headers. The IP is
// the first X-Forwarded-For hop, else the peer address.
func ClientMetaFromRequest(r *http.Request) ClientMeta {
	return ClientMeta{
		RequestID: r.Header.Get("X-Request-ID"),
		DeviceID:  r.Header.Get("X-Device-ID"),
		IP:        clientIP(r),
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
