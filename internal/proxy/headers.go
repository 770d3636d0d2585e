package proxy

import (
	"net/http"
	"strings"
)

// Hop-by-hop headers are scoped to one transport hop (RFC 7230 §6.1)
// and must not be forwarded by the proxy in either direction.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// stripHopByHop removes every header named by the Connection header,
// then the fixed hop-by-hop set. It mutates header in place.
func stripHopByHop(header http.Header) {
	if header == nil {
		return
	}
	for _, connValue := range header.Values("Connection") {
		for _, name := range strings.Split(connValue, ",") {
			if name = strings.TrimSpace(name); name != "" {
				header.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		header.Del(name)
	}
}

// outboundHeader clones src with hop-by-hop headers removed, leaving
// src untouched for the caller.
func outboundHeader(src http.Header) http.Header {
	cloned := src.Clone()
	if cloned == nil {
		cloned = make(http.Header)
	}
	stripHopByHop(cloned)
	return cloned
}

// copyHeader adds every value of src to dst, preserving multi-values.
func copyHeader(dst, src http.Header) {
	for name, values := range src {
		for _, value := range values {
			dst.Add(name, value)
		}
	}
}
