package applog

import (
	"fmt"
	"strconv"
	"time"
)

// LogExchange logs one completed proxied exchange.
// It emits:
// - info: concise line suitable for dashboards
// - debug: the same line extended with captured byte counts
func LogExchange(mode, method, rawURL string, status int, reqBytes, respBytes int, dur time.Duration) {
	labels := map[string]string{
		"mode":   mode,
		"method": method,
		"status": strconv.Itoa(status),
		"host":   MustHostname(),
	}

	infoLine := fmt.Sprintf("EXCHANGE mode=%s method=%s url=%s status=%d dur=%s",
		mode, method, rawURL, status, dur)
	Emit("info", "capture", labels, infoLine)

	debugLine := fmt.Sprintf("%s req_bytes=%d resp_bytes=%d", infoLine, reqBytes, respBytes)
	Emit("debug", "capture", labels, debugLine)
}

// LogTunnel logs the outcome of one CONNECT tunnel attempt.
func LogTunnel(authority string, status int, dur time.Duration) {
	labels := map[string]string{
		"mode":   "tunnel",
		"method": "CONNECT",
		"status": strconv.Itoa(status),
		"host":   MustHostname(),
	}
	Emit("info", "capture", labels,
		fmt.Sprintf("TUNNEL authority=%s status=%d dur=%s", authority, status, dur))
}

// LogProxyError logs proxy failures such as unreachable upstreams or
// timed out exchanges.
func LogProxyError(mode, method, rawURL string, status int, err error) {
	labels := map[string]string{
		"mode":   mode,
		"method": method,
		"status": strconv.Itoa(status),
		"host":   MustHostname(),
	}
	Emit("error", "capture", labels,
		fmt.Sprintf("PROXY ERROR mode=%s method=%s url=%s status=%d err=%v",
			mode, method, rawURL, status, err))
}

// LogSessionEvent logs session lifecycle transitions.
func LogSessionEvent(op, id, name string) {
	labels := map[string]string{
		"session": id,
		"host":    MustHostname(),
	}
	Emit("info", "session", labels, fmt.Sprintf("SESSION %s id=%s name=%q", op, id, name))
}

// LogSessionError logs best-effort persistence failures. The capture
// path keeps going when these happen.
func LogSessionError(op string, err error) {
	labels := map[string]string{"host": MustHostname()}
	Emit("error", "session", labels, fmt.Sprintf("SESSION %s err=%v", op, err))
}
