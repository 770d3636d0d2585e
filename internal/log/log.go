// Package applog prints application log lines locally and mirrors
// them to Loki when a push endpoint is configured. Pushing is
// fire-and-forget; logging never blocks or fails the caller.
package applog

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Loki client configuration and logging-level toggles.
//
// lokiURL: endpoint where logs are pushed, empty when not configured.
// lokiOnce: ensures one-time lazy configuration.
// lokiClient: short timeout HTTP client for fire-and-forget pushes.
var (
	lokiURL    string
	lokiOnce   sync.Once
	lokiClient = &http.Client{Timeout: 200 * time.Millisecond}

	infoEnabled  = true
	debugEnabled = true
	errorEnabled = true
)

// Emit prints locally (if enabled and the level is allowed) and pushes
// the same line to Loki. The level is normalized to lowercase.
func Emit(level, app string, labels map[string]string, line string) {
	normalizedLevel := strings.ToLower(level)

	if logEnabled() && levelEnabled(normalizedLevel) {
		log.Print(line)
	}

	PushLokiWithLevel(normalizedLevel, app, labels, line)
}

// levelEnabled reports if a given log level is enabled according to
// the configuration read by initLoki.
func levelEnabled(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return debugEnabled
	case "error":
		return errorEnabled
	default:
		return infoEnabled
	}
}

// logEnabled reports whether local log printing should run.
// It disables local printing inside test binaries.
func logEnabled() bool {
	// In test binaries, the testing package registers these flags.
	if flag.Lookup("test.v") != nil || flag.Lookup("test.run") != nil || flag.Lookup("test.bench") != nil {
		return false
	}
	return true
}

// MustHostname returns the current hostname or "unknown" on error.
func MustHostname() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "unknown"
	}
	return hostname
}

// isMetricsScrape tries to detect Prometheus/OpenMetrics scrapes.
func isMetricsScrape(req *http.Request) bool {
	if req.URL != nil && req.URL.Path == "/metrics" {
		return true
	}
	if strings.Contains(req.Header.Get("User-Agent"), "Prometheus") {
		return true
	}
	if strings.Contains(req.Header.Get("Accept"), "openmetrics") {
		return true
	}
	return false
}

// PushLokiWithLevel sends a single log line with labels to Loki,
// adding a "level" label. It is a no-op if Loki is not configured or
// the provided level is disabled.
func PushLokiWithLevel(level, app string, labels map[string]string, line string) {
	lokiOnce.Do(initLoki)
	if lokiURL == "" || !levelEnabled(level) {
		return
	}

	// Stream labels always include "app" and "level".
	streamLabels := map[string]string{
		"app":   app,
		"level": strings.ToLower(strings.TrimSpace(level)),
	}
	for k, v := range labels {
		if strings.TrimSpace(k) == "" {
			continue
		}
		streamLabels[k] = v
	}

	// Loki expects timestamps in nanoseconds since epoch as string.
	timestampNanos := strconv.FormatInt(time.Now().UnixNano(), 10)

	lokiPayload := struct {
		Streams []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"streams"`
	}{
		Streams: []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		}{
			{Stream: streamLabels, Values: [][2]string{{timestampNanos, line}}},
		},
	}

	payloadBytes, _ := json.Marshal(lokiPayload)

	request, err := http.NewRequest("POST", lokiURL, bytes.NewReader(payloadBytes))
	if err != nil {
		return
	}
	request.Header.Set("Content-Type", "application/json")
	_, _ = lokiClient.Do(request) // fire-and-forget
}

// initLoki lazily reads the Loki URL and logging level toggles.
// Precedence:
//  1. configs/config.yaml or configs/config.yml, when present.
//  2. A base loki_url is normalized to the push endpoint
//     <base>/loki/api/v1/push.
func initLoki() {
	lokiURL = ""

	configPath := ""
	for _, candidatePath := range []string{"configs/config.yaml", "configs/config.yml"} {
		if _, err := os.Stat(candidatePath); err == nil {
			configPath = candidatePath
			break
		}
	}

	if configPath != "" {
		var config struct {
			Metrics *struct {
				LokiURL string `yaml:"loki_url"`
			} `yaml:"metrics"`
			Logging *struct {
				InfoEnabled  *bool `yaml:"info_enabled"`
				DebugEnabled *bool `yaml:"debug_enabled"`
				ErrorEnabled *bool `yaml:"error_enabled"`
			} `yaml:"logging"`
		}

		if cfgBytes, err := os.ReadFile(configPath); err == nil {
			if err := yaml.Unmarshal(cfgBytes, &config); err == nil {
				if config.Metrics != nil && strings.TrimSpace(config.Metrics.LokiURL) != "" {
					lokiURL = strings.TrimSpace(config.Metrics.LokiURL)
				}
				if config.Logging != nil {
					if config.Logging.InfoEnabled != nil {
						infoEnabled = *config.Logging.InfoEnabled
					}
					if config.Logging.DebugEnabled != nil {
						debugEnabled = *config.Logging.DebugEnabled
					}
					if config.Logging.ErrorEnabled != nil {
						errorEnabled = *config.Logging.ErrorEnabled
					}
				}
			}
		}
	}

	if lokiURL != "" && !strings.Contains(lokiURL, "/loki/api/v1/push") {
		lokiURL = strings.TrimRight(lokiURL, "/") + "/loki/api/v1/push"
	}
}
