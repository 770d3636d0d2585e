// Package config builds the process configuration from environment
// variables, with a .env file autoloaded when one is present.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr  string // control/observer API listener, e.g. "127.0.0.1:8787"
	ProxyAddr string // intercepting proxy listener, e.g. "127.0.0.1:8888"

	BodyLimit    int // captured bytes per exchange side
	RingCapacity int // in-memory record history

	SessionDir string // root of per-session directories
	CertDir    string // CA certificate and key location

	MitmEnabled     bool          // terminate TLS on CONNECT instead of tunneling
	UpstreamTimeout time.Duration // wait for upstream response headers
	LogRequests     bool          // request logging middleware on the control API
}

const (
	defaultHost            = "127.0.0.1"
	defaultHTTPPort        = 8787
	defaultProxyPort       = 8888
	defaultBodyLimit       = 64 * 1024
	defaultRingCapacity    = 2000
	defaultUpstreamTimeout = 15 * time.Second
)

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	// Missing .env is the normal case; only explicit settings matter.
	_ = godotenv.Load()

	host := getEnv("HOST", defaultHost)

	httpPort := getEnvInt("PORT", getEnvInt("HTTP_PORT", defaultHTTPPort))
	proxyPort := getEnvInt("MITM_PORT", getEnvInt("PROXY_PORT", defaultProxyPort))
	if err := validPort(httpPort); err != nil {
		return nil, fmt.Errorf("control port: %w", err)
	}
	if err := validPort(proxyPort); err != nil {
		return nil, fmt.Errorf("proxy port: %w", err)
	}
	if httpPort == proxyPort {
		return nil, fmt.Errorf("control and proxy ports collide on %d", httpPort)
	}

	bodyLimit := getEnvInt("BODY_LIMIT", defaultBodyLimit)
	if bodyLimit <= 0 {
		bodyLimit = defaultBodyLimit
	}

	return &Config{
		HTTPAddr:        fmt.Sprintf("%s:%d", host, httpPort),
		ProxyAddr:       fmt.Sprintf("%s:%d", host, proxyPort),
		BodyLimit:       bodyLimit,
		RingCapacity:    getEnvInt("RING_CAPACITY", defaultRingCapacity),
		SessionDir:      getEnv("SESSION_DIR", filepath.Join("data", "sessions")),
		CertDir:         getEnv("CERT_DIR", "certs"),
		MitmEnabled:     getEnvBool("MITM_ENABLED", false),
		UpstreamTimeout: getEnvDuration("UPSTREAM_TIMEOUT", defaultUpstreamTimeout),
		LogRequests:     getEnvBool("LOG_REQUESTS", true),
	}, nil
}

func validPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d outside 1..65535", port)
	}
	return nil
}

// Retrieves an environment variable or returns the default value.
func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// Retrieves a boolean environment variable or returns the default value.
func getEnvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

// Retrieves an integer environment variable or returns the default value.
func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
