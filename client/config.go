package client

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Config holds the client configuration. Endpoint is required;
// everything else has defaults.
type Config struct {
	// Endpoint is the authentication server base URL, for example
	// "https://auth.example.com". The protocol lives under
	// Endpoint + EntryPath + "/c/".
	Endpoint string

	// EntryPath defaults to "/.webfront".
	EntryPath string

	// HTTPClient defaults to a cookie-less http.Client with a 10 second
	// timeout. Supply one with a cookie jar to exercise the cookie tiers.
	HTTPClient *http.Client

	// Store enables the offline fallback record. Nil disables it.
	Store Store

	// SkipVersionCheck disables the fail-fast on client/server protocol
	// version mismatch.
	SkipVersionCheck bool

	// MaxTimerInterval caps a single expiration timer wait; longer waits
	// reschedule in steps. Defaults to the signed 32-bit millisecond cap.
	MaxTimerInterval time.Duration
}

const defaultMaxTimerInterval = 2147483647 * time.Millisecond

func (c *Config) normalize() error {
	if c.Endpoint == "" {
		return errors.New("Endpoint must be defined")
	}
	if !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
		return errors.New("Endpoint must be an absolute http(s) URL")
	}
	c.Endpoint = strings.TrimSuffix(c.Endpoint, "/")
	if c.EntryPath == "" {
		c.EntryPath = "/.webfront"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.MaxTimerInterval <= 0 {
		c.MaxTimerInterval = defaultMaxTimerInterval
	}
	return nil
}
