package webfront

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// CookieMode controls if and where the authentication cookies are set.
type CookieMode uint8

const (
	// CookieModeWebFrontPath scopes the cookies to the "<entry>/c/"
	// sub-path: they are invisible to the rest of the application. This is
	// the default and the recommended mode.
	CookieModeWebFrontPath CookieMode = iota
	// CookieModeRootPath sets the cookies on "/" like a classical web
	// application. Sliding expiration is then handled on every read.
	CookieModeRootPath
	// CookieModeNone disables all cookies: clients live on the bearer
	// token alone and are not "F5 resilient".
	CookieModeNone
)

// CookieSecurePolicy controls the Secure flag of the safe cookie. The
// long-term cookie is never marked Secure: it only carries an identity
// hint.
type CookieSecurePolicy uint8

const (
	// CookieSecureSameAsRequest marks the cookie Secure when the request
	// came over https. Default.
	CookieSecureSameAsRequest CookieSecurePolicy = iota
	// CookieSecureAlways always marks the cookie Secure.
	CookieSecureAlways
	// CookieSecureNever never marks the cookie Secure.
	CookieSecureNever
)

// ChannelBindingFunc derives a channel binding string from a request.
// When non-nil, the binding is sealed into every protected token so that
// material cannot be replayed over a different channel.
type ChannelBindingFunc func(r *http.Request) string

// Config holds the Service configuration.
//
// Config instances are cloned by the Builder and treated as immutable
// afterwards.
type Config struct {
	// EntryPath is the protocol entry prefix. Defaults to "/.webfront";
	// the endpoints live under EntryPath + "/c/".
	EntryPath string

	// AuthCookieName is the safe cookie name. Defaults to ".webFront".
	// The long-term cookie name is AuthCookieName suffixed by "LT".
	AuthCookieName string

	// BearerHeaderName is the header carrying "Bearer <token>".
	// Defaults to "Authorization".
	BearerHeaderName string

	CookieMode         CookieMode
	CookieSecurePolicy CookieSecurePolicy

	// ExpireSpan is how long an authentication remains Normal from the
	// point it is created. Defaults to 20 minutes.
	ExpireSpan time.Duration

	// UnsafeExpireSpan is the lifetime of the long-term identity cookie.
	// The long-term cookie is used only when this is strictly greater
	// than ExpireSpan and CookieMode is not CookieModeNone.
	// Defaults to 366 days. Zero disables it.
	UnsafeExpireSpan time.Duration

	// SlidingExpiration enables sliding renewal: on refresh (and on every
	// read in CookieModeRootPath), when the remaining time drops below
	// half this span, Expires is pushed to now + SlidingExpiration.
	// Zero disables sliding; sessions are then not refreshable.
	SlidingExpiration time.Duration

	// SchemesCriticalSpan elevates logins through the named schemes to
	// Critical for the given duration. Nil by default.
	SchemesCriticalSpan map[string]time.Duration

	// AvailableSchemes, when non-empty, takes precedence over the login
	// service's provider list in refresh responses.
	AvailableSchemes []string

	// AllowedReturnUrls is the prefix allow-list for the inline login
	// returnUrl parameter. A returnUrl matching no prefix is a 400.
	AllowedReturnUrls []string

	// AlwaysCallBackendOnRefresh forces the backend identity re-read on
	// every refresh, not only when the request asks for it.
	AlwaysCallBackendOnRefresh bool

	// SchemeStartURLs maps a federated scheme name to the URL that starts
	// its handshake. startLogin redirects there with the protected state
	// appended as the "state" query parameter. A scheme with no entry is
	// a 404 on startLogin.
	SchemeStartURLs map[string]string

	// ChannelBinding, when set, is mixed into token protection.
	ChannelBinding ChannelBindingFunc

	Security SecurityConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

// SecurityConfig tunes the optional redis-backed throttles. They are
// active only when a redis client is supplied to the Builder.
type SecurityConfig struct {
	EnableLoginThrottle   bool
	MaxLoginAttempts      int
	LoginCooldown         time.Duration
	EnableRefreshThrottle bool
	MaxRefreshAttempts    int
	RefreshCooldown       time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process metrics.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		EntryPath:        "/.webfront",
		AuthCookieName:   ".webFront",
		BearerHeaderName: "Authorization",
		ExpireSpan:       20 * time.Minute,
		UnsafeExpireSpan: 366 * 24 * time.Hour,
		Security: SecurityConfig{
			MaxLoginAttempts:   10,
			LoginCooldown:      5 * time.Minute,
			MaxRefreshAttempts: 60,
			RefreshCooldown:    time.Minute,
		},
	}
}

// UseLongTermCookie reports whether the long-term identity cookie is in
// play: the unsafe expiry must be strictly greater than the normal one
// and cookies must not be disabled.
func (c *Config) UseLongTermCookie() bool {
	return c.UnsafeExpireSpan > c.ExpireSpan && c.CookieMode != CookieModeNone
}

// Validate checks the configuration consistency.
func (c *Config) Validate() error {
	if c.EntryPath == "" || !strings.HasPrefix(c.EntryPath, "/") {
		return errors.New("EntryPath must start with '/'")
	}
	if strings.HasSuffix(c.EntryPath, "/") {
		return errors.New("EntryPath must not end with '/'")
	}
	if c.AuthCookieName == "" {
		return errors.New("AuthCookieName must not be empty")
	}
	if c.BearerHeaderName == "" {
		return errors.New("BearerHeaderName must not be empty")
	}
	if c.ExpireSpan <= 0 {
		return errors.New("ExpireSpan must be positive")
	}
	if c.SlidingExpiration < 0 {
		return errors.New("SlidingExpiration must not be negative")
	}
	if c.UnsafeExpireSpan < 0 {
		return errors.New("UnsafeExpireSpan must not be negative")
	}
	for scheme, span := range c.SchemesCriticalSpan {
		if span <= 0 {
			return errors.New("SchemesCriticalSpan for " + scheme + " must be positive")
		}
	}
	for _, u := range c.AllowedReturnUrls {
		if u == "" {
			return errors.New("AllowedReturnUrls must not contain empty prefixes")
		}
	}
	return nil
}

func cloneConfig(c Config) Config {
	cp := c
	if c.SchemesCriticalSpan != nil {
		cp.SchemesCriticalSpan = make(map[string]time.Duration, len(c.SchemesCriticalSpan))
		for k, v := range c.SchemesCriticalSpan {
			cp.SchemesCriticalSpan[k] = v
		}
	}
	if c.SchemeStartURLs != nil {
		cp.SchemeStartURLs = make(map[string]string, len(c.SchemeStartURLs))
		for k, v := range c.SchemeStartURLs {
			cp.SchemeStartURLs[k] = v
		}
	}
	cp.AvailableSchemes = append([]string(nil), c.AvailableSchemes...)
	cp.AllowedReturnUrls = append([]string(nil), c.AllowedReturnUrls...)
	return cp
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}
