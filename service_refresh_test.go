package webfront

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/webfront-go/webfront/auth"
)

var errTestBackendDown = errors.New("backend down")

func TestRefreshAnonymous(t *testing.T) {
	s := newTestService(t)

	rec := doRequest(t, s, http.MethodGet, "/refresh?schemes&version", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	resp := decodeEnvelope(t, rec)
	if resp.Token != "" {
		t.Fatal("no token for an anonymous refresh")
	}
	if resp.Version != ProtocolVersion {
		t.Fatalf("expected version %q, got %q", ProtocolVersion, resp.Version)
	}
	if len(resp.Schemes) != 1 || resp.Schemes[0] != "Basic" {
		t.Fatalf("unexpected schemes: %v", resp.Schemes)
	}
	if info := envelopeInfo(t, resp); !info.IsNone() {
		t.Fatalf("expected anonymous, got level %v", info.Level())
	}
}

func TestRefreshOmitsSchemesAndVersionByDefault(t *testing.T) {
	s := newTestService(t)
	resp := decodeEnvelope(t, doRequest(t, s, http.MethodGet, "/refresh", nil, nil))
	if resp.Version != "" || resp.Schemes != nil {
		t.Fatalf("schemes/version must be opt-in, got %q %v", resp.Version, resp.Schemes)
	}
}

func TestRefreshSchemesConfigOverride(t *testing.T) {
	s := newTestService(t, func(cfg *Config, _ *Builder) {
		cfg.AvailableSchemes = []string{"Basic", "Google"}
	})
	resp := decodeEnvelope(t, doRequest(t, s, http.MethodGet, "/refresh?schemes", nil, nil))
	if len(resp.Schemes) != 2 || resp.Schemes[1] != "Google" {
		t.Fatalf("configured schemes must win, got %v", resp.Schemes)
	}
}

func TestRefreshSlidingRenewal(t *testing.T) {
	s := newTestService(t, func(cfg *Config, _ *Builder) {
		cfg.SlidingExpiration = 10 * time.Minute
	})

	exp := testClock.Add(2 * time.Minute)
	info := auth.New(userAlice, &exp, nil, "dev-1", testClock)

	rec := doRequest(t, s, http.MethodGet, "/refresh", nil, func(r *http.Request) {
		r.Header.Set("Authorization", bearerFor(t, s, info, true))
	})

	resp := decodeEnvelope(t, rec)
	if !resp.Refreshable {
		t.Fatal("sliding sessions are refreshable")
	}
	if !resp.RememberMe {
		t.Fatal("rememberMe must survive a refresh")
	}
	got := envelopeInfo(t, resp)
	if e := got.Expires(); e == nil || !e.Equal(testClock.Add(10*time.Minute)) {
		t.Fatalf("expected expires pushed to now+10m, got %v", e)
	}
	if s.metrics.Value(MetricSlidingRenewal) != 1 {
		t.Fatal("expected 1 sliding renewal")
	}
	if findCookie(rec.Result().Cookies(), s.cfg.AuthCookieName) == nil {
		t.Fatal("the renewed authentication must be re-written to the cookie")
	}
}

func TestRefreshNoSlideWhenFresh(t *testing.T) {
	s := newTestService(t, func(cfg *Config, _ *Builder) {
		cfg.SlidingExpiration = 10 * time.Minute
	})

	exp := testClock.Add(9 * time.Minute)
	info := auth.New(userAlice, &exp, nil, "dev-1", testClock)

	rec := doRequest(t, s, http.MethodGet, "/refresh", nil, func(r *http.Request) {
		r.Header.Set("Authorization", bearerFor(t, s, info, false))
	})

	got := envelopeInfo(t, decodeEnvelope(t, rec))
	if e := got.Expires(); e == nil || !e.Equal(exp) {
		t.Fatalf("expires must stand while more than half the window remains, got %v", e)
	}
	if s.metrics.Value(MetricSlidingRenewal) != 0 {
		t.Fatal("no renewal expected")
	}
}

func TestRefreshNotRefreshableWithoutSliding(t *testing.T) {
	s := newTestService(t)
	resp := decodeEnvelope(t, doRequest(t, s, http.MethodGet, "/refresh", nil, nil))
	if resp.Refreshable {
		t.Fatal("sessions are not refreshable without sliding expiration")
	}
}

func TestRefreshCallBackendRevokes(t *testing.T) {
	s := newTestService(t, func(_ *Config, b *Builder) {
		b.WithLoginService(&fakeLoginService{
			basic:     true,
			refreshFn: func(*auth.Info) (*auth.UserInfo, error) { return auth.Anonymous, nil },
		})
	})

	rec := doRequest(t, s, http.MethodGet, "/refresh?callBackend", nil, func(r *http.Request) {
		r.Header.Set("Authorization", bearerFor(t, s, normalInfo(s, userAlice, "dev-1"), false))
	})

	info := envelopeInfo(t, decodeEnvelope(t, rec))
	if !info.IsNone() {
		t.Fatalf("expected the session revoked, got level %v", info.Level())
	}
	if info.DeviceID() != "dev-1" {
		t.Fatalf("device id must survive revocation, got %q", info.DeviceID())
	}
	if s.metrics.Value(MetricRefreshRevoked) != 1 {
		t.Fatal("expected 1 revocation")
	}
}

func TestRefreshCallBackendUpdatesIdentity(t *testing.T) {
	renamed := auth.NewUserInfo(3712, "alice-renamed", nil)
	s := newTestService(t, func(_ *Config, b *Builder) {
		b.WithLoginService(&fakeLoginService{
			basic:     true,
			refreshFn: func(*auth.Info) (*auth.UserInfo, error) { return renamed, nil },
		})
	})

	exp := testClock.Add(15 * time.Minute)
	current := auth.New(userAlice, &exp, nil, "dev-1", testClock)
	rec := doRequest(t, s, http.MethodGet, "/refresh?callBackend", nil, func(r *http.Request) {
		r.Header.Set("Authorization", bearerFor(t, s, current, false))
	})

	info := envelopeInfo(t, decodeEnvelope(t, rec))
	if info.UnsafeUser().Name() != "alice-renamed" {
		t.Fatalf("expected the fresh identity, got %q", info.UnsafeUser().Name())
	}
	if e := info.Expires(); e == nil || !e.Equal(exp) {
		t.Fatalf("expirations must stand on a live re-read, got %v", e)
	}
}

func TestRefreshCallBackendErrorKeepsCurrent(t *testing.T) {
	s := newTestService(t, func(_ *Config, b *Builder) {
		b.WithLoginService(&fakeLoginService{
			basic: true,
			refreshFn: func(*auth.Info) (*auth.UserInfo, error) {
				return nil, errTestBackendDown
			},
		})
	})

	rec := doRequest(t, s, http.MethodGet, "/refresh?callBackend", nil, func(r *http.Request) {
		r.Header.Set("Authorization", bearerFor(t, s, normalInfo(s, userAlice, "dev-1"), false))
	})

	info := envelopeInfo(t, decodeEnvelope(t, rec))
	if info.User().ID() != 3712 {
		t.Fatal("an unavailable backend must not drop the current authentication")
	}
	if s.metrics.Value(MetricRefreshRevoked) != 0 {
		t.Fatal("no revocation expected")
	}
}

func TestRefreshCallBackendPreservesImpersonation(t *testing.T) {
	s := newTestService(t, func(_ *Config, b *Builder) {
		b.WithLoginService(&fakeLoginService{
			basic:     true,
			refreshFn: func(*auth.Info) (*auth.UserInfo, error) { return userAlice, nil },
		})
	})

	exp := testClock.Add(15 * time.Minute)
	impersonated := auth.NewImpersonated(userAlice, userBob, &exp, nil, "dev-1", testClock)
	rec := doRequest(t, s, http.MethodGet, "/refresh?callBackend", nil, func(r *http.Request) {
		r.Header.Set("Authorization", bearerFor(t, s, impersonated, false))
	})

	info := envelopeInfo(t, decodeEnvelope(t, rec))
	if !info.IsImpersonated() {
		t.Fatal("impersonation must survive the backend re-read")
	}
	if info.UnsafeUser().ID() != 42 || info.UnsafeActualUser().ID() != 3712 {
		t.Fatalf("expected bob acted by alice, got user=%d actual=%d",
			info.UnsafeUser().ID(), info.UnsafeActualUser().ID())
	}
}

func TestAlwaysCallBackendOnRefresh(t *testing.T) {
	s := newTestService(t, func(cfg *Config, b *Builder) {
		cfg.AlwaysCallBackendOnRefresh = true
		b.WithLoginService(&fakeLoginService{
			basic:     true,
			refreshFn: func(*auth.Info) (*auth.UserInfo, error) { return auth.Anonymous, nil },
		})
	})

	rec := doRequest(t, s, http.MethodGet, "/refresh", nil, func(r *http.Request) {
		r.Header.Set("Authorization", bearerFor(t, s, normalInfo(s, userAlice, "dev-1"), false))
	})
	if info := envelopeInfo(t, decodeEnvelope(t, rec)); !info.IsNone() {
		t.Fatal("the backend must be consulted without an explicit callBackend")
	}
}

func TestRefreshThrottle(t *testing.T) {
	s := newTestService(t, func(cfg *Config, b *Builder) {
		cfg.Security.EnableRefreshThrottle = true
		cfg.Security.MaxRefreshAttempts = 1
		cfg.Security.RefreshCooldown = time.Minute
		b.WithRedis(newTestRedis(t))
	})

	if rec := doRequest(t, s, http.MethodGet, "/refresh", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("first refresh: expected 200, got %d", rec.Code)
	}
	rec := doRequest(t, s, http.MethodGet, "/refresh", nil, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if resp := decodeEnvelope(t, rec); resp.ErrorID != ErrIDRateLimited {
		t.Fatalf("expected %q, got %q", ErrIDRateLimited, resp.ErrorID)
	}
	if s.metrics.Value(MetricRefreshRateLimited) != 1 {
		t.Fatal("expected 1 throttled refresh")
	}
}

func TestLogoutClearsSafeCookieOnly(t *testing.T) {
	s := newTestService(t)

	rec := doRequest(t, s, http.MethodGet, "/logout", nil, func(r *http.Request) {
		r.Header.Set("Authorization", bearerFor(t, s, normalInfo(s, userAlice, "dev-1"), true))
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	cookies := rec.Result().Cookies()
	safe := findCookie(cookies, s.cfg.AuthCookieName)
	if safe == nil || safe.MaxAge >= 0 {
		t.Fatalf("expected the safe cookie expired, got %+v", safe)
	}
	if findCookie(cookies, s.longTermCookieName()) != nil {
		t.Fatal("a plain logout keeps the long-term cookie")
	}
	if s.metrics.Value(MetricLogout) != 1 {
		t.Fatal("expected 1 logout")
	}
}

func TestLogoutFullClearsBothCookies(t *testing.T) {
	s := newTestService(t)

	rec := doRequest(t, s, http.MethodGet, "/logout?full", nil, nil)
	cookies := rec.Result().Cookies()

	if c := findCookie(cookies, s.cfg.AuthCookieName); c == nil || c.MaxAge >= 0 {
		t.Fatal("expected the safe cookie expired")
	}
	if c := findCookie(cookies, s.longTermCookieName()); c == nil || c.MaxAge >= 0 {
		t.Fatal("expected the long-term cookie expired")
	}
	if s.metrics.Value(MetricLogoutFull) != 1 {
		t.Fatal("expected 1 full logout")
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	s := newTestService(t)
	for i := 0; i < 2; i++ {
		if rec := doRequest(t, s, http.MethodGet, "/logout?full", nil, nil); rec.Code != http.StatusOK {
			t.Fatalf("logout %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}
