package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	webfront "github.com/webfront-go/webfront"
	"github.com/webfront-go/webfront/auth"
	"github.com/webfront-go/webfront/client"
)

var (
	testAlice = auth.NewUserInfo(3712, "alice", nil)
	testBob   = auth.NewUserInfo(42, "bob", nil)
)

type stubLogin struct{}

func (stubLogin) HasBasicLogin() bool { return true }

func (stubLogin) Providers() []string { return []string{"Basic"} }

func (stubLogin) BasicLogin(_ context.Context, userName, password string) (*webfront.UserLoginResult, error) {
	if userName == "alice" && password == "pass" {
		return &webfront.UserLoginResult{UserInfo: testAlice}, nil
	}
	return &webfront.UserLoginResult{FailureCode: 4, FailureReason: "bad credentials"}, nil
}

func (stubLogin) CreatePayload(context.Context, string) (any, error) {
	return nil, errors.New("no direct login")
}

func (stubLogin) Login(context.Context, string, any) (*webfront.UserLoginResult, error) {
	return &webfront.UserLoginResult{FailureCode: 1, FailureReason: "unsupported"}, nil
}

func (stubLogin) RefreshUserInfo(_ context.Context, info *auth.Info) (*auth.UserInfo, error) {
	return info.UnsafeActualUser(), nil
}

type stubImpersonation struct{}

func (stubImpersonation) UserByName(_ context.Context, userName string) (*auth.UserInfo, error) {
	switch userName {
	case "alice":
		return testAlice, nil
	case "bob":
		return testBob, nil
	}
	return nil, nil
}

func (stubImpersonation) UserByID(_ context.Context, userID int) (*auth.UserInfo, error) {
	switch userID {
	case 3712:
		return testAlice, nil
	case 42:
		return testBob, nil
	}
	return nil, nil
}

func (stubImpersonation) CanImpersonate(_ context.Context, _, _ *auth.UserInfo) bool {
	return true
}

// newTestEndpoint runs a real Service behind an httptest server.
func newTestEndpoint(t *testing.T, mutate func(*webfront.Config)) *httptest.Server {
	t.Helper()
	cfg := webfront.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := webfront.New().
		WithConfig(cfg).
		WithMasterKey([]byte("client test master key, 32 byte!")).
		WithLoginService(stubLogin{}).
		WithImpersonationService(stubImpersonation{}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(s.Close)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server, mutate func(*client.Config)) *client.Client {
	t.Helper()
	cfg := client.Config{Endpoint: srv.URL}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestClientBasicLogin(t *testing.T) {
	srv := newTestEndpoint(t, nil)
	c := newTestClient(t, srv, nil)
	ctx := context.Background()

	if err := c.BasicLogin(ctx, "alice", "pass", false, nil); err != nil {
		t.Fatalf("BasicLogin failed: %v", err)
	}
	if c.CurrentError() != nil {
		t.Fatalf("unexpected current error: %v", c.CurrentError())
	}
	info := c.Info()
	if info.Level() != auth.LevelNormal {
		t.Fatalf("expected Normal, got %v", info.Level())
	}
	if info.User().ID() != 3712 {
		t.Fatalf("expected user 3712, got %d", info.User().ID())
	}
	if c.Token() == "" {
		t.Fatal("expected a bearer token")
	}
}

func TestClientLoginFailure(t *testing.T) {
	srv := newTestEndpoint(t, nil)
	c := newTestClient(t, srv, nil)

	err := c.BasicLogin(context.Background(), "alice", "wrong", false, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	var perr *client.ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected a ProtocolError, got %T", err)
	}
	if perr.ErrorID != "User.LoginFailure" || perr.LoginFailureCode != 4 {
		t.Fatalf("unexpected error: %+v", perr)
	}
	if !c.Info().IsNone() {
		t.Fatalf("a failed login must leave the client anonymous, got %v", c.Info().Level())
	}
	if c.Token() != "" {
		t.Fatal("no token after a failed login")
	}
}

func TestClientLoginFailureKeepsAuthentication(t *testing.T) {
	srv := newTestEndpoint(t, nil)
	c := newTestClient(t, srv, nil)
	ctx := context.Background()

	if err := c.BasicLogin(ctx, "alice", "pass", false, nil); err != nil {
		t.Fatalf("BasicLogin failed: %v", err)
	}
	token := c.Token()

	err := c.BasicLogin(ctx, "alice", "wrong", false, nil)
	var perr *client.ProtocolError
	if !errors.As(err, &perr) || perr.LoginFailureCode != 4 {
		t.Fatalf("expected the login failure, got %v", err)
	}

	info := c.Info()
	if info.Level() != auth.LevelNormal || info.User().ID() != 3712 {
		t.Fatalf("the retained authentication must be applied, got level %v user %d",
			info.Level(), info.UnsafeUser().ID())
	}
	if c.Token() != token {
		t.Fatal("a failed re-login must not drop the bearer token")
	}
}

func TestClientRefreshFetchesSchemesAndVersion(t *testing.T) {
	srv := newTestEndpoint(t, nil)
	c := newTestClient(t, srv, nil)

	// The first refresh requests schemes and version on its own.
	if err := c.Refresh(context.Background(), false, false, false); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if got := c.AvailableSchemes(); len(got) != 1 || got[0] != "Basic" {
		t.Fatalf("unexpected schemes: %v", got)
	}
	if c.EndpointVersion() != client.ClientVersion {
		t.Fatalf("unexpected endpoint version: %q", c.EndpointVersion())
	}
}

func TestClientVersionMismatchIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"info":null,"refreshable":false,"rememberMe":false,"version":"9.9.9"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	err := c.Refresh(context.Background(), false, false, true)
	var perr *client.ProtocolError
	if !errors.As(err, &perr) || perr.ErrorID != "ClientEndPointVersionMismatch" {
		t.Fatalf("expected a version mismatch, got %v", err)
	}
	if c.EndpointVersion() != "9.9.9" {
		t.Fatalf("the reported version must be recorded, got %q", c.EndpointVersion())
	}
}

func TestClientSkipVersionCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"info":null,"refreshable":false,"rememberMe":false,"version":"9.9.9"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *client.Config) { cfg.SkipVersionCheck = true })
	if err := c.Refresh(context.Background(), false, false, true); err != nil {
		t.Fatalf("mismatch must be tolerated: %v", err)
	}
}

func TestClientTransportFailureKeepsAuthentication(t *testing.T) {
	srv := newTestEndpoint(t, nil)
	c := newTestClient(t, srv, nil)
	ctx := context.Background()

	if err := c.BasicLogin(ctx, "alice", "pass", false, nil); err != nil {
		t.Fatalf("BasicLogin failed: %v", err)
	}
	srv.Close()

	err := c.Refresh(ctx, false, false, false)
	var perr *client.ProtocolError
	if !errors.As(err, &perr) || perr.ErrorID != "HTTP.Status.408" {
		t.Fatalf("expected a synthesized 408, got %v", err)
	}
	if c.Info().User().ID() != 3712 {
		t.Fatal("a transport failure must not drop the local authentication")
	}
	if c.Token() == "" {
		t.Fatal("the token must survive a transport failure")
	}
}

func TestClientOfflineRestore(t *testing.T) {
	srv := newTestEndpoint(t, nil)
	store := client.NewMemoryStore()
	ctx := context.Background()

	first := newTestClient(t, srv, func(cfg *client.Config) { cfg.Store = store })
	// The initial refresh learns the schemes so the offline record
	// carries them.
	if err := first.Refresh(ctx, false, true, true); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if err := first.BasicLogin(ctx, "alice", "pass", true, nil); err != nil {
		t.Fatalf("BasicLogin failed: %v", err)
	}

	endpoint := srv.URL
	srv.Close()

	// A fresh anonymous client against the dead endpoint restores the
	// offline record.
	cfg := client.Config{Endpoint: endpoint, Store: store}
	second, err := client.New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer second.Close()

	if err := second.Refresh(ctx, false, false, false); err == nil {
		t.Fatal("expected the transport error surfaced")
	}
	info := second.Info()
	if info.Level() != auth.LevelUnsafe {
		t.Fatalf("a restored identity is never above Unsafe, got %v", info.Level())
	}
	if info.UnsafeUser().ID() != 3712 {
		t.Fatalf("expected the stored identity, got user %d", info.UnsafeUser().ID())
	}
	if got := second.AvailableSchemes(); len(got) != 1 || got[0] != "Basic" {
		t.Fatalf("stored schemes lost: %v", got)
	}
}

func TestClientNoRestoreWhenAuthenticated(t *testing.T) {
	srv := newTestEndpoint(t, nil)
	store := client.NewMemoryStore()
	c := newTestClient(t, srv, func(cfg *client.Config) { cfg.Store = store })
	ctx := context.Background()

	if err := c.BasicLogin(ctx, "alice", "pass", true, nil); err != nil {
		t.Fatalf("BasicLogin failed: %v", err)
	}
	srv.Close()

	// Still Normal locally: the store must not replace a live identity.
	_ = c.Refresh(ctx, false, false, false)
	if c.Info().Level() != auth.LevelNormal {
		t.Fatalf("expected the live identity kept, got %v", c.Info().Level())
	}
}

func TestClientLogout(t *testing.T) {
	srv := newTestEndpoint(t, nil)
	store := client.NewMemoryStore()
	c := newTestClient(t, srv, func(cfg *client.Config) { cfg.Store = store })
	ctx := context.Background()

	if err := c.BasicLogin(ctx, "alice", "pass", false, nil); err != nil {
		t.Fatalf("BasicLogin failed: %v", err)
	}
	if err := c.Logout(ctx, true); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if !c.Info().IsNone() {
		t.Fatalf("expected anonymous after logout, got %v", c.Info().Level())
	}
	if c.Token() != "" {
		t.Fatal("no token after logout")
	}
}

func TestClientImpersonation(t *testing.T) {
	srv := newTestEndpoint(t, nil)
	c := newTestClient(t, srv, nil)
	ctx := context.Background()

	if err := c.BasicLogin(ctx, "alice", "pass", false, nil); err != nil {
		t.Fatalf("BasicLogin failed: %v", err)
	}
	if err := c.ImpersonateByName(ctx, "bob"); err != nil {
		t.Fatalf("ImpersonateByName failed: %v", err)
	}

	info := c.Info()
	if !info.IsImpersonated() {
		t.Fatal("expected an impersonated authentication")
	}
	if info.UnsafeUser().ID() != 42 || info.UnsafeActualUser().ID() != 3712 {
		t.Fatalf("expected bob acted by alice, got user=%d actual=%d",
			info.UnsafeUser().ID(), info.UnsafeActualUser().ID())
	}

	// Impersonating oneself clears it.
	if err := c.ImpersonateByID(ctx, 3712); err != nil {
		t.Fatalf("ImpersonateByID failed: %v", err)
	}
	if c.Info().IsImpersonated() {
		t.Fatal("expected the impersonation cleared")
	}
}

func TestClientOnChange(t *testing.T) {
	srv := newTestEndpoint(t, nil)
	c := newTestClient(t, srv, nil)
	ctx := context.Background()

	var calls int
	cancel := c.OnChange(func(*client.Client) { calls++ })

	if err := c.BasicLogin(ctx, "alice", "pass", false, nil); err != nil {
		t.Fatalf("BasicLogin failed: %v", err)
	}
	if calls == 0 {
		t.Fatal("expected a change notification")
	}

	seen := calls
	cancel()
	_ = c.Refresh(ctx, false, false, false)
	if calls != seen {
		t.Fatal("cancelled subscriber must not be called")
	}
}

func TestClientExpirationDowngradesLocally(t *testing.T) {
	srv := newTestEndpoint(t, func(cfg *webfront.Config) {
		cfg.ExpireSpan = 50 * time.Millisecond
	})
	c := newTestClient(t, srv, nil)
	ctx := context.Background()

	if err := c.BasicLogin(ctx, "alice", "pass", false, nil); err != nil {
		t.Fatalf("BasicLogin failed: %v", err)
	}
	if c.Info().Level() != auth.LevelNormal {
		t.Fatalf("expected Normal right after login, got %v", c.Info().Level())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Info().Level() == auth.LevelUnsafe {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := c.Info().Level(); got != auth.LevelUnsafe {
		t.Fatalf("expected the timer downgrade to Unsafe, got %v", got)
	}
	if c.Info().UnsafeUser().ID() != 3712 {
		t.Fatal("the identity hint must survive the downgrade")
	}
}

func TestClientCloseIsIdempotent(t *testing.T) {
	srv := newTestEndpoint(t, nil)
	c := newTestClient(t, srv, nil)

	c.Close()
	c.Close()
	if !c.IsClosed() {
		t.Fatal("expected the client closed")
	}
	if err := c.Refresh(context.Background(), false, false, false); !errors.Is(err, client.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := c.BasicLogin(context.Background(), "alice", "pass", false, nil); !errors.Is(err, client.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestClientTransportSetsTokenOnEndpointURLs(t *testing.T) {
	srv := newTestEndpoint(t, nil)
	c := newTestClient(t, srv, nil)
	ctx := context.Background()

	if err := c.BasicLogin(ctx, "alice", "pass", false, nil); err != nil {
		t.Fatalf("BasicLogin failed: %v", err)
	}

	if !c.ShouldSetToken(srv.URL + "/api/data") {
		t.Fatal("endpoint-prefixed URLs must carry the token")
	}
	if c.ShouldSetToken("https://other.example.test/api") {
		t.Fatal("foreign URLs must not carry the token")
	}

	var seen string
	rt := c.Transport(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		seen = r.Header.Get("Authorization")
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}))

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/data", nil)
	resp, err := rt.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip failed: %v", err)
	}
	resp.Body.Close()
	if !strings.HasPrefix(seen, "Bearer ") {
		t.Fatalf("expected a bearer header, got %q", seen)
	}
	if req.Header.Get("Authorization") != "" {
		t.Fatal("the original request must not be mutated")
	}
}

func TestClientBuildStartLoginURL(t *testing.T) {
	srv := newTestEndpoint(t, nil)
	c := newTestClient(t, srv, nil)

	got := c.BuildStartLoginURL("Google", "", "https://app.example.test", true, nil)
	if !strings.HasPrefix(got, srv.URL+"/.webfront/c/startLogin?") {
		t.Fatalf("unexpected URL: %q", got)
	}
	if !strings.Contains(got, "scheme=Google") || !strings.Contains(got, "rememberMe=true") {
		t.Fatalf("parameters lost: %q", got)
	}
}

func TestHandlePopupMessage(t *testing.T) {
	srv := newTestEndpoint(t, nil)
	c := newTestClient(t, srv, nil)
	ctx := context.Background()

	infoJSON, err := json.Marshal(map[string]any{
		"user":     map[string]any{"id": 3712, "name": "alice"},
		"exp":      time.Now().Add(20 * time.Minute).UTC().Format(time.RFC3339),
		"deviceId": "dev-popup",
	})
	if err != nil {
		t.Fatalf("marshal info: %v", err)
	}
	payload := []byte(fmt.Sprintf(
		`{"WFA":"WFA","data":{"info":%s,"token":"tok-1","refreshable":false,"rememberMe":true}}`,
		infoJSON))

	// A message with the marker from a foreign origin is a hard error.
	if err := c.HandlePopupMessage(ctx, "https://evil.example.test", payload); err == nil {
		t.Fatal("expected a foreign-origin error")
	}
	if !c.Info().IsNone() {
		t.Fatal("a rejected message must not change the state")
	}

	// Foreign content without the marker is silently ignored.
	if err := c.HandlePopupMessage(ctx, srv.URL, []byte(`{"source":"devtools"}`)); err != nil {
		t.Fatalf("unmarked messages are ignored: %v", err)
	}

	// The genuine message applies.
	if err := c.HandlePopupMessage(ctx, srv.URL, payload); err != nil {
		t.Fatalf("HandlePopupMessage failed: %v", err)
	}
	info := c.Info()
	if info.User().ID() != 3712 || info.DeviceID() != "dev-popup" {
		t.Fatalf("popup result not applied: user=%d device=%q", info.User().ID(), info.DeviceID())
	}
	if c.Token() != "tok-1" {
		t.Fatalf("token not applied: %q", c.Token())
	}
	if !c.RememberMe() {
		t.Fatal("rememberMe not applied")
	}
}
