package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	webfront "github.com/webfront-go/webfront"
	"github.com/webfront-go/webfront/auth"
)

// ClientVersion is the protocol version this client implements. The
// endpoint must report the same version or every call fails fast.
const ClientVersion = webfront.ProtocolVersion

// ErrClosed is returned by every method of a closed Client.
var ErrClosed = errors.New("client is closed")

// ProtocolError is a structured error reported by the endpoint (or
// synthesized for transport failures).
type ProtocolError struct {
	ErrorID            string
	Reason             string
	LoginFailureCode   int
	LoginFailureReason string
}

func (e *ProtocolError) Error() string {
	if e.LoginFailureReason != "" {
		return fmt.Sprintf("%s: %s", e.ErrorID, e.LoginFailureReason)
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.ErrorID, e.Reason)
	}
	return e.ErrorID
}

// response mirrors the server's JSON envelope.
type response struct {
	Info        json.RawMessage `json:"info"`
	Token       string          `json:"token"`
	Refreshable bool            `json:"refreshable"`
	RememberMe  bool            `json:"rememberMe"`

	Schemes []string `json:"schemes"`
	Version string   `json:"version"`

	ErrorID   string `json:"errorId"`
	ErrorText string `json:"errorText"`

	LoginFailureCode   int    `json:"loginFailureCode"`
	LoginFailureReason string `json:"loginFailureReason"`
}

// Client is the session state machine. All methods are safe for
// concurrent use.
type Client struct {
	cfg Config

	mu              sync.Mutex
	info            *auth.Info
	token           string
	rememberMe      bool
	refreshable     bool
	schemes         []string
	endpointVersion string
	currentError    error
	expTimer        *time.Timer
	cexpTimer       *time.Timer
	subscribers     map[int]func(*Client)
	nextSubscriber  int
	closed          bool

	now func() time.Time
}

// New creates a Client. Call [Client.Refresh] (or use [NewRefreshed])
// to fetch the initial state.
func New(cfg Config) (*Client, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:         cfg,
		info:        auth.None(""),
		subscribers: map[int]func(*Client){},
		now:         time.Now,
	}
	return c, nil
}

// NewRefreshed creates a Client and performs the initial refresh. The
// Client is returned even when the refresh failed; inspect
// [Client.CurrentError] or the returned error.
func NewRefreshed(ctx context.Context, cfg Config) (*Client, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Refresh(ctx, true, true, true); err != nil {
		return c, err
	}
	return c, nil
}

// Close stops the timers and drops the subscribers. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.clearTimersLocked()
	c.subscribers = map[int]func(*Client){}
}

// Info returns the current authentication.
func (c *Client) Info() *auth.Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Token returns the current bearer token, empty when anonymous.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Refreshable reports whether the endpoint renews expirations.
func (c *Client) Refreshable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshable
}

// RememberMe reports whether the current authentication is memorized.
func (c *Client) RememberMe() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rememberMe
}

// AvailableSchemes returns the scheme names the endpoint advertised.
func (c *Client) AvailableSchemes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.schemes...)
}

// EndpointVersion returns the version reported by the endpoint, empty
// before the first versioned refresh.
func (c *Client) EndpointVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpointVersion
}

// CurrentError returns the error recorded by the last protocol action,
// nil after a success.
func (c *Client) CurrentError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentError
}

// IsClosed reports whether Close was called.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// OnChange registers a callback invoked after every state change. The
// returned function unregisters it.
func (c *Client) OnChange(fn func(*Client)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSubscriber
	c.nextSubscriber++
	c.subscribers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

// BasicLogin logs in with a user name and password.
func (c *Client) BasicLogin(ctx context.Context, userName, password string, rememberMe bool, userData url.Values) error {
	body := map[string]any{
		"userName":   userName,
		"password":   password,
		"rememberMe": rememberMe,
	}
	if userData != nil {
		body["userData"] = userData
	}
	return c.sendRequest(ctx, "basicLogin", body, nil, false)
}

// UnsafeDirectLogin logs in with a provider-specific payload. The
// endpoint must explicitly allow it.
func (c *Client) UnsafeDirectLogin(ctx context.Context, provider string, payload any, rememberMe bool) error {
	body := map[string]any{
		"provider":   provider,
		"payload":    payload,
		"rememberMe": rememberMe,
	}
	return c.sendRequest(ctx, "unsafeDirectLogin", body, nil, false)
}

// Refresh re-validates the session. callBackend forces the endpoint to
// re-read the live identity; requestSchemes and requestVersion are
// turned on automatically when the local copies are empty.
func (c *Client) Refresh(ctx context.Context, callBackend, requestSchemes, requestVersion bool) error {
	c.mu.Lock()
	if len(c.schemes) == 0 {
		requestSchemes = true
	}
	if c.endpointVersion == "" {
		requestVersion = true
	}
	c.mu.Unlock()

	queries := url.Values{}
	if callBackend {
		queries.Set("callBackend", "")
	}
	if requestSchemes {
		queries.Set("schemes", "")
	}
	if requestVersion {
		queries.Set("version", "")
	}
	return c.sendRequest(ctx, "refresh", nil, queries, false)
}

// ImpersonateByName asks the endpoint to act as the named user.
func (c *Client) ImpersonateByName(ctx context.Context, userName string) error {
	return c.sendRequest(ctx, "impersonate", map[string]any{"userName": userName}, nil, false)
}

// ImpersonateByID asks the endpoint to act as the identified user.
func (c *Client) ImpersonateByID(ctx context.Context, userID int) error {
	return c.sendRequest(ctx, "impersonate", map[string]any{"userId": userID}, nil, false)
}

// Logout revokes the current authentication; full also clears the
// long-term identity cookie and the offline record.
func (c *Client) Logout(ctx context.Context, full bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.token = ""
	c.mu.Unlock()

	queries := url.Values{}
	if full {
		queries.Set("full", "")
	}
	if err := c.sendRequest(ctx, "logout", nil, queries, true); err != nil {
		return err
	}
	if c.cfg.Store != nil {
		_ = c.cfg.Store.Delete(ctx, c.storeKey())
	}
	return c.Refresh(ctx, false, false, false)
}

// BuildStartLoginURL returns the URL that begins a federated handshake
// for scheme. Supply returnURL for the inline flow or callerOrigin for
// the popup flow.
func (c *Client) BuildStartLoginURL(scheme, returnURL, callerOrigin string, rememberMe bool, userData url.Values) string {
	q := url.Values{}
	q.Set("scheme", scheme)
	if returnURL != "" {
		q.Set("returnUrl", returnURL)
	}
	if callerOrigin != "" {
		q.Set("callerOrigin", callerOrigin)
	}
	if rememberMe {
		q.Set("rememberMe", "true")
	}
	for key, values := range userData {
		q["userData."+key] = values
	}
	return c.entryURL("startLogin") + "?" + q.Encode()
}

// ShouldSetToken reports whether a request to rawURL must carry the
// bearer token. Only endpoint-prefixed URLs qualify.
func (c *Client) ShouldSetToken(rawURL string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return false
	}
	return strings.HasPrefix(rawURL, c.cfg.Endpoint)
}

// Transport decorates base so that endpoint-bound requests carry the
// bearer token. A nil base uses http.DefaultTransport.
func (c *Client) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &tokenTransport{client: c, base: base}
}

type tokenTransport struct {
	client *Client
	base   http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.client.ShouldSetToken(req.URL.String()) {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.client.Token())
	}
	return t.base.RoundTrip(req)
}

func (c *Client) entryURL(action string) string {
	return c.cfg.Endpoint + c.cfg.EntryPath + "/c/" + action
}

func (c *Client) storeKey() string {
	return "webfront:auth:" + c.cfg.Endpoint
}

// sendRequest is the single funnel every protocol action goes through.
// Timers are cleared up front so that a timer-driven refresh cannot
// race the explicit call.
func (c *Client) sendRequest(ctx context.Context, action string, body any, queries url.Values, skipResponseHandling bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.clearTimersLocked()
	token := c.token
	c.mu.Unlock()

	target := c.entryURL(action)
	if len(queries) > 0 {
		target += "?" + queries.Encode()
	}

	payload := []byte("{}")
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return c.recordError(&ProtocolError{ErrorID: "Client.EncodeFailure", Reason: err.Error()})
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return c.recordError(&ProtocolError{ErrorID: "Client.RequestFailure", Reason: err.Error()})
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return c.handleTransportFailure(ctx, action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// A non-200 never loses the local authentication: the only thing
		// to do is re-derive its expiration.
		perr := &ProtocolError{ErrorID: fmt.Sprintf("HTTP.Status.%d", resp.StatusCode), Reason: "server response error"}
		var envelope response
		if json.NewDecoder(resp.Body).Decode(&envelope) == nil && envelope.ErrorID != "" {
			perr.ErrorID = envelope.ErrorID
			perr.Reason = envelope.ErrorText
		}
		return c.recordError(perr)
	}

	if skipResponseHandling {
		c.mu.Lock()
		c.currentError = nil
		c.mu.Unlock()
		return nil
	}

	var envelope response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return c.recordError(&ProtocolError{ErrorID: "Client.DecodeFailure", Reason: err.Error()})
	}
	return c.handleServerResponse(ctx, &envelope)
}

// handleTransportFailure records the connection error and, only when a
// refresh found no server while anonymous, restores the offline record.
func (c *Client) handleTransportFailure(ctx context.Context, action string, cause error) error {
	perr := &ProtocolError{ErrorID: "HTTP.Status.408", Reason: "no connection could be made: " + cause.Error()}

	c.mu.Lock()
	level := c.info.Level()
	c.mu.Unlock()

	if action == "refresh" && level == auth.LevelNone && c.cfg.Store != nil {
		if restored, schemes, ok := c.loadStoredRecord(ctx); ok {
			c.mu.Lock()
			c.currentError = perr
			c.schemes = schemes
			c.localDisconnectLocked(restored)
			c.mu.Unlock()
			return perr
		}
	}
	return c.recordError(perr)
}

// recordError keeps the current identity and only re-derives its
// expiration, then notifies on any visible change.
func (c *Client) recordError(perr error) error {
	c.mu.Lock()
	c.currentError = perr
	changed := false
	if checked := c.info.CheckExpiration(c.now()); checked != c.info {
		c.info = checked
		changed = true
	}
	c.scheduleTimersLocked()
	subs := c.snapshotSubscribersLocked()
	c.mu.Unlock()
	if changed {
		notify(subs, c)
	}
	return perr
}

func (c *Client) handleServerResponse(ctx context.Context, r *response) error {
	c.mu.Lock()

	c.currentError = nil

	// Version first: a mismatch is fatal, nothing else is applied.
	if r.Version != "" {
		c.endpointVersion = r.Version
		if !c.cfg.SkipVersionCheck && r.Version != ClientVersion {
			perr := &ProtocolError{
				ErrorID: "ClientEndPointVersionMismatch",
				Reason: fmt.Sprintf("client version %q, endpoint version %q",
					ClientVersion, r.Version),
			}
			c.currentError = perr
			c.mu.Unlock()
			return perr
		}
	}

	if r.Schemes != nil {
		c.schemes = append([]string(nil), r.Schemes...)
	}

	if r.LoginFailureCode != 0 || r.LoginFailureReason != "" {
		c.currentError = &ProtocolError{
			ErrorID:            "User.LoginFailure",
			LoginFailureCode:   r.LoginFailureCode,
			LoginFailureReason: r.LoginFailureReason,
		}
	}
	if r.ErrorID != "" {
		c.currentError = &ProtocolError{ErrorID: r.ErrorID, Reason: r.ErrorText}
	}
	if c.currentError != nil {
		// The cycle completed: record the error and apply the server's
		// view of the authentication. The failure envelope carries the
		// retained identity (an Unsafe hint, or the untouched current
		// authentication), never a token, so the local token stands.
		perr := c.currentError
		if info, err := auth.UnmarshalInfo(r.Info, c.now()); err == nil && info != nil {
			c.info = info
			c.scheduleTimersLocked()
		} else {
			c.localDisconnectLocked(nil)
		}
		subs := c.snapshotSubscribersLocked()
		c.mu.Unlock()
		notify(subs, c)
		return perr
	}

	info, err := auth.UnmarshalInfo(r.Info, c.now())
	if err != nil || info == nil {
		c.localDisconnectLocked(nil)
		subs := c.snapshotSubscribersLocked()
		c.mu.Unlock()
		notify(subs, c)
		if err != nil {
			return &ProtocolError{ErrorID: "Client.DecodeFailure", Reason: "malformed authentication info"}
		}
		return nil
	}

	c.token = r.Token
	c.refreshable = r.Refreshable
	c.rememberMe = r.RememberMe
	c.info = info

	c.scheduleTimersLocked()
	c.persistLocked(ctx)
	subs := c.snapshotSubscribersLocked()
	c.mu.Unlock()
	notify(subs, c)
	return nil
}

// localDisconnectLocked drops the token and downgrades the identity.
// With rememberMe the identity survives as an Unsafe hint; otherwise
// only the device id survives.
func (c *Client) localDisconnectLocked(fromStore *auth.Info) {
	c.token = ""
	c.refreshable = false
	switch {
	case fromStore != nil:
		c.info = fromStore
	case c.rememberMe:
		c.info = c.info.SetExpires(nil, c.now())
	default:
		c.info = auth.None(c.info.DeviceID())
	}
	c.clearTimersLocked()
}

type storedRecord struct {
	Info    json.RawMessage `json:"info"`
	Schemes []string        `json:"schemes"`
}

// persistLocked writes the offline record: the unsafe projection of the
// current identity plus the schemes list. Expirations are deliberately
// stripped so a restore can never exceed Unsafe.
func (c *Client) persistLocked(ctx context.Context) {
	if c.cfg.Store == nil {
		return
	}
	unsafeInfo := auth.New(c.info.UnsafeUser(), nil, nil, c.info.DeviceID(), c.now())
	raw, err := auth.MarshalInfo(unsafeInfo)
	if err != nil {
		return
	}
	data, err := json.Marshal(storedRecord{Info: raw, Schemes: c.schemes})
	if err != nil {
		return
	}
	_ = c.cfg.Store.Set(ctx, c.storeKey(), data)
}

func (c *Client) loadStoredRecord(ctx context.Context) (*auth.Info, []string, bool) {
	data, err := c.cfg.Store.Get(ctx, c.storeKey())
	if err != nil {
		return nil, nil, false
	}
	var record storedRecord
	if json.Unmarshal(data, &record) != nil {
		return nil, nil, false
	}
	info, err := auth.UnmarshalInfo(record.Info, c.now())
	if err != nil || info == nil || info.UnsafeUser().IsAnonymous() {
		return nil, nil, false
	}
	return info, record.Schemes, true
}

func (c *Client) scheduleTimersLocked() {
	c.clearTimersLocked()
	if c.closed {
		return
	}
	if exp := c.info.Expires(); exp != nil {
		c.expTimer = c.scheduleAt(*exp, &c.expTimer, c.onExpires)
	}
	if cexp := c.info.CriticalExpires(); cexp != nil {
		c.cexpTimer = c.scheduleAt(*cexp, &c.cexpTimer, c.onCriticalExpires)
	}
}

// scheduleAt arms a timer for the deadline, stepping in capped
// intervals for far-future deadlines.
func (c *Client) scheduleAt(deadline time.Time, slot **time.Timer, fire func()) *time.Timer {
	wait := deadline.Sub(c.now())
	if wait > c.cfg.MaxTimerInterval {
		// The re-arm only proceeds while the slot still holds this very
		// timer: a step that lost the race to Stop must not overwrite a
		// timer armed by a later response.
		var step *time.Timer
		step = time.AfterFunc(c.cfg.MaxTimerInterval, func() {
			c.mu.Lock()
			if c.closed || *slot != step {
				c.mu.Unlock()
				return
			}
			*slot = c.scheduleAt(deadline, slot, fire)
			c.mu.Unlock()
		})
		return step
	}
	if wait < 0 {
		wait = 0
	}
	return time.AfterFunc(wait, fire)
}

func (c *Client) onExpires() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.refreshable {
		c.mu.Unlock()
		_ = c.Refresh(context.Background(), false, false, false)
		return
	}
	c.info = c.info.SetExpires(nil, c.now())
	subs := c.snapshotSubscribersLocked()
	c.mu.Unlock()
	notify(subs, c)
}

func (c *Client) onCriticalExpires() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.refreshable {
		c.mu.Unlock()
		_ = c.Refresh(context.Background(), false, false, false)
		return
	}
	c.info = c.info.SetCriticalExpires(nil, c.now())
	subs := c.snapshotSubscribersLocked()
	c.mu.Unlock()
	notify(subs, c)
}

func (c *Client) clearTimersLocked() {
	if c.expTimer != nil {
		c.expTimer.Stop()
		c.expTimer = nil
	}
	if c.cexpTimer != nil {
		c.cexpTimer.Stop()
		c.cexpTimer = nil
	}
}

func (c *Client) snapshotSubscribersLocked() []func(*Client) {
	subs := make([]func(*Client), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

func notify(subs []func(*Client), c *Client) {
	for _, fn := range subs {
		fn(c)
	}
}
