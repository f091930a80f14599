package webfront

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/webfront-go/webfront/auth"
	internalaudit "github.com/webfront-go/webfront/internal/audit"
	"github.com/webfront-go/webfront/internal/rate"
	"github.com/webfront-go/webfront/token"
)

// Service is the front-door authentication endpoint handler. It issues,
// refreshes and revokes the portable authentication carried by the
// bearer token and the two cookies.
//
// A Service is safe for concurrent use. Build one with [New].
type Service struct {
	cfg           Config
	protector     *token.Protector
	login         LoginService
	impersonation ImpersonationService
	directAllow   DirectLoginAllowService
	limiter       *rate.Limiter
	audit         *internalaudit.Dispatcher
	metrics       *Metrics

	// now is replaced in tests.
	now func() time.Time
}

// Config returns a copy of the active configuration.
func (s *Service) Config() Config {
	return cloneConfig(s.cfg)
}

// Metrics exposes the in-process counters.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// MetricsSnapshot returns a point-in-time copy of all counters and
// histograms. Exporters read through this.
func (s *Service) MetricsSnapshot() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// Close flushes and stops the audit dispatcher. Idempotent.
func (s *Service) Close() {
	s.audit.Close()
}

func (s *Service) cookiePath() string {
	if s.cfg.CookieMode == CookieModeRootPath {
		return "/"
	}
	return s.cfg.EntryPath + "/c/"
}

func (s *Service) cookieSecure(r *http.Request) bool {
	switch s.cfg.CookieSecurePolicy {
	case CookieSecureAlways:
		return true
	case CookieSecureNever:
		return false
	default:
		return r.TLS != nil
	}
}

func (s *Service) binding(r *http.Request) string {
	if s.cfg.ChannelBinding == nil {
		return ""
	}
	return s.cfg.ChannelBinding(r)
}

func (s *Service) longTermCookieName() string {
	return s.cfg.AuthCookieName + "LT"
}

// credentialSource says where a request's authentication came from.
type credentialSource uint8

const (
	sourceNone credentialSource = iota
	sourceBearer
	sourceCookie
	sourceLongTermCookie
)

// peekAuth extracts the authentication carried by the request, in
// priority order bearer token, safe cookie, long-term cookie. The
// returned Info is never nil and already expiration-checked. It never
// writes to the response.
func (s *Service) peekAuth(r *http.Request) (*auth.Info, bool, credentialSource) {
	start := s.now()
	info, rememberMe, source := s.readAuthRaw(r)
	s.metrics.Observe(MetricAuthReadLatency, s.now().Sub(start))
	return info.CheckExpiration(s.now()), rememberMe, source
}

// ReadAuth is peekAuth plus the sliding-on-read behavior of the
// classical web-app cookie mode. Hosts and middleware use it to
// authenticate arbitrary requests.
func (s *Service) ReadAuth(w http.ResponseWriter, r *http.Request) *auth.Info {
	info, rememberMe, source := s.peekAuth(r)

	// Classical web-app mode slides the expiration on every read, not
	// only on explicit refresh.
	if source == sourceCookie && s.cfg.CookieMode == CookieModeRootPath {
		if slid := s.slideExpiration(info); slid != info {
			info = slid
			s.setCookies(w, r, info, rememberMe)
		}
	}
	return info
}

func (s *Service) readAuthRaw(r *http.Request) (*auth.Info, bool, credentialSource) {
	binding := s.binding(r)
	now := s.now()

	if h := r.Header.Get(s.cfg.BearerHeaderName); h != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(h, prefix) {
			info, rememberMe, err := s.protector.UnprotectBearer(h[len(prefix):], binding, now)
			if err == nil {
				return info, rememberMe, sourceBearer
			}
			s.metrics.Inc(MetricTokenInvalid)
			s.emitAudit(r.Context(), auditEventTokenInvalid, false, nil, "", err, nil)
		}
	}

	if s.cfg.CookieMode != CookieModeNone {
		if c, err := r.Cookie(s.cfg.AuthCookieName); err == nil && c.Value != "" {
			info, rememberMe, err := s.protector.UnprotectCookie(c.Value, binding, now)
			if err == nil {
				return info, rememberMe, sourceCookie
			}
			s.metrics.Inc(MetricTokenInvalid)
			s.emitAudit(r.Context(), auditEventTokenInvalid, false, nil, "", err, nil)
		}
	}

	if s.cfg.UseLongTermCookie() {
		if c, err := r.Cookie(s.longTermCookieName()); err == nil && c.Value != "" {
			if user, deviceID, ok := decodeLongTermCookie(c.Value); ok {
				// Identity hint only: no expirations, the level cannot
				// exceed Unsafe.
				info := auth.New(user, nil, nil, deviceID, now)
				return info, true, sourceLongTermCookie
			}
		}
	}

	return auth.None(""), false, sourceNone
}

// slideExpiration pushes Expires forward when sliding is enabled and
// more than half of the window is spent. Returns info unchanged when
// nothing slides.
func (s *Service) slideExpiration(info *auth.Info) *auth.Info {
	if s.cfg.SlidingExpiration <= 0 || info.Level() < auth.LevelNormal {
		return info
	}
	now := s.now()
	exp := info.Expires()
	if exp == nil {
		return info
	}
	if exp.Sub(now) >= s.cfg.SlidingExpiration/2 {
		return info
	}
	newExp := now.Add(s.cfg.SlidingExpiration)
	s.metrics.Inc(MetricSlidingRenewal)
	return info.SetExpires(&newExp, now)
}

// longTermCookiePayload is the clear identity hint stored in the
// long-term cookie.
type longTermCookiePayload struct {
	User     json.RawMessage `json:"user"`
	DeviceID string          `json:"deviceId,omitempty"`
}

func encodeLongTermCookie(user *auth.UserInfo, deviceID string) (string, error) {
	raw, err := auth.MarshalUserInfo(user)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(longTermCookiePayload{User: raw, DeviceID: deviceID})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeLongTermCookie(value string) (*auth.UserInfo, string, bool) {
	data, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, "", false
	}
	var payload longTermCookiePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, "", false
	}
	user, err := auth.UnmarshalUserInfo(payload.User)
	if err != nil || user.IsAnonymous() {
		return nil, "", false
	}
	return user, payload.DeviceID, true
}

// setCookies writes the safe cookie (and, with rememberMe, the
// long-term one) for info. A None-level info clears instead.
func (s *Service) setCookies(w http.ResponseWriter, r *http.Request, info *auth.Info, rememberMe bool) {
	if s.cfg.CookieMode == CookieModeNone {
		return
	}
	if info.Level() < auth.LevelNormal {
		s.clearAuthCookies(w, r, false)
		return
	}

	value, err := s.protector.ProtectCookie(info, rememberMe, s.binding(r))
	if err != nil {
		s.clearAuthCookies(w, r, false)
		return
	}
	cookie := &http.Cookie{
		Name:     s.cfg.AuthCookieName,
		Value:    value,
		Path:     s.cookiePath(),
		HttpOnly: true,
		Secure:   s.cookieSecure(r),
		SameSite: http.SameSiteLaxMode,
	}
	if rememberMe {
		if exp := info.Expires(); exp != nil {
			cookie.Expires = *exp
		}
	}
	http.SetCookie(w, cookie)

	if s.cfg.UseLongTermCookie() && rememberMe {
		ltValue, err := encodeLongTermCookie(info.UnsafeUser(), info.DeviceID())
		if err == nil {
			http.SetCookie(w, &http.Cookie{
				Name:     s.longTermCookieName(),
				Value:    ltValue,
				Path:     s.cookiePath(),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				Expires:  s.now().Add(s.cfg.UnsafeExpireSpan),
			})
		}
	}
}

// clearAuthCookies expires the safe cookie; full also expires the
// long-term one.
func (s *Service) clearAuthCookies(w http.ResponseWriter, r *http.Request, full bool) {
	if s.cfg.CookieMode == CookieModeNone {
		return
	}
	expire := func(name string, httpOnly, secure bool) {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     s.cookiePath(),
			HttpOnly: httpOnly,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
		})
	}
	expire(s.cfg.AuthCookieName, true, s.cookieSecure(r))
	if full && s.cfg.UseLongTermCookie() {
		expire(s.longTermCookieName(), true, false)
	}
}

// authResponse is the JSON envelope every endpoint answers with.
type authResponse struct {
	Info        json.RawMessage `json:"info"`
	Token       string          `json:"token,omitempty"`
	Refreshable bool            `json:"refreshable"`
	RememberMe  bool            `json:"rememberMe"`

	Schemes []string `json:"schemes,omitempty"`
	Version string   `json:"version,omitempty"`

	ErrorID   string `json:"errorId,omitempty"`
	ErrorText string `json:"errorText,omitempty"`

	LoginFailureCode   int    `json:"loginFailureCode,omitempty"`
	LoginFailureReason string `json:"loginFailureReason,omitempty"`

	InitialScheme string     `json:"initialScheme,omitempty"`
	CallingScheme string     `json:"callingScheme,omitempty"`
	UserData      url.Values `json:"userData,omitempty"`
}

// newAuthResponse builds the envelope for info, minting a bearer token
// when the authentication is at least Unsafe.
func (s *Service) newAuthResponse(r *http.Request, info *auth.Info, rememberMe bool) (*authResponse, error) {
	raw, err := auth.MarshalInfo(info)
	if err != nil {
		return nil, err
	}
	resp := &authResponse{
		Info:        raw,
		Refreshable: s.cfg.SlidingExpiration > 0,
		RememberMe:  rememberMe,
	}
	if info.Level() > auth.LevelNone {
		tok, err := s.protector.ProtectBearer(info, rememberMe, s.binding(r))
		if err != nil {
			return nil, err
		}
		resp.Token = tok
	}
	return resp, nil
}

func (s *Service) availableSchemes() []string {
	if len(s.cfg.AvailableSchemes) > 0 {
		return append([]string(nil), s.cfg.AvailableSchemes...)
	}
	return s.login.Providers()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"errorId":"InternalError"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// applyCriticalSpan upgrades info to Critical when the scheme is
// configured with a critical time span.
func (s *Service) applyCriticalSpan(info *auth.Info, scheme string) *auth.Info {
	span, ok := s.cfg.SchemesCriticalSpan[scheme]
	if !ok || span <= 0 {
		return info
	}
	now := s.now()
	cexp := now.Add(span)
	return info.SetCriticalExpires(&cexp, now)
}

// createAuthInfo builds the post-login authentication for user,
// keeping the device identifier of the previous authentication (a new
// one is assigned on first contact).
func (s *Service) createAuthInfo(user *auth.UserInfo, current *auth.Info, scheme string) *auth.Info {
	now := s.now()
	exp := now.Add(s.cfg.ExpireSpan)
	deviceID := ""
	if current != nil {
		deviceID = current.DeviceID()
	}
	if deviceID == "" {
		deviceID = newDeviceID()
	}
	info := auth.New(user, &exp, nil, deviceID, now)
	return s.applyCriticalSpan(info, scheme)
}

func isRateLimited(err error) bool {
	return errors.Is(err, rate.ErrRateLimited)
}
