package webfront

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/webfront-go/webfront/auth"
)

type basicLoginRequest struct {
	UserName              string     `json:"userName"`
	Password              string     `json:"password"`
	RememberMe            bool       `json:"rememberMe"`
	ImpersonateActualUser bool       `json:"impersonateActualUser"`
	UserData              url.Values `json:"userData"`
}

type directLoginRequest struct {
	Provider              string          `json:"provider"`
	Payload               json.RawMessage `json:"payload"`
	RememberMe            bool            `json:"rememberMe"`
	ImpersonateActualUser bool            `json:"impersonateActualUser"`
	UserData              url.Values      `json:"userData"`
}

func (s *Service) handleBasicLogin(w http.ResponseWriter, r *http.Request) {
	if !s.login.HasBasicLogin() {
		http.NotFound(w, r)
		return
	}
	var req basicLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	ctx := requestContext(r)
	current, _, _ := s.peekAuth(r)

	if err := s.limiter.CheckLogin(ctx, req.UserName, clientIPFromContext(ctx)); err != nil {
		s.rejectThrottled(ctx, w, req.UserName)
		return
	}

	c := &loginContext{
		s:             s,
		w:             w,
		r:             r,
		mode:          loginModeDirect,
		callingScheme: "Basic",
		rememberMe:    req.RememberMe,
		userData:      req.UserData,
		current:       current,
	}
	s.unifiedLogin(ctx, c, req.ImpersonateActualUser, req.UserName, func() (*UserLoginResult, error) {
		return s.login.BasicLogin(ctx, req.UserName, req.Password)
	})
	c.sendResponse()
}

func (s *Service) handleUnsafeDirectLogin(w http.ResponseWriter, r *http.Request) {
	if s.directAllow == nil {
		http.NotFound(w, r)
		return
	}
	var req directLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	ctx := requestContext(r)

	payload, err := s.login.CreatePayload(ctx, req.Provider)
	if err != nil {
		http.Error(w, "unknown provider", http.StatusBadRequest)
		return
	}
	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, payload); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
	}

	if !s.directAllow.AllowDirectLogin(ctx, req.Provider, payload) {
		s.metrics.Inc(MetricDirectLoginRejected)
		s.emitAudit(ctx, auditEventDirectLoginRejected, false, nil, req.Provider, nil, nil)
		http.Error(w, "direct login not allowed", http.StatusForbidden)
		return
	}

	if err := s.limiter.CheckLogin(ctx, "", clientIPFromContext(ctx)); err != nil {
		s.rejectThrottled(ctx, w, "")
		return
	}

	current, _, _ := s.peekAuth(r)
	c := &loginContext{
		s:             s,
		w:             w,
		r:             r,
		mode:          loginModeDirect,
		callingScheme: req.Provider,
		rememberMe:    req.RememberMe,
		userData:      req.UserData,
		current:       current,
	}
	s.unifiedLogin(ctx, c, req.ImpersonateActualUser, "", func() (*UserLoginResult, error) {
		return s.login.Login(ctx, req.Provider, payload)
	})
	c.sendResponse()
}

func (s *Service) rejectThrottled(ctx context.Context, w http.ResponseWriter, identifier string) {
	s.metrics.Inc(MetricLoginRateLimited)
	s.emitAudit(ctx, auditEventLoginRateLimited, false, nil, "", ErrLoginRateLimited, func() map[string]string {
		if identifier == "" {
			return nil
		}
		return map[string]string{"identifier": identifier}
	})
	writeJSON(w, http.StatusTooManyRequests, &authResponse{
		Info:    json.RawMessage("null"),
		ErrorID: ErrIDRateLimited,
	})
}

// unifiedLogin runs the shared login funnel. Every entry point lands
// here with a closure invoking its provider; the outcome is recorded on
// c and delivered by the caller.
func (s *Service) unifiedLogin(ctx context.Context, c *loginContext, impersonateActualUser bool, identifier string, call func() (*UserLoginResult, error)) {
	// A new login while impersonating is refused up front, unless the
	// attempt explicitly targets the actual user.
	if c.current.IsImpersonated() && !impersonateActualUser {
		s.metrics.Inc(MetricLoginWhileImpersonation)
		s.emitAudit(ctx, auditEventLoginWhileImpersonated, false, c.current, c.callingScheme, nil, nil)
		c.SetError(ErrIDLoginWhileImpersonation, "impersonation must be cleared before a new login")
		return
	}

	result, err := call()
	if err != nil {
		s.metrics.Inc(MetricLoginFailure)
		s.emitAudit(ctx, auditEventLoginFailure, false, c.current, c.callingScheme, err, nil)
		c.SetError(ErrIDInternalError, "login provider error")
		return
	}
	if result == nil {
		// Collaborator contract violation.
		log.Printf("webfront: login service returned a nil result for scheme %q", c.callingScheme)
		s.metrics.Inc(MetricLoginFailure)
		s.emitAudit(ctx, auditEventLoginFailure, false, c.current, c.callingScheme, ErrNilLoginResult, nil)
		c.SetError(ErrIDInternalError, "internal error")
		return
	}

	if result.UnregisteredUser {
		s.metrics.Inc(MetricLoginFailure)
		if c.current.Level() >= auth.LevelNormal {
			s.emitAudit(ctx, auditEventLoginFailure, false, c.current, c.callingScheme, nil, metaError(ErrIDNoAutoBinding))
			c.SetError(ErrIDNoAutoBinding, "automatic account binding is disabled")
		} else {
			s.emitAudit(ctx, auditEventLoginFailure, false, c.current, c.callingScheme, nil, metaError(ErrIDNoAutoRegistration))
			c.SetError(ErrIDNoAutoRegistration, "automatic user registration is disabled")
		}
		return
	}

	if !result.IsSuccess() {
		s.metrics.Inc(MetricLoginFailure)
		_ = s.limiter.IncrementLogin(ctx, identifier, clientIPFromContext(ctx))
		s.emitAudit(ctx, auditEventLoginFailure, false, c.current, c.callingScheme, nil, func() map[string]string {
			return map[string]string{"reason": result.FailureReason}
		})
		c.SetFailure(result)
		return
	}

	user := result.UserInfo

	if c.current.IsImpersonated() {
		// impersonateActualUser: only a login of the actual user keeps
		// the impersonation alive.
		if user.ID() != c.current.UnsafeActualUser().ID() {
			s.metrics.Inc(MetricLoginWhileImpersonation)
			s.emitAudit(ctx, auditEventLoginWhileImpersonated, false, c.current, c.callingScheme, nil, nil)
			c.SetError(ErrIDLoginWhileImpersonation, "impersonation must be cleared before a new login")
			return
		}
		c.keepImpersonation = true
	}

	// A different identity already logged in is a silent switch, worth
	// an event but not an error.
	if prev := c.current.UnsafeUser(); !prev.IsAnonymous() && prev.ID() != user.ID() && !c.current.IsImpersonated() {
		s.metrics.Inc(MetricRelogin)
		s.emitAudit(ctx, auditEventRelogin, true, c.current, c.callingScheme, nil, func() map[string]string {
			return map[string]string{"previous_user_id": strconv.Itoa(prev.ID())}
		})
	}

	_ = s.limiter.ResetLogin(ctx, identifier, clientIPFromContext(ctx))
	s.metrics.Inc(MetricLoginSuccess)
	s.emitAudit(ctx, auditEventLoginSuccess, true, c.current, c.callingScheme, nil, func() map[string]string {
		return map[string]string{"user_id": strconv.Itoa(user.ID())}
	})
	c.SetSuccess(user)
}

func metaError(id string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"error_id": id}
	}
}

// startLogin state travels to the federated provider and back.
const (
	stateKeyScheme                = "s"
	stateKeyReturnURL             = "r"
	stateKeyCallerOrigin          = "o"
	stateKeyRememberMe            = "rm"
	stateKeyImpersonateActualUser = "ia"
	stateKeyUserDataPrefix        = "d:"
)

func (s *Service) handleStartLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	scheme := r.Form.Get("scheme")
	if scheme == "" {
		writeJSON(w, http.StatusBadRequest, &authResponse{
			Info:    json.RawMessage("null"),
			ErrorID: ErrIDRequiredSchemeParameter,
		})
		return
	}
	startURL, ok := s.cfg.SchemeStartURLs[scheme]
	if !ok {
		http.NotFound(w, r)
		return
	}
	returnURL := r.Form.Get("returnUrl")
	if returnURL != "" && !s.allowedReturnURL(returnURL) {
		writeJSON(w, http.StatusBadRequest, &authResponse{
			Info:    json.RawMessage("null"),
			ErrorID: ErrIDDisallowedReturnUrl,
		})
		return
	}

	state := url.Values{}
	state.Set(stateKeyScheme, scheme)
	if returnURL != "" {
		state.Set(stateKeyReturnURL, returnURL)
	}
	if origin := r.Form.Get("callerOrigin"); origin != "" {
		state.Set(stateKeyCallerOrigin, origin)
	}
	if r.Form.Get("rememberMe") == "true" {
		state.Set(stateKeyRememberMe, "1")
	}
	if r.Form.Get("impersonateActualUser") == "true" {
		state.Set(stateKeyImpersonateActualUser, "1")
	}
	for key, values := range r.Form {
		if strings.HasPrefix(key, "userData.") {
			state[stateKeyUserDataPrefix+strings.TrimPrefix(key, "userData.")] = values
		}
	}

	protected, err := s.protector.ProtectExtra(state, s.binding(r))
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	target, err := url.Parse(startURL)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	q := target.Query()
	q.Set("state", protected)
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// HandleRemoteAuthentication completes a federated handshake. The host
// application calls it from its provider callback with the state string
// issued by startLogin and the payload the provider produced; the
// outcome is delivered on w in the mode the handshake was started with
// (popup when a caller origin was supplied, inline when a return URL
// was, direct JSON otherwise).
func (s *Service) HandleRemoteAuthentication(w http.ResponseWriter, r *http.Request, state string, payload any) {
	values, err := s.protector.UnprotectExtra(state, s.binding(r))
	if err != nil {
		s.metrics.Inc(MetricTokenInvalid)
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	scheme := values.Get(stateKeyScheme)
	userData := url.Values{}
	for key, vs := range values {
		if strings.HasPrefix(key, stateKeyUserDataPrefix) {
			userData[strings.TrimPrefix(key, stateKeyUserDataPrefix)] = vs
		}
	}
	if len(userData) == 0 {
		userData = nil
	}

	ctx := requestContext(r)
	current, _, _ := s.peekAuth(r)

	c := &loginContext{
		s:             s,
		w:             w,
		r:             r,
		mode:          loginModeDirect,
		callingScheme: scheme,
		initialScheme: scheme,
		returnURL:     values.Get(stateKeyReturnURL),
		callerOrigin:  values.Get(stateKeyCallerOrigin),
		rememberMe:    values.Get(stateKeyRememberMe) == "1",
		userData:      userData,
		current:       current,
	}
	switch {
	case c.callerOrigin != "":
		c.mode = loginModePopup
	case c.returnURL != "":
		c.mode = loginModeInline
	}

	impersonateActualUser := values.Get(stateKeyImpersonateActualUser) == "1"
	s.unifiedLogin(ctx, c, impersonateActualUser, "", func() (*UserLoginResult, error) {
		return s.login.Login(ctx, scheme, payload)
	})
	c.sendResponse()
}

