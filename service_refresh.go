package webfront

import (
	"encoding/json"
	"net/http"

	"github.com/webfront-go/webfront/auth"
)

func (s *Service) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)

	if err := s.limiter.CheckRefresh(ctx, clientIPFromContext(ctx)); err != nil {
		s.metrics.Inc(MetricRefreshRateLimited)
		s.emitAudit(ctx, auditEventRefreshRateLimited, false, nil, "", ErrRefreshRateLimited, nil)
		writeJSON(w, http.StatusTooManyRequests, &authResponse{
			Info:    json.RawMessage("null"),
			ErrorID: ErrIDRateLimited,
		})
		return
	}

	info, rememberMe, _ := s.peekAuth(r)
	query := r.URL.Query()

	if !info.IsNone() && (s.cfg.AlwaysCallBackendOnRefresh || queryFlag(query, "callBackend")) {
		var revoked bool
		info, revoked = s.callBackend(r, info)
		if revoked {
			s.metrics.Inc(MetricRefreshRevoked)
			s.emitAudit(ctx, auditEventRefreshRevoked, false, info, "", nil, nil)
		}
	}

	info = s.slideExpiration(info)
	s.setCookies(w, r, info, rememberMe)

	resp, err := s.newAuthResponse(r, info, rememberMe)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, &authResponse{ErrorID: ErrIDInternalError})
		return
	}
	if queryFlag(query, "schemes") {
		resp.Schemes = s.availableSchemes()
	}
	if queryFlag(query, "version") {
		resp.Version = ProtocolVersion
	}

	s.metrics.Inc(MetricRefreshSuccess)
	s.emitAudit(ctx, auditEventRefreshSuccess, true, info, "", nil, nil)
	writeJSON(w, http.StatusOK, resp)
}

// callBackend re-reads the live identity. A revoked identity collapses
// the authentication to None while keeping the device id.
func (s *Service) callBackend(r *http.Request, info *auth.Info) (*auth.Info, bool) {
	fresh, err := s.login.RefreshUserInfo(r.Context(), info)
	if err != nil {
		// Backend unavailable: the current authentication stands.
		return info, false
	}
	if fresh.IsAnonymous() {
		return auth.None(info.DeviceID()), true
	}

	now := s.now()
	if info.IsImpersonated() {
		return auth.NewImpersonated(fresh, info.UnsafeUser(), info.Expires(), info.CriticalExpires(), info.DeviceID(), now), false
	}
	return auth.New(fresh, info.Expires(), info.CriticalExpires(), info.DeviceID(), now), false
}

func queryFlag(query map[string][]string, name string) bool {
	values, ok := query[name]
	if !ok {
		return false
	}
	return len(values) == 0 || values[0] == "" || values[0] == "true"
}

func (s *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := requestContext(r)
	info, _, _ := s.peekAuth(r)

	full := queryFlag(r.URL.Query(), "full")
	s.clearAuthCookies(w, r, full)

	if full {
		s.metrics.Inc(MetricLogoutFull)
		s.emitAudit(ctx, auditEventLogoutFull, true, info, "", nil, nil)
	} else {
		s.metrics.Inc(MetricLogout)
		s.emitAudit(ctx, auditEventLogout, true, info, "", nil, nil)
	}
	w.WriteHeader(http.StatusOK)
}
