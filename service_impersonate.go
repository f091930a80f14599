package webfront

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/webfront-go/webfront/auth"
)

type impersonateRequest struct {
	UserName string          `json:"userName"`
	UserID   json.RawMessage `json:"userId"`
}

// handleImpersonate switches the acting identity while preserving the
// actual one. Unknown, unparsable or denied targets all answer
// Forbidden so that identity existence is never disclosed.
func (s *Service) handleImpersonate(w http.ResponseWriter, r *http.Request) {
	if s.impersonation == nil {
		http.NotFound(w, r)
		return
	}

	ctx := requestContext(r)
	info, rememberMe, _ := s.peekAuth(r)

	if info.Level() < auth.LevelNormal {
		http.Error(w, "authentication required", http.StatusForbidden)
		return
	}

	var req impersonateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if (req.UserName == "") == (len(req.UserID) == 0) {
		http.Error(w, "exactly one of userName or userId is required", http.StatusBadRequest)
		return
	}

	forbidden := func() {
		s.metrics.Inc(MetricImpersonationForbidden)
		s.emitAudit(ctx, auditEventImpersonationForbidden, false, info, "", nil, nil)
		http.Error(w, "forbidden", http.StatusForbidden)
	}

	var target *auth.UserInfo
	var err error
	if req.UserName != "" {
		target, err = s.impersonation.UserByName(ctx, req.UserName)
	} else {
		// An id that does not parse as an int is treated exactly like an
		// unknown user.
		var id int
		if convErr := json.Unmarshal(req.UserID, &id); convErr != nil {
			var asString string
			if json.Unmarshal(req.UserID, &asString) != nil {
				forbidden()
				return
			}
			id, convErr = strconv.Atoi(asString)
			if convErr != nil {
				forbidden()
				return
			}
		}
		target, err = s.impersonation.UserByID(ctx, id)
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if target == nil || target.IsAnonymous() {
		forbidden()
		return
	}

	now := s.now()
	actual := info.UnsafeActualUser()

	switch {
	case target.ID() == actual.ID():
		// Impersonating oneself clears the impersonation.
		info = info.ClearImpersonation(now)
		s.metrics.Inc(MetricImpersonationCleared)
		s.emitAudit(ctx, auditEventImpersonationCleared, true, info, "", nil, nil)
	default:
		if !s.impersonation.CanImpersonate(ctx, actual, target) {
			forbidden()
			return
		}
		info = info.Impersonate(target, now)
		s.metrics.Inc(MetricImpersonationStarted)
		s.emitAudit(ctx, auditEventImpersonationStarted, true, info, "", nil, func() map[string]string {
			return map[string]string{"target_user_id": strconv.Itoa(target.ID())}
		})
	}

	s.setCookies(w, r, info, rememberMe)
	resp, err := s.newAuthResponse(r, info, rememberMe)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, &authResponse{ErrorID: ErrIDInternalError})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
