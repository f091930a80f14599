package webfront

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/webfront-go/webfront/auth"
)

// loginMode selects how the outcome of a login travels back to the
// caller.
type loginMode uint8

const (
	// loginModeDirect answers the request body with JSON.
	loginModeDirect loginMode = iota
	// loginModePopup answers with an HTML page posting the result to the
	// opener window.
	loginModePopup
	// loginModeInline redirects to the returnUrl.
	loginModeInline
)

// loginContext carries one login attempt from entry to response. It
// enforces the exactly-one-outcome contract: the first of SetError,
// SetFailure or SetSuccess wins, later calls are programming errors and
// are ignored.
type loginContext struct {
	s *Service
	w http.ResponseWriter
	r *http.Request

	mode          loginMode
	callingScheme string
	initialScheme string
	returnURL     string
	callerOrigin  string
	rememberMe    bool
	userData      url.Values

	// current is the authentication carried by the request, before the
	// attempt.
	current *auth.Info

	// keepImpersonation preserves the impersonated identity when the
	// successful login targets the actual user.
	keepImpersonation bool

	// outcome
	settled   bool
	errorID   string
	errorText string
	failure   *UserLoginResult
	user      *auth.UserInfo
}

func (c *loginContext) SetError(errorID, errorText string) {
	if c.settled {
		return
	}
	c.settled = true
	c.errorID = errorID
	c.errorText = errorText
}

func (c *loginContext) SetFailure(result *UserLoginResult) {
	if c.settled {
		return
	}
	c.settled = true
	c.failure = result
}

func (c *loginContext) SetSuccess(user *auth.UserInfo) {
	if c.settled {
		return
	}
	c.settled = true
	c.user = user
}

// sendResponse terminates the attempt. An unsettled context is an
// internal error.
func (c *loginContext) sendResponse() {
	if !c.settled {
		c.SetError(ErrIDInternalError, "login terminated without an outcome")
	}

	if c.user != nil {
		c.sendSuccess()
		return
	}
	c.sendFailure()
}

func (c *loginContext) sendSuccess() {
	s := c.s
	info := s.createAuthInfo(c.user, c.current, c.callingScheme)
	if c.keepImpersonation {
		info = info.Impersonate(c.current.UnsafeUser(), s.now())
	}
	s.setCookies(c.w, c.r, info, c.rememberMe)

	resp, err := s.newAuthResponse(c.r, info, c.rememberMe)
	if err != nil {
		writeJSON(c.w, http.StatusInternalServerError, &authResponse{ErrorID: ErrIDInternalError})
		return
	}
	resp.InitialScheme = c.initialScheme
	resp.CallingScheme = c.callingScheme
	resp.UserData = c.userData

	switch c.mode {
	case loginModePopup:
		c.sendPopup(resp)
	case loginModeInline:
		c.sendInlineSuccess()
	default:
		writeJSON(c.w, http.StatusOK, resp)
	}
}

func (c *loginContext) sendFailure() {
	// A failed attempt does not revoke anything: the envelope still
	// reflects the authentication the request carried, so an unsafe
	// identity hint survives a wrong password.
	raw, err := auth.MarshalInfo(c.current.CheckExpiration(c.s.now()))
	if err != nil {
		raw = json.RawMessage("null")
	}
	resp := &authResponse{
		Info:        raw,
		Refreshable: false,
		ErrorID:     c.errorID,
		ErrorText:   c.errorText,
	}
	if c.failure != nil {
		resp.LoginFailureCode = c.failure.FailureCode
		resp.LoginFailureReason = c.failure.FailureReason
		if resp.ErrorID == "" {
			resp.ErrorID = "User.LoginFailure"
			resp.ErrorText = c.failure.FailureReason
		}
	}
	resp.InitialScheme = c.initialScheme
	resp.CallingScheme = c.callingScheme
	resp.UserData = c.userData

	switch c.mode {
	case loginModePopup:
		c.sendPopup(resp)
	case loginModeInline:
		c.sendInlineError(resp)
	default:
		// Login-domain failures are data, not transport errors.
		writeJSON(c.w, http.StatusOK, resp)
	}
}

// sendPopup posts the response to the opener window. The payload is
// wrapped in a recognizable envelope so the opener can filter foreign
// messages, and the target origin is pinned to the caller's.
func (c *loginContext) sendPopup(resp *authResponse) {
	origin := c.callerOrigin
	if origin == "" {
		origin = "*"
	}

	data, err := json.Marshal(resp)
	if err != nil {
		http.Error(c.w, "internal error", http.StatusInternalServerError)
		return
	}
	message, err := json.Marshal(struct {
		WFA  string          `json:"WFA"`
		Data json.RawMessage `json:"data"`
	}{WFA: "WFA", Data: data})
	if err != nil {
		http.Error(c.w, "internal error", http.StatusInternalServerError)
		return
	}
	target, err := json.Marshal(origin)
	if err != nil {
		http.Error(c.w, "internal error", http.StatusInternalServerError)
		return
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<script>\n(function(){\n")
	b.WriteString("window.opener.postMessage(")
	b.Write(message)
	b.WriteString(", ")
	b.Write(target)
	b.WriteString(");\nwindow.close();\n})();\n</script>\n</head>\n<body></body>\n</html>\n")
	// Random-length comment defeating compression-ratio side channels
	// on the reflected payload.
	b.WriteString("<!-- ")
	b.WriteString(breachPadding())
	b.WriteString(" -->\n")

	c.w.Header().Set("Content-Type", "text/html; charset=utf-8")
	c.w.WriteHeader(http.StatusOK)
	_, _ = c.w.Write([]byte(b.String()))
}

func breachPadding() string {
	var lenByte [1]byte
	_, _ = rand.Read(lenByte[:])
	n := 16 + int(lenByte[0]%64)
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return base64.RawStdEncoding.EncodeToString(buf)
}

func (c *loginContext) sendInlineSuccess() {
	http.Redirect(c.w, c.r, c.returnURL, http.StatusFound)
}

func (c *loginContext) sendInlineError(resp *authResponse) {
	target, err := url.Parse(c.returnURL)
	if err != nil {
		writeJSON(c.w, http.StatusBadRequest, resp)
		return
	}
	q := target.Query()
	q.Set("errorId", resp.ErrorID)
	if resp.ErrorText != "" {
		q.Set("errorText", resp.ErrorText)
	}
	if resp.LoginFailureCode != 0 {
		q.Set("loginFailureCode", strconv.Itoa(resp.LoginFailureCode))
	}
	if resp.LoginFailureReason != "" {
		q.Set("loginFailureReason", resp.LoginFailureReason)
	}
	target.RawQuery = q.Encode()
	http.Redirect(c.w, c.r, target.String(), http.StatusFound)
}

// allowedReturnURL checks the inline returnUrl against the configured
// prefix allow-list.
func (s *Service) allowedReturnURL(returnURL string) bool {
	for _, prefix := range s.cfg.AllowedReturnUrls {
		if strings.HasPrefix(returnURL, prefix) {
			return true
		}
	}
	return false
}
