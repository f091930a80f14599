package webfront

import (
	"context"

	"github.com/webfront-go/webfront/auth"
)

// UserLoginResult is what a LoginService returns from a login attempt.
// Exactly one of the two shapes is valid: a success carrying a non
// anonymous UserInfo, or a failure carrying a code and a reason.
type UserLoginResult struct {
	// UserInfo is the authenticated identity. Nil (or anonymous) on failure.
	UserInfo *auth.UserInfo

	// FailureCode and FailureReason describe a failed attempt. They are
	// surfaced verbatim on the response envelope.
	FailureCode   int
	FailureReason string

	// UnregisteredUser distinguishes "credentials were valid but no such
	// user is registered here" from plain failures: it drives the
	// NoAutoBinding / NoAutoRegistration outcomes.
	UnregisteredUser bool
}

// IsSuccess reports whether the attempt authenticated a real identity.
func (r *UserLoginResult) IsSuccess() bool {
	return r != nil && !r.UserInfo.IsAnonymous()
}

// LoginService is the contract to the backend identity store. The
// Service never verifies credentials itself: every entry point funnels
// into one of these calls.
//
// A nil UserLoginResult with a nil error is a contract violation and is
// treated as a fatal internal error.
type LoginService interface {
	// HasBasicLogin reports whether BasicLogin is supported. When false
	// the basicLogin endpoint is a 404.
	HasBasicLogin() bool

	// Providers returns the provider (scheme) names this service knows.
	Providers() []string

	// BasicLogin attempts a user name / password login.
	BasicLogin(ctx context.Context, userName, password string) (*UserLoginResult, error)

	// CreatePayload creates the scheme-specific payload shape that Login
	// expects. Payload validation is the provider's own responsibility.
	CreatePayload(ctx context.Context, scheme string) (any, error)

	// Login attempts a login on the given scheme with a payload obtained
	// from CreatePayload (or decoded from an unsafeDirectLogin body).
	Login(ctx context.Context, scheme string, payload any) (*UserLoginResult, error)

	// RefreshUserInfo re-reads the live identity behind info's actual
	// user. Returning an anonymous (or nil) user revokes the session.
	RefreshUserInfo(ctx context.Context, info *auth.Info) (*auth.UserInfo, error)
}

// ImpersonationService allows the impersonate endpoint. It is absent by
// default: without it the endpoint is a 404 regardless of the caller.
//
// Lookups must return (nil, nil) for unknown identities: the endpoint
// answers Forbidden, never NotFound, so that identity existence is not
// disclosed.
type ImpersonationService interface {
	UserByName(ctx context.Context, userName string) (*auth.UserInfo, error)
	UserByID(ctx context.Context, userID int) (*auth.UserInfo, error)

	// CanImpersonate decides whether actualUser may act as target.
	CanImpersonate(ctx context.Context, actualUser, target *auth.UserInfo) bool
}

// DirectLoginAllowService gates the unsafeDirectLogin endpoint. It is
// absent by default: without it the endpoint is a 404; when present but
// denying, a 403.
type DirectLoginAllowService interface {
	AllowDirectLogin(ctx context.Context, scheme string, payload any) bool
}
