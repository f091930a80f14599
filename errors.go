package webfront

import "errors"

var (
	// ErrLoginServiceRequired is returned by Build when no login service was supplied.
	ErrLoginServiceRequired = errors.New("login service required")
	// ErrMasterKeyRequired is returned by Build when no protection key was supplied.
	ErrMasterKeyRequired = errors.New("master key required")
	// ErrLoginRateLimited signals that the login throttle rejected the attempt.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited signals that the refresh throttle rejected the attempt.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrNilLoginResult signals a login service contract violation: a nil
	// result where one is required. This is fatal, never user-facing.
	ErrNilLoginResult = errors.New("login service returned a nil result")
)

// Login-domain failures are modeled as data on the response envelope,
// never as Go errors. These are the error ids the orchestrator itself
// produces; login services report their own codes through UserLoginResult.
const (
	// ErrIDLoginWhileImpersonation rejects any new login while an
	// impersonation is active.
	ErrIDLoginWhileImpersonation = "LoginWhileImpersonation"
	// ErrIDNoAutoBinding rejects binding an unregistered external identity
	// to an already logged-in session.
	ErrIDNoAutoBinding = "Account.NoAutoBinding"
	// ErrIDNoAutoRegistration rejects auto-registration of an unknown user.
	ErrIDNoAutoRegistration = "User.NoAutoRegistration"
	// ErrIDInternalError is the generic id for collaborator contract
	// violations and unexpected faults.
	ErrIDInternalError = "InternalError"
	// ErrIDRequiredSchemeParameter rejects a startLogin without a scheme.
	ErrIDRequiredSchemeParameter = "RequiredSchemeParameter"
	// ErrIDDisallowedReturnUrl rejects an inline login return url that does
	// not match any configured prefix.
	ErrIDDisallowedReturnUrl = "DisallowedReturnUrl"
	// ErrIDRateLimited is the envelope id for throttled attempts.
	ErrIDRateLimited = "Security.RateLimited"
)
