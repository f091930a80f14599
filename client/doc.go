// Package client implements the session-side counterpart of the
// webfront protocol: a state machine that mirrors the server's
// authentication through polling timers, an optional offline fallback
// store, and a popup handshake.
//
// A [Client] keeps the latest AuthenticationInfo, bearer token and
// available schemes in sync with the endpoint. Expiration timers
// re-refresh (when the session is refreshable) or locally downgrade the
// level when a deadline passes. Network failures never fabricate a
// success: the current state is kept and only its expiration is
// re-derived, except for the one documented fallback (a refresh while
// anonymous may restore an Unsafe identity hint from the offline store).
package client
