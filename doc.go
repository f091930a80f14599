// Package webfront is a front-door authentication session layer for
// single-page and mobile clients.
//
// It issues, refreshes and revokes a portable authentication token that
// encodes identity, authentication strength, expirations, impersonation
// and device binding, and keeps the matching cookies synchronized. The
// actual identity verification (password checks, federated handshakes,
// database lookups) is delegated to an external LoginService: webfront
// only orchestrates the session lifecycle around it.
//
// A Service is created through the Builder and mounted on the entry
// path. It exposes the protocol endpoints basicLogin, unsafeDirectLogin,
// refresh, impersonate, logout and startLogin under "<entry>/c/".
//
// The companion client package mirrors the server protocol on the
// client side.
package webfront
