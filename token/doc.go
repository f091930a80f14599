// Package token implements the tamper-evident codec protecting
// authentication material on the wire.
//
// Three independent protector namespaces are derived from a single
// master key: one for the authentication cookie, one for the bearer
// token and one for opaque extra-data blobs carried through federated
// login round trips. Material protected under one namespace can never
// be unprotected under another.
//
// An optional channel binding string (typically derived from the TLS
// connection) is sealed into every token and must match on unprotect,
// so a stolen ciphertext cannot be replayed over a different channel.
package token
