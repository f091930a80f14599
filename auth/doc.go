// Package auth defines the authentication type system: the ordered
// authentication level, user identity descriptions and the immutable
// AuthenticationInfo value that travels between server and client.
//
// Values in this package are pure data. Expiration checks never mutate
// stored timestamps: they derive a possibly downgraded view from the
// wall-clock time they are given.
package auth
