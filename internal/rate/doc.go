// Package rate implements the Redis-backed throttles guarding the
// login and refresh endpoints.
//
// Counters are fixed windows: INCR plus a conditional EXPIRE on the
// first hit. Key prefixes are "wfa:login:" (per identifier),
// "wfa:loginip:" (per IP) and "wfa:refresh:" (per IP).
package rate
