// Package middleware exposes HTTP guards built on a webfront.Service.
//
// [Inject] makes the request's authentication available downstream;
// [RequireLevel] and its shorthands gate routes on a minimum strength
// level. All decisions delegate to Service.ReadAuth; this package never
// touches tokens or cookies itself.
package middleware
