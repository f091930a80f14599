package webfront

import (
	"context"
	"net"
	"net/http"
)

type clientIPContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Service uses
// it for per-IP login throttling and audit events. The HTTP handler does
// this automatically from the request's remote address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func requestContext(r *http.Request) context.Context {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return WithClientIP(r.Context(), host)
}
