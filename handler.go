package webfront

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// noCache forbids any caching of protocol responses.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
		next.ServeHTTP(w, r)
	})
}

// Routes returns the protocol endpoints, relative to the "<entry>/c/"
// sub-path. Mount it yourself or use [Service.Handler].
func (s *Service) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(noCache)

	r.Post("/basicLogin", s.handleBasicLogin)
	r.Post("/unsafeDirectLogin", s.handleUnsafeDirectLogin)
	r.Get("/refresh", s.handleRefresh)
	r.Post("/refresh", s.handleRefresh)
	r.Post("/impersonate", s.handleImpersonate)
	r.Get("/logout", s.handleLogout)
	r.Get("/startLogin", s.handleStartLogin)
	r.Post("/startLogin", s.handleStartLogin)

	return r
}

// Handler mounts the protocol under the configured entry path. Every
// other path is a 404: the host application mounts this next to its own
// routes.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Mount(s.cfg.EntryPath+"/c", s.Routes())
	return r
}
