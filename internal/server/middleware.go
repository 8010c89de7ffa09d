package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// cors sets Access-Control-Allow-Origin from the live allow-list. A listed Origin is
// echoed back; any other caller gets the first listed origin, which browsers reject.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if allow := allowOrigin(r.Header.Get("Origin"), s.live.AllowedOrigins()); allow != "" {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allow)
			h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Add("Vary", "Origin")
		}
		next.ServeHTTP(w, r)
	})
}

func allowOrigin(origin string, allowed []string) string {
	if len(allowed) == 0 {
		return ""
	}
	origin = strings.TrimRight(origin, "/")
	for _, a := range allowed {
		if origin != "" && strings.EqualFold(strings.TrimRight(a, "/"), origin) {
			return origin
		}
	}
	return allowed[0]
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) observeWebhook(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveWebhook(status, time.Since(start))
	})
}

// mediaHandler serves sideloaded files under prefix. Directory listings and the
// download staging directory are not exposed.
func (s *Server) mediaHandler(prefix string) http.HandlerFunc {
	fileServer := http.StripPrefix(prefix, http.FileServer(http.Dir(s.config.Media.Directory)))
	return func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean("/" + strings.TrimPrefix(r.URL.Path, prefix))
		if name == "/" || strings.HasSuffix(r.URL.Path, "/") || strings.HasPrefix(name, "/.") {
			http.NotFound(w, r)
			return
		}
		if info, err := os.Stat(filepath.Join(s.config.Media.Directory, filepath.FromSlash(name))); err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		fileServer.ServeHTTP(w, r)
	}
}
