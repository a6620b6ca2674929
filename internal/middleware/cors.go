package middleware

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// CORS enforces the origin allowlist on the chat endpoints. A "*" entry
// admits any origin. Requests without an Origin header (curl, server to
// server) are not browser requests and pass through.
type CORS struct {
	allowAll bool
	origins  map[string]struct{}
	logger   *logrus.Logger
}

// NewCORS creates the CORS middleware from the configured allowlist
func NewCORS(allowedOrigins []string, logger *logrus.Logger) *CORS {
	c := &CORS{
		origins: make(map[string]struct{}),
		logger:  logger,
	}
	for _, o := range allowedOrigins {
		o = strings.TrimSpace(o)
		if o == "*" {
			c.allowAll = true
			continue
		}
		if o != "" {
			c.origins[o] = struct{}{}
		}
	}
	return c
}

// Allowed reports whether the given Origin value may call the API
func (c *CORS) Allowed(origin string) bool {
	if origin == "" || c.allowAll {
		return true
	}
	_, ok := c.origins[origin]
	return ok
}

// Middleware answers preflight requests and rejects disallowed origins
// before any other processing; a rejected request never reaches the rate
// limiter.
func (c *CORS) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if !c.Allowed(origin) {
			c.logger.WithFields(logrus.Fields{
				"origin": origin,
				"path":   r.URL.Path,
			}).Warn("Origin not allowed")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"origin not allowed"}`))
			return
		}

		if origin != "" {
			if c.allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "content-type")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
