package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// CORSConfig configures the CORS middleware. Empty lists take the defaults
// noted on each field.
type CORSConfig struct {
	// AllowOrigins lists origins allowed to call the API. "*" allows any.
	// Default: ["*"]
	AllowOrigins []string

	// AllowMethods default: ["GET", "POST", "OPTIONS"]
	AllowMethods []string

	// AllowHeaders default: ["Content-Type", "Authorization", "Last-Event-ID"]
	AllowHeaders []string

	ExposeHeaders []string

	AllowCredentials bool

	// MaxAge is the preflight cache lifetime in seconds. 0 leaves it unset.
	MaxAge int
}

// CORS returns HTTP middleware answering preflight requests and setting CORS
// headers, so a browser playground on another origin can reach the API.
// A nil cfg allows any origin.
func CORS(cfg *CORSConfig) func(http.Handler) http.Handler {
	if cfg == nil {
		cfg = &CORSConfig{}
	}
	origins := orDefault(cfg.AllowOrigins, "*")
	wildcard := slices.Contains(origins, "*")
	methods := strings.Join(orDefault(cfg.AllowMethods, "GET", "POST", "OPTIONS"), ", ")
	headers := strings.Join(orDefault(cfg.AllowHeaders, "Content-Type", "Authorization", "Last-Event-ID"), ", ")
	exposed := strings.Join(cfg.ExposeHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			origin := r.Header.Get("Origin")
			if !wildcard {
				h.Add("Vary", "Origin")
			}

			switch {
			case wildcard && (origin == "" || !cfg.AllowCredentials):
				h.Set("Access-Control-Allow-Origin", "*")
			case wildcard || (origin != "" && slices.Contains(origins, origin)):
				// Credentials forbid "*", so the caller's origin is echoed.
				h.Set("Access-Control-Allow-Origin", origin)
			}
			if cfg.AllowCredentials && h.Get("Access-Control-Allow-Origin") != "" {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				h.Set("Access-Control-Allow-Methods", methods)
				h.Set("Access-Control-Allow-Headers", headers)
				if exposed != "" {
					h.Set("Access-Control-Expose-Headers", exposed)
				}
				if cfg.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			if exposed != "" {
				h.Set("Access-Control-Expose-Headers", exposed)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func orDefault(list []string, def ...string) []string {
	if len(list) == 0 {
		return def
	}
	return list
}
