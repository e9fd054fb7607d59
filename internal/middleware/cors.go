package middleware

import (
	"net/http"

	"github.com/rs/cors"
)

// CORSConfig lists the origins permitted to call the API.
type CORSConfig struct {
	AllowedOrigins []string
	MaxAge         int
}

// NewCORS wraps handlers with CORS handling. An empty origin list allows
// every origin.
func NewCORS(cfg CORSConfig) func(http.Handler) http.Handler {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 3600
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", CallerHeader, TraceHeader},
		ExposedHeaders: []string{TraceHeader},
		MaxAge:         maxAge,
	})
	return c.Handler
}
