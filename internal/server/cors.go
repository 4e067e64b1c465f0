package server

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSMiddleware lets any browser origin call the relay.
func CORSMiddleware() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	})
}
