package main

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireAPIKey validates the bearer token before a request reaches its
// handler.
func (a *app) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Lock the server down if the operator forgot to set the key.
		// 500 rather than 401 makes it obvious during deployment that
		// this is a misconfiguration, not a bad token.
		if a.cfg.APIKey == "" {
			http.Error(w, "Server configuration error: API_SECRET_KEY not set", http.StatusInternalServerError)
			return
		}

		authHeader := r.Header.Get("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

		// Constant-time compare: response latency carries no information
		// about how many leading characters of a guess were right.
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.cfg.APIKey)) != 1 {
			http.Error(w, `{"error": "Unauthorized: Invalid or missing API Key"}`, http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}
