package middleware

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/Strob0t/OnboardForge/internal/config"
)

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health":       true,
	"/health/ready": true,
}

const headerAPIKey = "X-API-Key"

// APIKeyAuth validates API keys against bcrypt hashes and binds the request
// to the key's tenant. EventSource and browser WebSocket clients cannot set
// headers, so stream endpoints also accept an api_key query parameter.
type APIKeyAuth struct {
	keys []config.APIKey

	// verified maps sha256(key) to tenant so bcrypt runs once per key.
	verified sync.Map
}

// NewAPIKeyAuth creates the authenticator for the configured keys.
func NewAPIKeyAuth(keys []config.APIKey) *APIKeyAuth {
	return &APIKeyAuth{keys: keys}
}

// Handler returns the middleware.
func (a *APIKeyAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		key := credential(r)
		if key == "" {
			writeAuthError(w, "authorization required")
			return
		}
		tenant, ok := a.tenantFor(key)
		if !ok {
			writeAuthError(w, "invalid api key")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithTenantID(r.Context(), tenant)))
	})
}

func (a *APIKeyAuth) tenantFor(key string) (string, bool) {
	sum := sha256.Sum256([]byte(key))
	if t, ok := a.verified.Load(sum); ok {
		return t.(string), true
	}
	for _, k := range a.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.Hash), []byte(key)) == nil {
			a.verified.Store(sum, k.TenantID)
			return k.TenantID, true
		}
	}
	return "", false
}

func credential(r *http.Request) string {
	if k := r.Header.Get(headerAPIKey); k != "" {
		return k
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if strings.HasSuffix(r.URL.Path, "/stream") || strings.HasSuffix(r.URL.Path, "/ws") {
		return r.URL.Query().Get("api_key")
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
