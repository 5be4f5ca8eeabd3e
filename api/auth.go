package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"clxtag/logging"
)

// keyChecker verifies the X-API-Key header against a bcrypt hash. The last
// accepted key is remembered so steady clients skip the bcrypt cost.
type keyChecker struct {
	hash []byte

	mu       sync.Mutex
	accepted []byte
}

func newKeyChecker(hash string) *keyChecker {
	return &keyChecker{hash: []byte(hash)}
}

func (k *keyChecker) check(key string) bool {
	if key == "" {
		return false
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.accepted != nil && subtle.ConstantTimeCompare(k.accepted, []byte(key)) == 1 {
		return true
	}
	if bcrypt.CompareHashAndPassword(k.hash, []byte(key)) != nil {
		return false
	}
	k.accepted = []byte(key)
	return true
}

func requestKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func (k *keyChecker) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !k.check(requestKey(r)) {
			logging.DebugLog("api", "rejected %s %s from %s: bad api key", r.Method, r.URL.Path, r.RemoteAddr)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid or missing API key"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HashKey returns the bcrypt hash stored as api.api_key_hash.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
