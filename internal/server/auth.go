package server

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	sessionCookieName = "pocali_admin"
	sessionDuration   = 7 * 24 * time.Hour
	flashCookieName   = "pocali_flash"
)

// sessionStore holds active admin session tokens in memory.
// Sessions do not survive a restart; admins simply log in again.
type sessionStore struct {
	mu     sync.RWMutex
	tokens map[string]time.Time // token -> expiry
}

func newSessionStore() *sessionStore {
	return &sessionStore{tokens: make(map[string]time.Time)}
}

// create generates a new random session token, stores it, and returns it.
func (s *sessionStore) create() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := hex.EncodeToString(buf)
	expiry := time.Now().Add(sessionDuration)

	s.mu.Lock()
	s.tokens[token] = expiry
	// Drop expired tokens while holding the lock.
	now := time.Now()
	for t, exp := range s.tokens {
		if now.After(exp) {
			delete(s.tokens, t)
		}
	}
	s.mu.Unlock()
	return token, nil
}

// valid returns true if token exists and has not expired.
func (s *sessionStore) valid(token string) bool {
	s.mu.RLock()
	exp, ok := s.tokens[token]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		s.delete(token)
		return false
	}
	return true
}

// delete removes a session token (logout).
func (s *sessionStore) delete(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// adminAuth checks the shared admin password.
type adminAuth struct {
	password string
	hash     []byte
}

func newAdminAuth(password, hash string) *adminAuth {
	a := &adminAuth{password: password}
	if hash != "" {
		a.hash = []byte(hash)
	}
	return a
}

// enabled reports whether a credential is configured.
func (a *adminAuth) enabled() bool {
	return a.password != "" || len(a.hash) > 0
}

// check reports whether password is the admin password. Surrounding
// whitespace is ignored.
func (a *adminAuth) check(password string) bool {
	password = strings.TrimSpace(password)
	if len(a.hash) > 0 {
		return bcrypt.CompareHashAndPassword(a.hash, []byte(password)) == nil
	}
	if a.password == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
}

// isAdmin reports whether r carries a valid admin session cookie or HTTP
// Basic credentials with the admin password.
func (s *Server) isAdmin(r *http.Request) bool {
	if !s.admin.enabled() {
		return true
	}
	if c, err := r.Cookie(sessionCookieName); err == nil && s.sessions.valid(c.Value) {
		return true
	}
	if _, pass, ok := r.BasicAuth(); ok && s.admin.check(pass) {
		return true
	}
	return false
}

// requireAdmin rejects requests without admin credentials: browsers are
// redirected to the login page, other clients get 401.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.isAdmin(r) {
			next.ServeHTTP(w, r)
			return
		}
		if wantsHTML(r) {
			http.Redirect(w, r, "/admin/login", http.StatusSeeOther)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="pocali admin"`)
		writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}

// wantsHTML reports whether the client is a browser expecting an HTML page.
func wantsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return true
	}
	for _, part := range strings.Split(accept, ",") {
		// strip quality value: "text/html;q=0.9" → "text/html"
		mt, _, _ := strings.Cut(part, ";")
		switch strings.TrimSpace(mt) {
		case "text/html", "text/*", "*/*":
			return true
		}
	}
	return false
}

// setFlash stores a one-shot message shown on the next rendered admin page.
func setFlash(w http.ResponseWriter, msg string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    url.QueryEscape(msg),
		Path:     "/admin",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlash returns and clears the pending flash messages.
func popFlash(w http.ResponseWriter, r *http.Request) []string {
	c, err := r.Cookie(flashCookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:    flashCookieName,
		Value:   "",
		Path:    "/admin",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	})
	msg, err := url.QueryUnescape(c.Value)
	if err != nil {
		return nil
	}
	return []string{msg}
}
