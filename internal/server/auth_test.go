package server

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestAdmin_Disabled(t *testing.T) {
	// When no password is set, the admin pages are open.
	env := newTestServer(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/admin/upload", nil)
	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestAdmin_MissingCredentials_API(t *testing.T) {
	// Non-browser clients without credentials → 401, not redirect.
	env := newTestServer(t, Options{AdminPassword: "secret"})

	req := httptest.NewRequest(http.MethodPost, "/admin/upload", nil)
	req.Header.Set("Accept", "application/json")
	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate header, got none")
	}
}

func TestAdmin_MissingCredentials_Browser(t *testing.T) {
	// Browser requests without credentials → redirect to the login page.
	env := newTestServer(t, Options{AdminPassword: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/admin/upload", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)

	if rr.Code != http.StatusSeeOther {
		t.Errorf("expected 303 redirect, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/admin/login" {
		t.Errorf("expected Location: /admin/login, got %q", loc)
	}
}

func TestAdmin_BasicAuth(t *testing.T) {
	env := newTestServer(t, Options{AdminPassword: "secret"})

	for pass, want := range map[string]int{"secret": http.StatusOK, "wrong": http.StatusUnauthorized} {
		req := httptest.NewRequest(http.MethodGet, "/admin/upload", nil)
		req.Header.Set("Accept", "application/json")
		req.SetBasicAuth("admin", pass)
		rr := httptest.NewRecorder()
		env.srv.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Errorf("password %q: expected %d, got %d", pass, want, rr.Code)
		}
	}
}

func TestAdmin_PublicRoutesStayOpen(t *testing.T) {
	env := newTestServer(t, Options{AdminPassword: "secret"})
	for _, path := range []string{"/", "/health", "/api/images", "/admin/login"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		env.srv.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}

// login posts the login form and returns the response.
func login(t *testing.T, env *testEnv, password string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"password": {password}}
	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "192.0.2.1:1234"
	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)
	return rr
}

func sessionCookie(rr *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	return nil
}

func TestAdmin_LoginFlow(t *testing.T) {
	env := newTestServer(t, Options{AdminPassword: "secret"})

	rr := login(t, env, "  secret ")
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("login: expected 303, got %d", rr.Code)
	}
	if loc := rr.Header().Get("Location"); loc != "/admin/upload" {
		t.Errorf("login redirect: got %q", loc)
	}
	c := sessionCookie(rr)
	if c == nil || c.Value == "" || !c.HttpOnly {
		t.Fatalf("session cookie: %+v", c)
	}

	// The session grants access to the upload page, which shows the flash.
	req := httptest.NewRequest(http.MethodGet, "/admin/upload", nil)
	req.AddCookie(c)
	for _, fc := range rr.Result().Cookies() {
		if fc.Name == flashCookieName {
			req.AddCookie(fc)
		}
	}
	page := httptest.NewRecorder()
	env.srv.ServeHTTP(page, req)
	if page.Code != http.StatusOK {
		t.Fatalf("upload page: expected 200, got %d", page.Code)
	}
	if !strings.Contains(page.Body.String(), "Logged in.") {
		t.Error("upload page lacks the login flash message")
	}

	// Logout invalidates the session.
	req = httptest.NewRequest(http.MethodGet, "/admin/logout", nil)
	req.AddCookie(c)
	out := httptest.NewRecorder()
	env.srv.ServeHTTP(out, req)
	if out.Code != http.StatusSeeOther {
		t.Errorf("logout: expected 303, got %d", out.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/upload", nil)
	req.Header.Set("Accept", "application/json")
	req.AddCookie(c)
	after := httptest.NewRecorder()
	env.srv.ServeHTTP(after, req)
	if after.Code != http.StatusUnauthorized {
		t.Errorf("after logout: expected 401, got %d", after.Code)
	}
}

func TestAdmin_LoginWrongPassword(t *testing.T) {
	env := newTestServer(t, Options{AdminPassword: "secret"})
	rr := login(t, env, "nope")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected form re-render (200), got %d", rr.Code)
	}
	if sessionCookie(rr) != nil {
		t.Error("session cookie set for wrong password")
	}
	if !strings.Contains(rr.Body.String(), "Incorrect password.") {
		t.Error("missing error message")
	}
}

func TestAdmin_PasswordHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	env := newTestServer(t, Options{AdminPassword: "ignored", AdminPasswordHash: string(hash)})

	if rr := login(t, env, "ignored"); sessionCookie(rr) != nil {
		t.Error("plain password accepted although a hash is configured")
	}
	if rr := login(t, env, "hunter2"); sessionCookie(rr) == nil {
		t.Error("hashed password rejected")
	}
}

func TestAdmin_LoginRateLimit(t *testing.T) {
	env := newTestServer(t, Options{AdminPassword: "secret", LoginRateLimit: 3})
	for i := 0; i < 3; i++ {
		if rr := login(t, env, "wrong"); rr.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i+1, rr.Code)
		}
	}
	if rr := login(t, env, "secret"); rr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429 after the limit, got %d", rr.Code)
	}
}

func TestWantsHTML(t *testing.T) {
	cases := map[string]bool{
		"":                                true,
		"text/html":                       true,
		"application/json":                false,
		"application/json, text/*;q=0.1": true,
		"*/*":                             true,
		"image/png":                       false,
	}
	for accept, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if accept != "" {
			req.Header.Set("Accept", accept)
		}
		if got := wantsHTML(req); got != want {
			t.Errorf("wantsHTML(%q): got %v, want %v", accept, got, want)
		}
	}
}
