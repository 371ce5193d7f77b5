package server

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/yawon3/pocali-backend/internal/breaker"
	"github.com/yawon3/pocali-backend/internal/card"
	"github.com/yawon3/pocali-backend/internal/catalog"
	"github.com/yawon3/pocali-backend/internal/feed"
	"github.com/yawon3/pocali-backend/internal/logging"
	"github.com/yawon3/pocali-backend/internal/metrics"
	"github.com/yawon3/pocali-backend/internal/social"
	"github.com/yawon3/pocali-backend/internal/validation"
)

const (
	userCookieName = "myUUID"
	userCookieAge  = 365 * 24 * time.Hour

	maxJSONBody   = 1 << 20  // 1 MiB
	maxUploadBody = 32 << 20 // 32 MiB

	defaultFeedLimit = 50
	maxFeedLimit     = 500
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// decodeJSON reads a size-limited JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v)
}

// storeError maps a social store error to a response.
func storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, social.ErrInvalidUserID) {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	logging.Error().Err(err).Msg("social store")
	writeError(w, http.StatusInternalServerError, "internal error")
}

// handleHealth returns a simple liveness response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRegister handles POST /api/register: it creates an anonymous user and
// remembers it in a long-lived cookie.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	id, err := s.store.Register(r.Context())
	if err != nil {
		storeError(w, err)
		return
	}
	metrics.UsersRegistered.Inc()

	http.SetCookie(w, &http.Cookie{
		Name:     userCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(userCookieAge.Seconds()),
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: s.opts.CookieSameSite,
	})
	writeJSON(w, http.StatusOK, map[string]string{"user_id": id})
}

// handleGetUser handles GET /api/user/{uid}. The collection is returned as
// the stored JSON text, not as a nested object.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	c, err := s.store.Collection(r.Context(), uid)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": uid,
		"data":    string(c.Data),
		"locked":  c.Locked,
	})
}

type saveUserRequest struct {
	Data json.RawMessage `json:"data"`
}

// handleSaveUser handles POST /api/user/{uid}: it replaces the collection.
func (s *Server) handleSaveUser(w http.ResponseWriter, r *http.Request) {
	var req saveUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.store.SaveCollection(r.Context(), mux.Vars(r)["uid"], compactJSON(req.Data)); err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// compactJSON strips insignificant whitespace; input that cannot be
// compacted is returned unchanged and left to the store to reject.
func compactJSON(data []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return data
	}
	return buf.Bytes()
}

type lockRequest struct {
	Locked *bool `json:"locked" validate:"required"`
}

// handleLockUser handles POST /api/user/{uid}/lock.
func (s *Server) handleLockUser(w http.ResponseWriter, r *http.Request) {
	var req lockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "locked missing")
		return
	}
	if err := s.store.SetLocked(r.Context(), mux.Vars(r)["uid"], *req.Locked); err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "locked": *req.Locked})
}

type friendRequest struct {
	Me     string `json:"me" validate:"required"`
	Friend string `json:"friend" validate:"required"`
}

// handleAddFriend handles POST /api/friends.
func (s *Server) handleAddFriend(w http.ResponseWriter, r *http.Request) {
	var req friendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validation.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "uuid missing")
		return
	}
	if err := s.store.AddFriend(r.Context(), req.Me, req.Friend); err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleFriends handles GET /api/friends/{uid}.
func (s *Server) handleFriends(w http.ResponseWriter, r *http.Request) {
	friends, err := s.store.Friends(r.Context(), mux.Vars(r)["uid"])
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, friends)
}

// handleFriendCollection handles GET /api/friend/{fid}/collection. Locked
// collections are refused.
func (s *Server) handleFriendCollection(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.Collection(r.Context(), mux.Vars(r)["fid"])
	if err != nil {
		storeError(w, err)
		return
	}
	if c.Locked {
		writeError(w, http.StatusForbidden, "collection is locked")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": c.Data})
}

// images returns the assembled catalog, writing an error response on
// failure.
func (s *Server) images(w http.ResponseWriter, r *http.Request) ([]card.Metadata, bool) {
	images, err := s.catalog.Images(r.Context())
	if err != nil {
		logging.Error().Err(err).Str("backend", s.catalog.Backend()).Msg("list images")
		if errors.Is(err, breaker.ErrOpen) {
			writeError(w, http.StatusServiceUnavailable, "image storage unavailable")
		} else {
			writeError(w, http.StatusBadGateway, "could not list images")
		}
		return nil, false
	}
	return images, true
}

// handleImages handles GET /api/images.
func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	images, ok := s.images(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, images)
}

// handleFeed serves the newest cards as an Atom feed.
// Query params: ?limit=N (default 50, max 500).
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	limit := defaultFeedLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxFeedLimit)
	}

	images, ok := s.images(w, r)
	if !ok {
		return
	}
	f := feed.FromCatalog(images, feed.Options{
		BaseURL: s.baseURL(r),
		Limit:   limit,
		Updated: time.Now(),
	})
	data, err := f.MarshalToXML()
	if err != nil {
		logging.Error().Err(err).Msg("marshal feed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", feed.MIMEAtomFeed+"; charset=utf-8")
	_, _ = w.Write(data)
}

// baseURL returns the configured public URL, or else the scheme and host
// the request was addressed to, honouring X-Forwarded-Proto from a reverse
// proxy.
func (s *Server) baseURL(r *http.Request) string {
	if s.opts.PublicURL != "" {
		return strings.TrimRight(s.opts.PublicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

// handleIndex renders the gallery page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	images, err := s.catalog.Images(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("list images for index")
		http.Error(w, "could not list images", http.StatusBadGateway)
		return
	}
	s.render(w, "index.html", map[string]any{"Images": images})
}

// render executes a page template.
func (s *Server) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		logging.Error().Err(err).Str("template", name).Msg("render")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// handleAdminLoginPage serves the admin login form.
func (s *Server) handleAdminLoginPage(w http.ResponseWriter, r *http.Request) {
	if !s.admin.enabled() {
		http.Redirect(w, r, "/admin/upload", http.StatusSeeOther)
		return
	}
	if c, err := r.Cookie(sessionCookieName); err == nil && s.sessions.valid(c.Value) {
		http.Redirect(w, r, "/admin/upload", http.StatusSeeOther)
		return
	}
	s.render(w, "admin_login.html", map[string]any{"Flashes": popFlash(w, r)})
}

// handleAdminLoginPost processes the login form.
func (s *Server) handleAdminLoginPost(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if !s.admin.enabled() {
		http.Redirect(w, r, "/admin/upload", http.StatusSeeOther)
		return
	}
	if !s.admin.check(r.FormValue("password")) {
		logging.Warn().Str("remote", r.RemoteAddr).Msg("admin login failed")
		s.render(w, "admin_login.html", map[string]any{"Flashes": []string{"Incorrect password."}})
		return
	}

	token, err := s.sessions.create()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionDuration.Seconds()),
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	setFlash(w, "Logged in.")
	http.Redirect(w, r, "/admin/upload", http.StatusSeeOther)
}

// handleAdminLogout clears the admin session.
func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		s.sessions.delete(c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:    sessionCookieName,
		Value:   "",
		Path:    "/",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	})
	http.Redirect(w, r, "/admin/login", http.StatusSeeOther)
}

// handleUploadPage serves the upload form.
func (s *Server) handleUploadPage(w http.ResponseWriter, r *http.Request) {
	next, err := s.catalog.NextUniqueID(r.Context())
	if err != nil {
		logging.Warn().Err(err).Msg("next unique id")
	}
	s.render(w, "admin_upload.html", map[string]any{
		"Flashes": popFlash(w, r),
		"NextID":  next,
	})
}

// handleUpload handles POST /admin/upload (multipart fields "file",
// "custom_filename" and "file_type"). Browsers get a flash message and a
// redirect back to the form; other clients get JSON.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	browser := wantsHTML(r)
	fail := func(status int, msg string) {
		if browser {
			setFlash(w, msg)
			http.Redirect(w, r, "/admin/upload", http.StatusSeeOther)
			return
		}
		writeError(w, status, msg)
	}

	if !s.catalog.CanUpload() {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		fail(http.StatusNotImplemented, "uploads are not supported by the configured storage")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		fail(http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil || len(r.MultipartForm.Value["custom_filename"]) == 0 {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		fail(http.StatusBadRequest, "required fields are missing")
		return
	}
	defer file.Close()

	entry, err := s.catalog.Upload(r.Context(), catalog.UploadRequest{
		CustomName:       r.FormValue("custom_filename"),
		SubCategory:      r.FormValue("file_type"),
		OriginalFilename: header.Filename,
		Body:             file,
	})
	switch {
	case err == nil:
	case errors.Is(err, catalog.ErrInvalidFile):
		metrics.Uploads.WithLabelValues("rejected").Inc()
		fail(http.StatusBadRequest, "invalid file")
		return
	case errors.Is(err, catalog.ErrExists):
		metrics.Uploads.WithLabelValues("rejected").Inc()
		fail(http.StatusConflict, "a file with that name already exists")
		return
	case errors.Is(err, catalog.ErrIDsExhausted):
		metrics.Uploads.WithLabelValues("rejected").Inc()
		fail(http.StatusConflict, "no unique id left after the highest stored one")
		return
	default:
		metrics.Uploads.WithLabelValues("error").Inc()
		logging.Error().Err(err).Msg("upload")
		fail(http.StatusBadGateway, "upload failed")
		return
	}

	metrics.Uploads.WithLabelValues("ok").Inc()
	if browser {
		setFlash(w, "Uploaded: "+entry.Name)
		http.Redirect(w, r, "/admin/upload", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"ok":           true,
		"filename":     entry.Name,
		"sub_category": entry.SourceCategory,
		"url":          entry.URL,
	})
}
