package www

import (
	"net/http"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"

	"github.com/olenive/petrivelte/store"
)

const sessionName = "petrivelte-session"

func newSessionStore(secret string) *sessions.CookieStore {
	if secret == "" {
		secret = "petrivelte-default-secret-change-me"
	}
	s := sessions.NewCookieStore([]byte(secret))
	s.Options.HttpOnly = true
	s.Options.Secure = false
	s.Options.SameSite = http.SameSiteLaxMode
	return s
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// identity returns the authenticated username, or "" when the request has no
// valid session. The username doubles as the owner identity on workers, nets
// and event routing.
func (h *Handlers) identity(r *http.Request) string {
	session, err := h.sessions.Get(r, sessionName)
	if err != nil {
		return ""
	}
	auth, ok := session.Values["authenticated"].(bool)
	if !ok || !auth {
		return ""
	}
	username, _ := session.Values["username"].(string)
	return username
}

func (h *Handlers) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.identity(r) == "" {
			jsonError(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "bad_request")
		return
	}

	user, err := h.db.GetUser(req.Username)
	if err != nil || !checkPassword(user.PasswordHash, req.Password) {
		jsonError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	session, _ := h.sessions.Get(r, sessionName)
	session.Values["authenticated"] = true
	session.Values["username"] = req.Username
	if err := session.Save(r, w); err != nil {
		jsonError(w, http.StatusInternalServerError, "session_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"identity": req.Username})
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := h.sessions.Get(r, sessionName)
	session.Values["authenticated"] = false
	session.Values["username"] = ""
	session.Save(r, w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) ensureDefaultUser(db *store.DB) {
	exists, err := db.UserExists()
	if err != nil || exists {
		return
	}
	hash, err := hashPassword("admin")
	if err != nil {
		return
	}
	db.CreateUser("admin", hash)
}
