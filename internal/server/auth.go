package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/bryan-buckman/roadtrip/internal/database"
	"github.com/bryan-buckman/roadtrip/internal/model"
)

// AuthCookieName is the session cookie set by /api/login.
const AuthCookieName = "roadtrip_auth"

type userKey struct{}

// UserFromContext returns the user attached by the auth middleware.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey{}).(*model.User)
	return u, ok
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(AuthCookieName)
		if err != nil || c.Value == "" {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}
		user, err := s.db.GetUserByCookie(r.Context(), c.Value)
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "login required")
			return
		}
		if err != nil {
			s.internalError(w, r, "lookup session", err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}

	user, err := s.db.GetUser(r.Context(), req.Username)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		s.internalError(w, r, "get user", err)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	cookie := uuid.NewString()
	if err := s.db.SetAuthCookie(r.Context(), user.Username, cookie); err != nil {
		s.internalError(w, r, "set auth cookie", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     AuthCookieName,
		Value:    cookie,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	s.logger.WithField("user", user.Username).Info("User logged in")
	writeJSON(w, http.StatusOK, map[string]string{"username": user.Username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	user, _ := UserFromContext(r.Context())
	if err := s.db.SetAuthCookie(r.Context(), user.Username, ""); err != nil {
		s.internalError(w, r, "clear auth cookie", err)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: AuthCookieName, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HashPassword returns the bcrypt hash stored for a new user.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}
