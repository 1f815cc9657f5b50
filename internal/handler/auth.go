package handler

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// requireAdmin is middleware that checks HTTP basic credentials against the
// configured admin user and bcrypt password hash.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.config.AdminPasswordHash) == 0 {
			http.Error(w, "admin access is disabled", http.StatusForbidden)
			return
		}
		user, password, ok := r.BasicAuth()
		if !ok || !h.checkAdmin(user, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="assessor admin", charset="UTF-8"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) checkAdmin(user, password string) bool {
	userOK := len(user) == len(h.config.AdminUser) &&
		subtle.ConstantTimeCompare([]byte(user), []byte(h.config.AdminUser)) == 1
	if err := bcrypt.CompareHashAndPassword(h.config.AdminPasswordHash, []byte(password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			slog.Error("admin password check failed", "error", err)
		}
		return false
	}
	return userOK
}

// HashPassword returns the bcrypt hash of an admin password.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}
