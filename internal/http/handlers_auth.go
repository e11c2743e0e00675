package http

import (
	"net/http"
	"time"

	"folhaponto/internal/auth"
	authmw "folhaponto/internal/middleware/auth"
)

const (
	refreshCookie     = "jid"
	refreshCookiePath = apiPrefix + "/auth"
)

func (s *Server) setRefreshCookie(w http.ResponseWriter, sess auth.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    sess.RefreshToken,
		Path:     refreshCookiePath,
		Expires:  sess.RefreshExpiresAt,
		MaxAge:   int(time.Until(sess.RefreshExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// handleRegister creates an account. The refresh cookie is not set: the
// caller is an admin registering someone else.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.auth.Register(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err, errorMessages{})
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.auth.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		s.writeServiceError(w, r, err, errorMessages{})
		return
	}
	s.setRefreshCookie(w, sess)
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(refreshCookie)
	if err != nil || c.Value == "" {
		writeError(w, http.StatusUnauthorized, "Refresh inválido")
		return
	}
	sess, err := s.auth.Refresh(r.Context(), c.Value)
	if err != nil {
		s.writeServiceError(w, r, err, errorMessages{})
		return
	}
	s.setRefreshCookie(w, sess)
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := authmw.ClaimsFromContext(r.Context())
	a, err := s.auth.Me(r.Context(), claims.AccountID())
	if err != nil {
		s.writeServiceError(w, r, err, errorMessages{notFound: "Usuário não encontrado"})
		return
	}
	writeJSON(w, http.StatusOK, a)
}
