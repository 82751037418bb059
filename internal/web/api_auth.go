package web

import (
	"net/http"
	"time"

	appLog "photocal/internal/log"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.Gate == nil {
		writeError(w, http.StatusNotFound, "sign-in is disabled")
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, exp, err := s.deps.Gate.Login(req.Email, req.Password)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.deps.Gate.SetCookie(w, token, exp)
	appLog.Info("web: signed in")
	writeJSON(w, http.StatusOK, loginResponse{Email: req.Email, ExpiresAt: exp})
}

// handleLogout clears the session; the kiosk calls it on Escape.
func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Gate != nil {
		s.deps.Gate.ClearCookie(w)
	}
	w.WriteHeader(http.StatusNoContent)
}
