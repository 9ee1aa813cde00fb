package http

import (
	"net/http"
	"strings"
	"time"

	"allowance/internal/log"
	"allowance/internal/services"
	"allowance/internal/session"
)

const sessionCookieName = "allowance_session"

// sessionHandler is a handler that runs with a live session.
type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

// sessionID reads the session id from the cookie, or from an
// "Authorization: Bearer" header for non-browser clients.
func sessionID(r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func (s *Server) requireSession(next sessionHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := sessionID(r)
		if id == "" {
			UnauthorizedError("authentication required").Write(w)
			return
		}
		sess, err := s.deps.Sessions.Get(id)
		if err != nil {
			clearSessionCookie(w, r)
			s.writeError(w, r, log.OpValidate, err)
			return
		}

		logger := log.FromContext(r.Context()).With(log.FieldUserID, sess.User.ID)
		ctx := session.NewContext(log.NewContext(r.Context(), logger), sess)
		next(w, r.WithContext(ctx), sess)
	})
}

func (s *Server) requireAdmin(next sessionHandler) http.Handler {
	return s.requireSession(func(w http.ResponseWriter, r *http.Request, sess *session.Session) {
		if !sess.IsAdmin() {
			s.writeError(w, r, log.OpValidate, services.ErrForbidden)
			return
		}
		next(w, r, sess)
	})
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	User      userView  `json:"user"`
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, log.OpLogin, err)
		return
	}
	req.Email = sanitizeInput(req.Email)
	if req.Email == "" || req.Password == "" {
		s.writeError(w, r, log.OpLogin, unprocessable("email and password are required"))
		return
	}

	user, token, err := s.deps.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, log.OpLogin, err)
		return
	}
	sess, err := s.deps.Sessions.Create(token, user)
	if err != nil {
		s.writeError(w, r, log.OpLogin, err)
		return
	}

	log.FromContext(r.Context()).InfoContext(r.Context(), "User signed in",
		log.NewFields().
			WithUser(user.ID, user.RoleLevel).
			WithOperation(log.OpLogin).
			ToSlice()...)

	setSessionCookie(w, r, sess)
	NewJSONResponse().Body(loginResponse{
		User:      newUserView(user),
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt.UTC(),
	}).Write(w)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	s.deps.Sessions.Destroy(sess.ID)
	clearSessionCookie(w, r)
	log.FromContext(r.Context()).InfoContext(r.Context(), "User signed out", log.FieldOperation, log.OpLogout)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	NewJSONResponse().Body(struct {
		User      userView  `json:"user"`
		ExpiresAt time.Time `json:"expiresAt"`
	}{newUserView(sess.User), sess.ExpiresAt.UTC()}).Write(w)
}
