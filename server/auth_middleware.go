package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-identity-session/autherrors"
	"github.com/jrsteele09/go-identity-session/cookiestore"
	"github.com/jrsteele09/go-identity-session/sessions"
	"github.com/jrsteele09/go-identity-session/users"
	"github.com/rs/zerolog/log"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeySession stores the loaded identity session
	ContextKeySession ContextKey = "identity_session"
	// ContextKeySessionID stores the id of the browser session
	ContextKeySessionID ContextKey = "identity_session_id"
)

const (
	returnToCookieName = "identity_return_to"
	returnToMaxAge     = 10 * time.Minute
)

// CurrentSession returns the identity session loaded for the request, or nil.
func CurrentSession(r *http.Request) *sessions.Session {
	s, _ := r.Context().Value(ContextKeySession).(*sessions.Session)
	return s
}

// CurrentUser returns the signed-in user, or nil.
func CurrentUser(r *http.Request) *users.User {
	if s := CurrentSession(r); s != nil {
		return s.User()
	}
	return nil
}

func SignedIn(r *http.Request) bool {
	return CurrentSession(r) != nil
}

// SessionMiddleware loads the identity session from the session cookie,
// refreshing it when its token needs it. Sessions that can't be resumed are
// dropped and the request continues signed out; unexpected failures are also
// dropped but answered with a 500.
func (s *Server) SessionMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.Ctx(r.Context())

		payload, sessionID, err := s.store.Read(r)
		if errors.Is(err, cookiestore.ErrNoSession) {
			next(w, r)
			return
		}
		if err != nil {
			logger.Warn().Err(err).Msg("discarding unreadable session cookie")
			s.store.Clear(w)
			next(w, r)
			return
		}

		session, refreshed, err := s.manager.LoadFresh(r.Context(), payload)
		if err != nil {
			s.store.Clear(w)
			if autherrors.IsRecoverable(err) {
				logger.Info().Err(err).Msg("identity session reset")
				next(w, r)
				return
			}
			logger.Error().Err(err).Msg("identity session failed to load")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		if refreshed {
			if err := s.store.Write(w, s.manager.Dump(session), sessionID); err != nil {
				logger.Error().Err(err).Msg("failed to store refreshed session")
			}
		}

		ctx := context.WithValue(r.Context(), ContextKeySession, session)
		ctx = context.WithValue(ctx, ContextKeySessionID, sessionID)
		next(w, r.WithContext(ctx))
	}
}

// RequireUser only lets signed-in users through. Other requests get the not
// authorized response and, for page loads, the path is remembered for after
// sign-in.
func (s *Server) RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !SignedIn(r) {
			s.notAuthorized(w, r)
			return
		}
		next(w, r)
	}
}

// RequireAdmin only lets signed-in users with the admin role through.
func (s *Server) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if user := CurrentUser(r); user == nil || !user.Admin() {
			s.notAuthorized(w, r)
			return
		}
		next(w, r)
	}
}

func (s *Server) notAuthorized(w http.ResponseWriter, r *http.Request) {
	rememberReturnTo(w, r)
	http.Error(w, "Not authorized", http.StatusNotFound)
}

// rememberReturnTo stores the current path so the user can be sent back to it
// after signing in.
func rememberReturnTo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || !acceptsHTML(r) || strings.HasPrefix(r.URL.Path, "/auth/") {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     returnToCookieName,
		Value:    r.URL.RequestURI(),
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(returnToMaxAge.Seconds()),
	})
}

// returnToPath removes and returns the remembered path, or fallback.
func returnToPath(w http.ResponseWriter, r *http.Request, fallback string) string {
	cookie, err := r.Cookie(returnToCookieName)
	if err != nil {
		return fallback
	}
	http.SetCookie(w, &http.Cookie{Name: returnToCookieName, Value: "", Path: "/", MaxAge: -1})

	// Only local paths, never another host.
	if !strings.HasPrefix(cookie.Value, "/") || strings.HasPrefix(cookie.Value, "//") {
		return fallback
	}
	return cookie.Value
}

func acceptsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return accept == "" || strings.Contains(accept, "text/html") || strings.Contains(accept, "*/*")
}
