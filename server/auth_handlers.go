package server

import (
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-identity-session/token"
	"github.com/rs/zerolog/log"
)

const (
	noticeCookieName = "identity_notice"
	signedOutNotice  = "You have been signed out."
)

// CompleteSignIn is called by the sign-in flow once the provider has handed
// over credentials and claims. It stores the new session under a fresh session
// id, runs the OnSignIn hook and redirects to the remembered path.
func (s *Server) CompleteSignIn(w http.ResponseWriter, r *http.Request, credentials token.Credentials, claims map[string]any) error {
	session, err := s.manager.FromProviderCredentials(credentials, claims)
	if err != nil {
		return err
	}

	sessionID, err := s.store.Rotate(w, s.manager.Dump(session))
	if err != nil {
		return err
	}
	log.Ctx(r.Context()).Info().
		Str("user_id", session.User().ID()).
		Str("session_id", sessionID).
		Msg("signed in")

	if s.onSignIn != nil {
		s.onSignIn(session)
	}

	http.Redirect(w, r, returnToPath(w, r, "/"), http.StatusFound)
	return nil
}

// SignOutHandler drops the session and sends the browser to the provider so the
// provider-side session ends too.
func (s *Server) SignOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !SignedIn(r) {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}

		s.store.Clear(w)
		http.SetCookie(w, &http.Cookie{
			Name:     noticeCookieName,
			Value:    url.QueryEscape(signedOutNotice),
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   60,
		})

		returnTo := url.URL{Scheme: getScheme(r), Host: r.Host, Path: "/"}
		http.Redirect(w, r, s.logout.LogoutURL(returnTo.String()), http.StatusFound)
	}
}

// FailureHandler is where the sign-in flow lands when the provider refuses.
func (s *Server) FailureHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		message := r.URL.Query().Get("message")
		if message == "" {
			message = "Sign in failed"
		}
		http.Error(w, message, http.StatusForbidden)
	}
}
