package server

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-identity-session/autherrors"
	"github.com/jrsteele09/go-identity-session/cookiestore"
	"github.com/jrsteele09/go-identity-session/internal/config"
	"github.com/jrsteele09/go-identity-session/sessions"
)

// LogoutURLBuilder builds the provider URL that ends the provider-side session.
type LogoutURLBuilder interface {
	LogoutURL(returnTo string) string
}

// OnSignIn is called with the new session after every successful sign-in.
type OnSignIn func(*sessions.Session)

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	routes   []string
	manager  *sessions.Manager
	store    *cookiestore.Store
	logout   LogoutURLBuilder
	onSignIn OnSignIn
}

type Option func(*Server)

func WithOnSignIn(hook OnSignIn) Option {
	return func(s *Server) {
		s.onSignIn = hook
	}
}

func New(cfg config.EnvConfig, manager *sessions.Manager, store *cookiestore.Store, logout LogoutURLBuilder, options ...Option) (*Server, error) {
	if manager == nil {
		return nil, autherrors.New("[Server New] session manager is required")
	}
	if store == nil {
		return nil, autherrors.New("[Server New] cookie store is required")
	}
	if logout == nil {
		return nil, autherrors.New("[Server New] logout URL builder is required")
	}

	s := &Server{
		env:     cfg.GetEnv(),
		mux:     http.NewServeMux(),
		manager: manager,
		store:   store,
		logout:  logout,
	}
	for _, opt := range options {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	var displayMethod string
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		displayMethod = color + paddedMethod + ResetColor
	} else {
		displayMethod = Gray + paddedMethod + ResetColor
	}
	log.Printf("[%-19s] %s\n", displayMethod, path)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
