package server

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-identity-session/internal/config"
	"github.com/rs/zerolog/log"
)

// MeResponse describes the signed-in user.
type MeResponse struct {
	ID                 string                `json:"id"`
	Email              *string               `json:"email"`
	Name               *string               `json:"name"`
	Roles              []string              `json:"roles"`
	Admin              bool                  `json:"admin"`
	UnregisteredTokens []config.SisterConfig `json:"unregistered_tokens"`
}

// MeHandler returns the current user. Chain it after RequireUser.
func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := CurrentSession(r)
		user := session.User()

		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(MeResponse{
			ID:                 user.ID(),
			Email:              user.Email(),
			Name:               user.Name(),
			Roles:              user.Roles(),
			Admin:              user.Admin(),
			UnregisteredTokens: s.manager.UnregisteredTokensFor(session),
		})
		if err != nil {
			log.Ctx(r.Context()).Error().Err(err).Msg("failed to write response")
		}
	}
}

// AdminIdentityResponse describes the identity configuration in effect.
type AdminIdentityResponse struct {
	Issuer     string   `json:"issuer"`
	TokenNames []string `json:"token_names"`
}

// AdminIdentityHandler shows which issuer and token slots sessions are bound
// to. Chain it after RequireAdmin.
func (s *Server) AdminIdentityHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(AdminIdentityResponse{
			Issuer:     s.manager.Issuer(),
			TokenNames: s.manager.Registry().Names(),
		})
		if err != nil {
			log.Ctx(r.Context()).Error().Err(err).Msg("failed to write response")
		}
	}
}
