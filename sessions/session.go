package sessions

import (
	"slices"

	"github.com/jrsteele09/go-identity-session/autherrors"
	"github.com/jrsteele09/go-identity-session/token"
	"github.com/jrsteele09/go-identity-session/users"
)

// Session is the signed-in state of one browser: the user, the primary client
// token and any sister tokens for federated services. Sessions are immutable;
// every operation that changes one returns a new value.
type Session struct {
	user         *users.User
	accessToken  *token.AccessToken
	sisterTokens []*token.AccessToken
}

// New builds a session. At most one token may carry a given name.
func New(user *users.User, accessToken *token.AccessToken, sisterTokens []*token.AccessToken) (*Session, error) {
	if user == nil {
		return nil, autherrors.New("session requires a user")
	}
	if accessToken == nil {
		return nil, autherrors.New("session requires an access token")
	}

	seen := map[string]struct{}{accessToken.Name(): {}}
	for _, t := range sisterTokens {
		if _, dup := seen[t.Name()]; dup {
			return nil, autherrors.New("session already holds a token named %q", t.Name())
		}
		seen[t.Name()] = struct{}{}
	}

	return &Session{
		user:         user,
		accessToken:  accessToken,
		sisterTokens: slices.Clone(sisterTokens),
	}, nil
}

func (s *Session) User() *users.User               { return s.user }
func (s *Session) AccessToken() *token.AccessToken { return s.accessToken }

func (s *Session) SisterTokens() []*token.AccessToken {
	return slices.Clone(s.sisterTokens)
}

// Tokens returns the primary token followed by the sister tokens.
func (s *Session) Tokens() []*token.AccessToken {
	return append([]*token.AccessToken{s.accessToken}, s.sisterTokens...)
}

// SisterTokenFor returns the sister token with the given name, or nil.
func (s *Session) SisterTokenFor(name string) *token.AccessToken {
	for _, t := range s.sisterTokens {
		if t.Name() == name {
			return t
		}
	}
	return nil
}
