package token

import (
	"github.com/jrsteele09/go-identity-session/autherrors"
	"github.com/jrsteele09/go-identity-session/internal/utils"
	"golang.org/x/oauth2"
)

// Credentials is the bag handed over by the authorization-code exchange.
// Zero values mean absent.
type Credentials struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	CreatedAt    int64  `json:"created_at,omitempty"`
}

// CredentialsFromOAuth2 converts the result of an oauth2 exchange. Providers
// that report created_at (Doorkeeper does) keep their own clock; the rest fall
// back to the local one.
func CredentialsFromOAuth2(tok *oauth2.Token) Credentials {
	c := Credentials{
		Token:        tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
	}
	if createdAt, ok := utils.ToInt64(tok.Extra("created_at")); ok {
		c.CreatedAt = createdAt
	}
	if c.ExpiresIn == 0 {
		if expiresIn, ok := utils.ToInt64(tok.Extra("expires_in")); ok {
			c.ExpiresIn = expiresIn
		}
	}
	if c.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		c.ExpiresAt = tok.Expiry.Unix()
	}
	return c
}

// FromOAuth2Token builds an AccessToken from a token endpoint response.
func FromOAuth2Token(tok *oauth2.Token, p Provenance) (*AccessToken, error) {
	if tok == nil {
		return nil, autherrors.New("token response is empty")
	}
	return FromCredentials(CredentialsFromOAuth2(tok), p)
}
