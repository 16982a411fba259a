package models

import (
	jose "github.com/go-jose/go-jose/v4"

	id "aegis/pkg/domain"
)

// WellKnown is the validated projection of an OpenID Connect discovery
// document plus the RS256 signature keys of its JWKS.
type WellKnown struct {
	Issuer                string
	JwksURI               id.URL
	AuthorizationEndpoint id.URL
	TokenEndpoint         id.URL
	UserInfoEndpoint      id.URL
	RevocationEndpoint    *id.URL
	EndSessionEndpoint    *id.URL
	GrantTypes            []id.GrantType
	Keys                  jose.JSONWebKeySet
}
