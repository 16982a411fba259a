package models

import (
	"time"

	jose "github.com/go-jose/go-jose/v4"

	id "aegis/pkg/domain"
)

// ResourceTypeRealm is the type discriminator carried by realm resources.
const ResourceTypeRealm = "Realm"

// ResourceMetadata is the write-side result returned for every successful
// command.
type ResourceMetadata struct {
	ID         id.Label    `json:"id"`
	Rev        int64       `json:"rev"`
	Types      []string    `json:"types"`
	Deprecated bool        `json:"deprecated"`
	CreatedAt  time.Time   `json:"createdAt"`
	CreatedBy  id.Identity `json:"createdBy"`
	UpdatedAt  time.Time   `json:"updatedAt"`
	UpdatedBy  id.Identity `json:"updatedBy"`
}

// Endpoints groups the provider endpoints of an active realm.
type Endpoints struct {
	Authorization id.URL  `json:"authorizationEndpoint"`
	Token         id.URL  `json:"tokenEndpoint"`
	UserInfo      id.URL  `json:"userInfoEndpoint"`
	Revocation    *id.URL `json:"revocationEndpoint,omitempty"`
	EndSession    *id.URL `json:"endSessionEndpoint,omitempty"`
}

// Resource is the read-side projection of a realm kept in the index. For a
// deprecated realm Endpoints is nil and the key set is empty.
type Resource struct {
	ID           id.Label           `json:"id"`
	Rev          int64              `json:"rev"`
	Types        []string           `json:"types"`
	Deprecated   bool               `json:"deprecated"`
	Name         string             `json:"name"`
	OpenIDConfig id.URL             `json:"openIdConfig"`
	Logo         *id.URL            `json:"logo,omitempty"`
	Issuer       string             `json:"issuer,omitempty"`
	Keys         jose.JSONWebKeySet `json:"keys"`
	GrantTypes   []id.GrantType     `json:"grantTypes,omitempty"`
	Endpoints    *Endpoints         `json:"endpoints,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	CreatedBy    id.Identity        `json:"createdBy"`
	UpdatedAt    time.Time          `json:"updatedAt"`
	UpdatedBy    id.Identity        `json:"updatedBy"`
}

// Metadata projects the resource to its write-side metadata.
func (r *Resource) Metadata() ResourceMetadata {
	return ResourceMetadata{
		ID:         r.ID,
		Rev:        r.Rev,
		Types:      r.Types,
		Deprecated: r.Deprecated,
		CreatedAt:  r.CreatedAt,
		CreatedBy:  r.CreatedBy,
		UpdatedAt:  r.UpdatedAt,
		UpdatedBy:  r.UpdatedBy,
	}
}

// ResourceOf projects a state to its resource. Initial has no resource.
func ResourceOf(s State) (*Resource, bool) {
	switch c := s.(type) {
	case Active:
		return &Resource{
			ID:           c.ID,
			Rev:          c.Revision,
			Types:        []string{ResourceTypeRealm},
			Deprecated:   false,
			Name:         c.Name,
			OpenIDConfig: c.OpenIDConfig,
			Logo:         c.Logo,
			Issuer:       c.Issuer,
			Keys:         c.Keys,
			GrantTypes:   c.GrantTypes,
			Endpoints: &Endpoints{
				Authorization: c.AuthorizationEndpoint,
				Token:         c.TokenEndpoint,
				UserInfo:      c.UserInfoEndpoint,
				Revocation:    c.RevocationEndpoint,
				EndSession:    c.EndSessionEndpoint,
			},
			CreatedAt: c.CreatedAt,
			CreatedBy: c.CreatedBy,
			UpdatedAt: c.UpdatedAt,
			UpdatedBy: c.UpdatedBy,
		}, true
	case Deprecated:
		return &Resource{
			ID:           c.ID,
			Rev:          c.Revision,
			Types:        []string{ResourceTypeRealm},
			Deprecated:   true,
			Name:         c.Name,
			OpenIDConfig: c.OpenIDConfig,
			Logo:         c.Logo,
			CreatedAt:    c.CreatedAt,
			CreatedBy:    c.CreatedBy,
			UpdatedAt:    c.UpdatedAt,
			UpdatedBy:    c.UpdatedBy,
		}, true
	default:
		return nil, false
	}
}
