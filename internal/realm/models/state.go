package models

import (
	"time"

	jose "github.com/go-jose/go-jose/v4"

	id "aegis/pkg/domain"
)

// State is the closed family of realm states. A realm starts in Initial,
// becomes Active on creation, and may move between Active and Deprecated
// for the rest of its life.
type State interface {
	isState()
	// Rev is the revision of the last applied event, 0 for Initial.
	Rev() int64
}

// Initial is the state of a realm with no events.
type Initial struct{}

func (Initial) isState()   {}
func (Initial) Rev() int64 { return 0 }

// Active is a realm accepting tokens issued by its provider.
type Active struct {
	ID                    id.Label           `json:"id"`
	Revision              int64              `json:"rev"`
	Name                  string             `json:"name"`
	OpenIDConfig          id.URL             `json:"openIdConfig"`
	Issuer                string             `json:"issuer"`
	Keys                  jose.JSONWebKeySet `json:"keys"`
	GrantTypes            []id.GrantType     `json:"grantTypes"`
	Logo                  *id.URL            `json:"logo,omitempty"`
	AuthorizationEndpoint id.URL             `json:"authorizationEndpoint"`
	TokenEndpoint         id.URL             `json:"tokenEndpoint"`
	UserInfoEndpoint      id.URL             `json:"userInfoEndpoint"`
	RevocationEndpoint    *id.URL            `json:"revocationEndpoint,omitempty"`
	EndSessionEndpoint    *id.URL            `json:"endSessionEndpoint,omitempty"`
	CreatedAt             time.Time          `json:"createdAt"`
	CreatedBy             id.Identity        `json:"createdBy"`
	UpdatedAt             time.Time          `json:"updatedAt"`
	UpdatedBy             id.Identity        `json:"updatedBy"`
}

func (Active) isState()     {}
func (a Active) Rev() int64 { return a.Revision }

// Deprecated is a frozen realm. It keeps its metadata but contributes no
// keys to token verification.
type Deprecated struct {
	ID           id.Label    `json:"id"`
	Revision     int64       `json:"rev"`
	Name         string      `json:"name"`
	OpenIDConfig id.URL      `json:"openIdConfig"`
	Logo         *id.URL     `json:"logo,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	CreatedBy    id.Identity `json:"createdBy"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	UpdatedBy    id.Identity `json:"updatedBy"`
}

func (Deprecated) isState()     {}
func (d Deprecated) Rev() int64 { return d.Revision }
