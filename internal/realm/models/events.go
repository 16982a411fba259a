package models

import (
	"time"

	jose "github.com/go-jose/go-jose/v4"

	id "aegis/pkg/domain"
)

// TagRealm is the journal tag carried by every realm event. The projector
// tails the journal filtered by this tag.
const TagRealm = "realm"

// Event is the closed family of realm events.
type Event interface {
	isEvent()
	RealmID() id.Label
	Revision() int64
	At() time.Time
	By() id.Identity
}

// RealmCreated is the first event of a realm, rev 1.
type RealmCreated struct {
	ID                    id.Label           `json:"id"`
	Rev                   int64              `json:"rev"`
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
	Instant               time.Time          `json:"instant"`
	Subject               id.Identity        `json:"subject"`
}

func (RealmCreated) isEvent()             {}
func (e RealmCreated) RealmID() id.Label { return e.ID }
func (e RealmCreated) Revision() int64   { return e.Rev }
func (e RealmCreated) At() time.Time     { return e.Instant }
func (e RealmCreated) By() id.Identity   { return e.Subject }

// RealmUpdated carries the full refreshed shape of the realm, rev > 1.
// Applying it to a Deprecated realm revives it.
type RealmUpdated struct {
	ID                    id.Label           `json:"id"`
	Rev                   int64              `json:"rev"`
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
	Instant               time.Time          `json:"instant"`
	Subject               id.Identity        `json:"subject"`
}

func (RealmUpdated) isEvent()             {}
func (e RealmUpdated) RealmID() id.Label { return e.ID }
func (e RealmUpdated) Revision() int64   { return e.Rev }
func (e RealmUpdated) At() time.Time     { return e.Instant }
func (e RealmUpdated) By() id.Identity   { return e.Subject }

// RealmDeprecated freezes a realm.
type RealmDeprecated struct {
	ID      id.Label    `json:"id"`
	Rev     int64       `json:"rev"`
	Instant time.Time   `json:"instant"`
	Subject id.Identity `json:"subject"`
}

func (RealmDeprecated) isEvent()             {}
func (e RealmDeprecated) RealmID() id.Label { return e.ID }
func (e RealmDeprecated) Revision() int64   { return e.Rev }
func (e RealmDeprecated) At() time.Time     { return e.Instant }
func (e RealmDeprecated) By() id.Identity   { return e.Subject }
