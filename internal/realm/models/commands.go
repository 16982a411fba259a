package models

import (
	id "aegis/pkg/domain"
)

// Command is the closed family of realm commands. Expected revisions refer
// to the current state; a mismatch is rejected with IncorrectRev.
type Command interface {
	isCommand()
	RealmID() id.Label
}

// CreateRealm registers a new realm backed by the OpenID Connect provider
// whose discovery document lives at OpenIDConfig.
type CreateRealm struct {
	ID           id.Label
	Name         string
	OpenIDConfig id.URL
	Logo         *id.URL
	Subject      id.Identity
}

func (CreateRealm) isCommand()          {}
func (c CreateRealm) RealmID() id.Label { return c.ID }

// UpdateRealm refreshes the realm from its discovery document. Updating a
// deprecated realm revives it.
type UpdateRealm struct {
	ID           id.Label
	Rev          int64
	Name         string
	OpenIDConfig id.URL
	Logo         *id.URL
	Subject      id.Identity
}

func (UpdateRealm) isCommand()          {}
func (c UpdateRealm) RealmID() id.Label { return c.ID }

// DeprecateRealm freezes the realm so it no longer accepts tokens.
type DeprecateRealm struct {
	ID      id.Label
	Rev     int64
	Subject id.Identity
}

func (DeprecateRealm) isCommand()          {}
func (c DeprecateRealm) RealmID() id.Label { return c.ID }
