package models

import (
	"context"
	"time"

	"github.com/juju/clock"

	id "aegis/pkg/domain"
)

// Next applies an event to a state. It is total: combinations outside the
// realm lifecycle return the state unchanged so that replay stays
// idempotent.
func Next(s State, e Event) State {
	switch ev := e.(type) {
	case RealmCreated:
		if _, ok := s.(Initial); ok {
			return Active{
				ID:                    ev.ID,
				Revision:              ev.Rev,
				Name:                  ev.Name,
				OpenIDConfig:          ev.OpenIDConfig,
				Issuer:                ev.Issuer,
				Keys:                  ev.Keys,
				GrantTypes:            ev.GrantTypes,
				Logo:                  ev.Logo,
				AuthorizationEndpoint: ev.AuthorizationEndpoint,
				TokenEndpoint:         ev.TokenEndpoint,
				UserInfoEndpoint:      ev.UserInfoEndpoint,
				RevocationEndpoint:    ev.RevocationEndpoint,
				EndSessionEndpoint:    ev.EndSessionEndpoint,
				CreatedAt:             ev.Instant,
				CreatedBy:             ev.Subject,
				UpdatedAt:             ev.Instant,
				UpdatedBy:             ev.Subject,
			}
		}
	case RealmUpdated:
		switch cur := s.(type) {
		case Active:
			return applyUpdated(ev, cur.CreatedAt, cur.CreatedBy)
		case Deprecated:
			// An update revives a deprecated realm.
			return applyUpdated(ev, cur.CreatedAt, cur.CreatedBy)
		}
	case RealmDeprecated:
		if cur, ok := s.(Active); ok {
			return Deprecated{
				ID:           cur.ID,
				Revision:     ev.Rev,
				Name:         cur.Name,
				OpenIDConfig: cur.OpenIDConfig,
				Logo:         cur.Logo,
				CreatedAt:    cur.CreatedAt,
				CreatedBy:    cur.CreatedBy,
				UpdatedAt:    ev.Instant,
				UpdatedBy:    ev.Subject,
			}
		}
	}
	return s
}

func applyUpdated(ev RealmUpdated, createdAt time.Time, createdBy id.Identity) Active {
	return Active{
		ID:                    ev.ID,
		Revision:              ev.Rev,
		Name:                  ev.Name,
		OpenIDConfig:          ev.OpenIDConfig,
		Issuer:                ev.Issuer,
		Keys:                  ev.Keys,
		GrantTypes:            ev.GrantTypes,
		Logo:                  ev.Logo,
		AuthorizationEndpoint: ev.AuthorizationEndpoint,
		TokenEndpoint:         ev.TokenEndpoint,
		UserInfoEndpoint:      ev.UserInfoEndpoint,
		RevocationEndpoint:    ev.RevocationEndpoint,
		EndSessionEndpoint:    ev.EndSessionEndpoint,
		CreatedAt:             createdAt,
		CreatedBy:             createdBy,
		UpdatedAt:             ev.Instant,
		UpdatedBy:             ev.Subject,
	}
}

// Resolver fetches and validates a discovery document. Failures are
// returned as Rejection values for domain problems and plain errors for
// transport faults.
type Resolver interface {
	Resolve(ctx context.Context, cfg id.URL) (*WellKnown, error)
}

// IssuerGuard reports the active realm currently claiming an issuer, if
// any. It backs the uniqueness check run on create and update.
type IssuerGuard interface {
	IssuerOwner(ctx context.Context, issuer string) (id.Label, bool, error)
}

// EvaluationDeps are the capabilities Evaluate needs: a clock, the
// well-known resolver, and optionally the issuer uniqueness guard.
type EvaluationDeps struct {
	Clock    clock.Clock
	Resolver Resolver
	Issuers  IssuerGuard
}

// Evaluate decides a command against the current state, producing the event
// to persist or a Rejection. It reads the clock once and performs no I/O
// beyond resolving the discovery document and, when an issuer guard is set,
// looking up the current owner of the resolved issuer.
func Evaluate(ctx context.Context, deps EvaluationDeps, s State, cmd Command) (Event, error) {
	now := deps.Clock.Now().UTC()

	switch c := cmd.(type) {
	case CreateRealm:
		if _, ok := s.(Initial); !ok {
			return nil, RealmAlreadyExists{ID: c.ID}
		}
		wk, err := resolveChecked(ctx, deps, c.OpenIDConfig, c.ID)
		if err != nil {
			return nil, err
		}
		return RealmCreated{
			ID:                    c.ID,
			Rev:                   1,
			Name:                  c.Name,
			OpenIDConfig:          c.OpenIDConfig,
			Issuer:                wk.Issuer,
			Keys:                  wk.Keys,
			GrantTypes:            wk.GrantTypes,
			Logo:                  c.Logo,
			AuthorizationEndpoint: wk.AuthorizationEndpoint,
			TokenEndpoint:         wk.TokenEndpoint,
			UserInfoEndpoint:      wk.UserInfoEndpoint,
			RevocationEndpoint:    wk.RevocationEndpoint,
			EndSessionEndpoint:    wk.EndSessionEndpoint,
			Instant:               now,
			Subject:               c.Subject,
		}, nil

	case UpdateRealm:
		rev, ok := currentRev(s)
		if !ok {
			return nil, RealmNotFound{ID: c.ID}
		}
		if c.Rev != rev {
			return nil, IncorrectRev{Provided: c.Rev, Expected: rev}
		}
		wk, err := resolveChecked(ctx, deps, c.OpenIDConfig, c.ID)
		if err != nil {
			return nil, err
		}
		return RealmUpdated{
			ID:                    c.ID,
			Rev:                   rev + 1,
			Name:                  c.Name,
			OpenIDConfig:          c.OpenIDConfig,
			Issuer:                wk.Issuer,
			Keys:                  wk.Keys,
			GrantTypes:            wk.GrantTypes,
			Logo:                  c.Logo,
			AuthorizationEndpoint: wk.AuthorizationEndpoint,
			TokenEndpoint:         wk.TokenEndpoint,
			UserInfoEndpoint:      wk.UserInfoEndpoint,
			RevocationEndpoint:    wk.RevocationEndpoint,
			EndSessionEndpoint:    wk.EndSessionEndpoint,
			Instant:               now,
			Subject:               c.Subject,
		}, nil

	case DeprecateRealm:
		switch cur := s.(type) {
		case Active:
			if c.Rev != cur.Revision {
				return nil, IncorrectRev{Provided: c.Rev, Expected: cur.Revision}
			}
			return RealmDeprecated{ID: c.ID, Rev: cur.Revision + 1, Instant: now, Subject: c.Subject}, nil
		case Deprecated:
			return nil, RealmAlreadyDeprecated{ID: c.ID}
		default:
			return nil, RealmNotFound{ID: c.ID}
		}
	}
	return nil, RealmNotFound{ID: cmd.RealmID()}
}

// currentRev returns the revision of a Current (Active or Deprecated) state.
func currentRev(s State) (int64, bool) {
	switch cur := s.(type) {
	case Active:
		return cur.Revision, true
	case Deprecated:
		return cur.Revision, true
	default:
		return 0, false
	}
}

// resolveChecked resolves the discovery document and enforces issuer
// uniqueness across active realms.
func resolveChecked(ctx context.Context, deps EvaluationDeps, cfg id.URL, self id.Label) (*WellKnown, error) {
	wk, err := deps.Resolver.Resolve(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if deps.Issuers != nil {
		owner, taken, err := deps.Issuers.IssuerOwner(ctx, wk.Issuer)
		if err != nil {
			return nil, err
		}
		if taken && owner != self {
			return nil, DuplicateIssuer{Issuer: wk.Issuer, Existing: owner}
		}
	}
	return wk, nil
}
