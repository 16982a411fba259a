package models

import (
	"fmt"

	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

// Rejection is the closed family of domain rejections. Rejections are
// values, not infrastructure failures: they flow back to the caller and are
// never retried.
type Rejection interface {
	error
	isRejection()
	// Code maps the rejection onto the transport-agnostic error taxonomy.
	Code() dErrors.Code
}

// RealmAlreadyExists rejects a create for an id that already has events.
type RealmAlreadyExists struct {
	ID id.Label
}

func (RealmAlreadyExists) isRejection() {}
func (r RealmAlreadyExists) Error() string {
	return fmt.Sprintf("realm %q already exists", r.ID)
}
func (RealmAlreadyExists) Code() dErrors.Code { return dErrors.CodeAlreadyExists }

// RealmNotFound rejects an update or deprecation of an unknown realm.
type RealmNotFound struct {
	ID id.Label
}

func (RealmNotFound) isRejection() {}
func (r RealmNotFound) Error() string {
	return fmt.Sprintf("realm %q not found", r.ID)
}
func (RealmNotFound) Code() dErrors.Code { return dErrors.CodeNotFound }

// RealmAlreadyDeprecated rejects deprecating a deprecated realm.
type RealmAlreadyDeprecated struct {
	ID id.Label
}

func (RealmAlreadyDeprecated) isRejection() {}
func (r RealmAlreadyDeprecated) Error() string {
	return fmt.Sprintf("realm %q is already deprecated", r.ID)
}
func (RealmAlreadyDeprecated) Code() dErrors.Code { return dErrors.CodeAlreadyDeprecated }

// IncorrectRev rejects a command whose expected revision does not match the
// current state.
type IncorrectRev struct {
	Provided int64
	Expected int64
}

func (IncorrectRev) isRejection() {}
func (r IncorrectRev) Error() string {
	return fmt.Sprintf("incorrect revision %d provided, expected %d", r.Provided, r.Expected)
}
func (IncorrectRev) Code() dErrors.Code { return dErrors.CodeIncorrectRev }

// DuplicateIssuer rejects a create or update whose discovery document
// declares an issuer already claimed by another active realm. Issuers must
// be unique across active realms for token verification to be deterministic.
type DuplicateIssuer struct {
	Issuer   string
	Existing id.Label
}

func (DuplicateIssuer) isRejection() {}
func (r DuplicateIssuer) Error() string {
	return fmt.Sprintf("issuer %q is already used by realm %q", r.Issuer, r.Existing)
}
func (DuplicateIssuer) Code() dErrors.Code { return dErrors.CodeConflict }

// UnsuccessfulOpenIDConfigResponse rejects a non-2xx discovery response.
type UnsuccessfulOpenIDConfigResponse struct {
	Status int
}

func (UnsuccessfulOpenIDConfigResponse) isRejection() {}
func (r UnsuccessfulOpenIDConfigResponse) Error() string {
	return fmt.Sprintf("openid-configuration request failed with status %d", r.Status)
}
func (UnsuccessfulOpenIDConfigResponse) Code() dErrors.Code { return dErrors.CodeIllegalWellKnown }

// IllegalOpenIDConfigFormat rejects a discovery document that cannot be
// decoded.
type IllegalOpenIDConfigFormat struct {
	Reason string
}

func (IllegalOpenIDConfigFormat) isRejection() {}
func (r IllegalOpenIDConfigFormat) Error() string {
	return fmt.Sprintf("illegal openid-configuration format: %s", r.Reason)
}
func (IllegalOpenIDConfigFormat) Code() dErrors.Code { return dErrors.CodeIllegalWellKnown }

// UnsuccessfulJwksResponse rejects a non-2xx JWKS response.
type UnsuccessfulJwksResponse struct {
	Status int
}

func (UnsuccessfulJwksResponse) isRejection() {}
func (r UnsuccessfulJwksResponse) Error() string {
	return fmt.Sprintf("jwks request failed with status %d", r.Status)
}
func (UnsuccessfulJwksResponse) Code() dErrors.Code { return dErrors.CodeIllegalWellKnown }

// IllegalJwksFormat rejects a JWKS document that cannot be decoded.
type IllegalJwksFormat struct {
	Reason string
}

func (IllegalJwksFormat) isRejection() {}
func (r IllegalJwksFormat) Error() string {
	return fmt.Sprintf("illegal jwks format: %s", r.Reason)
}
func (IllegalJwksFormat) Code() dErrors.Code { return dErrors.CodeIllegalWellKnown }

// NoValidKeysFound rejects a JWKS with no RS256 signature keys.
type NoValidKeysFound struct{}

func (NoValidKeysFound) isRejection() {}
func (NoValidKeysFound) Error() string {
	return "no RS256 signature keys found in the jwks document"
}
func (NoValidKeysFound) Code() dErrors.Code { return dErrors.CodeIllegalWellKnown }

// IllegalIssuer rejects a discovery document with a missing or empty issuer.
type IllegalIssuer struct {
	Reason string
}

func (IllegalIssuer) isRejection() {}
func (r IllegalIssuer) Error() string {
	return fmt.Sprintf("illegal issuer: %s", r.Reason)
}
func (IllegalIssuer) Code() dErrors.Code { return dErrors.CodeIllegalWellKnown }

// IllegalGrantType rejects a grant_types_supported entry that cannot be read.
type IllegalGrantType struct {
	Reason string
}

func (IllegalGrantType) isRejection() {}
func (r IllegalGrantType) Error() string {
	return fmt.Sprintf("illegal grant_types_supported: %s", r.Reason)
}
func (IllegalGrantType) Code() dErrors.Code { return dErrors.CodeIllegalWellKnown }

// IllegalEndpoint rejects a missing or malformed endpoint field.
type IllegalEndpoint struct {
	Name string
}

func (IllegalEndpoint) isRejection() {}
func (r IllegalEndpoint) Error() string {
	return fmt.Sprintf("illegal endpoint %q in openid-configuration", r.Name)
}
func (IllegalEndpoint) Code() dErrors.Code { return dErrors.CodeIllegalWellKnown }

// AsRejection unwraps err into a Rejection if it is one.
func AsRejection(err error) (Rejection, bool) {
	r, ok := err.(Rejection)
	return r, ok
}
