package token

import (
	"fmt"

	dErrors "aegis/pkg/domain-errors"
)

// Rejection is the closed family of token verification failures. All of
// them render as 401 at the HTTP boundary.
type Rejection interface {
	error
	isTokenRejection()
	Code() dErrors.Code
}

// InvalidAccessTokenFormat rejects a string that does not parse as a signed
// JWT or carries no claims.
type InvalidAccessTokenFormat struct{}

func (InvalidAccessTokenFormat) isTokenRejection() {}
func (InvalidAccessTokenFormat) Error() string {
	return "the access token is not a valid signed JWT"
}
func (InvalidAccessTokenFormat) Code() dErrors.Code { return dErrors.CodeUnauthorized }

// NoIssuer rejects a token without an iss claim.
type NoIssuer struct{}

func (NoIssuer) isTokenRejection() {}
func (NoIssuer) Error() string {
	return "the access token does not contain an issuer"
}
func (NoIssuer) Code() dErrors.Code { return dErrors.CodeUnauthorized }

// UnknownIssuer rejects a token whose issuer matches no active realm.
type UnknownIssuer struct {
	Issuer string
}

func (UnknownIssuer) isTokenRejection() {}
func (r UnknownIssuer) Error() string {
	return fmt.Sprintf("no active realm matches the access token issuer %q", r.Issuer)
}
func (UnknownIssuer) Code() dErrors.Code { return dErrors.CodeUnauthorized }

// NoSubject rejects a token without a usable subject claim.
type NoSubject struct{}

func (NoSubject) isTokenRejection() {}
func (NoSubject) Error() string {
	return "the access token does not contain a subject"
}
func (NoSubject) Code() dErrors.Code { return dErrors.CodeUnauthorized }

// InvalidAccessToken rejects a token whose signature or time claims fail
// verification against the realm's key set.
type InvalidAccessToken struct {
	Cause error
}

func (InvalidAccessToken) isTokenRejection() {}
func (r InvalidAccessToken) Error() string {
	if r.Cause != nil {
		return fmt.Sprintf("invalid access token: %v", r.Cause)
	}
	return "invalid access token"
}
func (r InvalidAccessToken) Unwrap() error    { return r.Cause }
func (InvalidAccessToken) Code() dErrors.Code { return dErrors.CodeUnauthorized }

// AsRejection unwraps err into a token Rejection if it is one.
func AsRejection(err error) (Rejection, bool) {
	r, ok := err.(Rejection)
	return r, ok
}
