// Package token verifies bearer access tokens against the active realms
// and derives the caller identity set. Its output is the trust boundary of
// the whole service.
package token

import (
	"context"
	"log/slog"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"aegis/internal/realm/models"
	id "aegis/pkg/domain"
)

// RealmLookup finds the active realm claiming an issuer. Deprecated realms
// never match.
type RealmLookup interface {
	ActiveByIssuer(ctx context.Context, issuer string) (*models.Resource, bool, error)
}

// Verifier parses and verifies RS256 signed JWTs.
type Verifier struct {
	realms RealmLookup
	logger *slog.Logger
}

// NewVerifier creates a verifier reading realms from the given lookup.
func NewVerifier(realms RealmLookup, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{realms: realms, logger: logger}
}

// Caller verifies the raw bearer token and composes the caller. Any failure
// is returned as a token Rejection; infrastructure faults from the realm
// lookup pass through unchanged.
func (v *Verifier) Caller(ctx context.Context, raw string) (id.Caller, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return id.Caller{}, InvalidAccessTokenFormat{}
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || len(claims) == 0 {
		return id.Caller{}, InvalidAccessTokenFormat{}
	}

	issuer, err := claims.GetIssuer()
	if err != nil || issuer == "" {
		return id.Caller{}, NoIssuer{}
	}

	realm, found, err := v.realms.ActiveByIssuer(ctx, issuer)
	if err != nil {
		return id.Caller{}, err
	}
	if !found {
		return id.Caller{}, UnknownIssuer{Issuer: issuer}
	}

	verified, err := v.verify(raw, realm)
	if err != nil {
		return id.Caller{}, InvalidAccessToken{Cause: err}
	}
	claims = verified.Claims.(jwt.MapClaims)

	subject, ok := subjectOf(claims)
	if !ok {
		return id.Caller{}, NoSubject{}
	}

	user := id.User(subject, realm.ID)
	identities := []id.Identity{id.Anonymous(), id.Authenticated(realm.ID)}
	for _, g := range groupsOf(claims) {
		identities = append(identities, id.Group(g, realm.ID))
	}
	return id.NewCaller(user, identities...), nil
}

// verify checks the RS256 signature against the realm's key set and
// enforces exp/nbf when present.
func (v *Verifier) verify(raw string, realm *models.Resource) (*jwt.Token, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	return parser.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		set := jwt.VerificationKeySet{}
		for _, key := range realm.Keys.Keys {
			if kid != "" && key.KeyID != kid {
				continue
			}
			set.Keys = append(set.Keys, key.Key)
		}
		if len(set.Keys) == 0 {
			return nil, UnknownKeyError{KeyID: kid, Realm: realm.ID}
		}
		return set, nil
	})
}

// UnknownKeyError signals that the realm's key set has no key matching the
// token header.
type UnknownKeyError struct {
	KeyID string
	Realm id.Label
}

func (e UnknownKeyError) Error() string {
	return "no matching verification key for kid " + e.KeyID + " in realm " + e.Realm.String()
}

// subjectOf prefers the preferred_username claim over sub.
func subjectOf(claims jwt.MapClaims) (string, bool) {
	if name, ok := claims["preferred_username"].(string); ok && name != "" {
		return name, true
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", false
	}
	return sub, true
}

// groupsOf reads the groups claim, first as a string array, then as one
// comma-separated string. Any other shape yields no groups. Commas inside
// group names cannot be escaped; the claim is treated as opaque text.
func groupsOf(claims jwt.MapClaims) []string {
	var out []string
	switch g := claims["groups"].(type) {
	case []interface{}:
		for _, raw := range g {
			s, ok := raw.(string)
			if !ok {
				return nil
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, s := range strings.Split(g, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
