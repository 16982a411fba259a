// Package wellknown fetches and validates OpenID Connect discovery
// documents and their JWKS.
package wellknown

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/juju/clock"

	"aegis/internal/realm/models"
	id "aegis/pkg/domain"
	"aegis/pkg/platform/retry"
)

// Resolver fetches discovery documents over HTTP. Transport failures are
// retried per the configured strategy; validation failures are returned as
// rejections and never retried.
type Resolver struct {
	client *http.Client
	retry  retry.Strategy
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures the Resolver.
type Option func(*Resolver)

// WithRetry sets the retry strategy for the two HTTP fetches.
func WithRetry(s retry.Strategy) Option {
	return func(r *Resolver) {
		r.retry = s
	}
}

// WithClock sets the clock driving retry back-off.
func WithClock(c clock.Clock) Option {
	return func(r *Resolver) {
		r.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// New creates a resolver backed by the given HTTP client.
func New(client *http.Client, opts ...Option) *Resolver {
	r := &Resolver{
		client: client,
		retry:  retry.Never(),
		clock:  clock.WallClock,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// wellKnownDoc keeps discovery fields raw so each one can be validated in
// order with its own rejection.
type wellKnownDoc struct {
	Issuer                json.RawMessage `json:"issuer"`
	JwksURI               json.RawMessage `json:"jwks_uri"`
	AuthorizationEndpoint json.RawMessage `json:"authorization_endpoint"`
	TokenEndpoint         json.RawMessage `json:"token_endpoint"`
	UserInfoEndpoint      json.RawMessage `json:"userinfo_endpoint"`
	RevocationEndpoint    json.RawMessage `json:"revocation_endpoint"`
	EndSessionEndpoint    json.RawMessage `json:"end_session_endpoint"`
	GrantTypesSupported   json.RawMessage `json:"grant_types_supported"`
}

// Resolve fetches the document at cfg and its JWKS, returning the validated
// well-known projection.
func (r *Resolver) Resolve(ctx context.Context, cfg id.URL) (*models.WellKnown, error) {
	body, err := r.fetch(ctx, cfg, func(status int) error {
		return models.UnsuccessfulOpenIDConfigResponse{Status: status}
	})
	if err != nil {
		return nil, err
	}

	var doc wellKnownDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, models.IllegalOpenIDConfigFormat{Reason: err.Error()}
	}

	wk := &models.WellKnown{}

	issuer, ok := asString(doc.Issuer)
	if !ok || issuer == "" {
		return nil, models.IllegalIssuer{Reason: "the issuer must be a non-empty string"}
	}
	wk.Issuer = issuer

	jwksURI, ok := asURL(doc.JwksURI)
	if !ok {
		return nil, models.IllegalEndpoint{Name: "jwks_uri"}
	}
	wk.JwksURI = jwksURI

	if wk.AuthorizationEndpoint, ok = asURL(doc.AuthorizationEndpoint); !ok {
		return nil, models.IllegalEndpoint{Name: "authorization_endpoint"}
	}
	if wk.TokenEndpoint, ok = asURL(doc.TokenEndpoint); !ok {
		return nil, models.IllegalEndpoint{Name: "token_endpoint"}
	}
	if wk.UserInfoEndpoint, ok = asURL(doc.UserInfoEndpoint); !ok {
		return nil, models.IllegalEndpoint{Name: "userinfo_endpoint"}
	}

	if doc.GrantTypesSupported != nil {
		var raw []string
		if err := json.Unmarshal(doc.GrantTypesSupported, &raw); err != nil {
			return nil, models.IllegalGrantType{Reason: "grant_types_supported must be an array of strings"}
		}
		wk.GrantTypes = id.FilterGrantTypes(raw)
	}

	if doc.RevocationEndpoint != nil {
		u, ok := asURL(doc.RevocationEndpoint)
		if !ok {
			return nil, models.IllegalEndpoint{Name: "revocation_endpoint"}
		}
		wk.RevocationEndpoint = &u
	}
	if doc.EndSessionEndpoint != nil {
		u, ok := asURL(doc.EndSessionEndpoint)
		if !ok {
			return nil, models.IllegalEndpoint{Name: "end_session_endpoint"}
		}
		wk.EndSessionEndpoint = &u
	}

	keys, err := r.fetchJwks(ctx, wk.JwksURI)
	if err != nil {
		return nil, err
	}
	wk.Keys = keys

	return wk, nil
}

// fetchJwks retrieves the key set and keeps only RS256 signature keys.
func (r *Resolver) fetchJwks(ctx context.Context, uri id.URL) (jose.JSONWebKeySet, error) {
	var set jose.JSONWebKeySet

	body, err := r.fetch(ctx, uri, func(status int) error {
		return models.UnsuccessfulJwksResponse{Status: status}
	})
	if err != nil {
		return set, err
	}

	var raw struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return set, models.IllegalJwksFormat{Reason: err.Error()}
	}
	if raw.Keys == nil {
		return set, models.IllegalJwksFormat{Reason: "missing keys field"}
	}

	for _, rawKey := range raw.Keys {
		var key jose.JSONWebKey
		if err := key.UnmarshalJSON(rawKey); err != nil {
			continue
		}
		if !usableSignatureKey(key) {
			continue
		}
		set.Keys = append(set.Keys, key)
	}
	if len(set.Keys) == 0 {
		return set, models.NoValidKeysFound{}
	}
	return set, nil
}

// usableSignatureKey keeps RSA public keys meant for RS256 signatures. Keys
// without a use field are accepted.
func usableSignatureKey(key jose.JSONWebKey) bool {
	if key.Use != "" && key.Use != "sig" {
		return false
	}
	if key.Algorithm != "" && key.Algorithm != string(jose.RS256) {
		return false
	}
	if _, ok := key.Key.(*rsa.PublicKey); !ok {
		return false
	}
	return key.Valid()
}

// fetch performs a GET with the retry strategy. Only transport errors are
// retried; status and parse problems are terminal.
func (r *Resolver) fetch(ctx context.Context, u id.URL, statusRejection func(int) error) ([]byte, error) {
	var body []byte
	err := r.retry.Run(ctx, r.clock, isTransient, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return models.IllegalEndpoint{Name: u.String()}
		}
		req.Header.Set("Accept", "application/json")

		resp, err := r.client.Do(req)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", u, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return statusRejection(resp.StatusCode)
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read %s: %w", u, err)
		}
		return nil
	})
	if err != nil {
		if _, ok := models.AsRejection(err); !ok {
			r.logger.WarnContext(ctx, "well-known fetch failed", "url", u.String(), "error", err)
		}
		return nil, err
	}
	return body, nil
}

// isTransient classifies transport faults as retriable. Rejections are
// domain values and terminal.
func isTransient(err error) bool {
	_, isRejection := models.AsRejection(err)
	return !isRejection
}
