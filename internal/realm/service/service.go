// Package service is the realms façade: it gates every operation behind an
// ACL permission check, drives the aggregate, and keeps the read index
// fresh after writes.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/juju/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"aegis/internal/acls"
	"aegis/internal/realm/index"
	realmmetrics "aegis/internal/realm/metrics"
	"aegis/internal/realm/models"
	"aegis/internal/realm/token"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

// Permissions required by the realm operations.
const (
	PermissionRead  = "realms/read"
	PermissionWrite = "realms/write"
)

// Aggregate is the write side consumed by the façade.
type Aggregate interface {
	Evaluate(ctx context.Context, cmd models.Command) (models.State, error)
	CurrentState(ctx context.Context, realm id.Label) (models.State, error)
	StateAt(ctx context.Context, realm id.Label, rev int64) (models.State, error)
}

// Verifier turns a bearer token into a caller.
type Verifier interface {
	Caller(ctx context.Context, raw string) (id.Caller, error)
}

// Fields are the user-supplied realm fields shared by create and update.
type Fields struct {
	Name         string
	OpenIDConfig id.URL
	Logo         *id.URL
}

// Service implements the public realm contract.
type Service struct {
	agg      Aggregate
	idx      index.Index
	verifier Verifier
	// acls is deferred: the ACL subsystem needs the realms caller
	// verification to exist before it can be constructed, so the
	// dependency is resolved lazily.
	acls    func() acls.Acls
	clock   clock.Clock
	logger  *slog.Logger
	metrics *realmmetrics.Metrics
	tracer  trace.Tracer
}

// Option configures the Service.
type Option func(*Service)

// WithClock sets the clock.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *realmmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New creates the realms façade. aclsFn is called on every authorization
// check so the ACL subsystem can be wired after this service.
func New(agg Aggregate, idx index.Index, verifier Verifier, aclsFn func() acls.Acls, opts ...Option) *Service {
	s := &Service{
		agg:      agg,
		idx:      idx,
		verifier: verifier,
		acls:     aclsFn,
		clock:    clock.WallClock,
		logger:   slog.Default(),
		tracer:   otel.Tracer("aegis/realm"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new realm.
func (s *Service) Create(ctx context.Context, caller id.Caller, realm id.Label, fields Fields) (*models.ResourceMetadata, error) {
	ctx, span := s.tracer.Start(ctx, "realms.create")
	defer span.End()

	if err := s.authorize(ctx, caller, realm, PermissionWrite); err != nil {
		return nil, err
	}
	return s.submit(ctx, "create", models.CreateRealm{
		ID:           realm,
		Name:         fields.Name,
		OpenIDConfig: fields.OpenIDConfig,
		Logo:         fields.Logo,
		Subject:      caller.Subject,
	})
}

// Update refreshes a realm from its discovery document; updating a
// deprecated realm revives it.
func (s *Service) Update(ctx context.Context, caller id.Caller, realm id.Label, rev int64, fields Fields) (*models.ResourceMetadata, error) {
	ctx, span := s.tracer.Start(ctx, "realms.update")
	defer span.End()

	if err := s.authorize(ctx, caller, realm, PermissionWrite); err != nil {
		return nil, err
	}
	return s.submit(ctx, "update", models.UpdateRealm{
		ID:           realm,
		Rev:          rev,
		Name:         fields.Name,
		OpenIDConfig: fields.OpenIDConfig,
		Logo:         fields.Logo,
		Subject:      caller.Subject,
	})
}

// Deprecate freezes a realm.
func (s *Service) Deprecate(ctx context.Context, caller id.Caller, realm id.Label, rev int64) (*models.ResourceMetadata, error) {
	ctx, span := s.tracer.Start(ctx, "realms.deprecate")
	defer span.End()

	if err := s.authorize(ctx, caller, realm, PermissionWrite); err != nil {
		return nil, err
	}
	return s.submit(ctx, "deprecate", models.DeprecateRealm{
		ID:      realm,
		Rev:     rev,
		Subject: caller.Subject,
	})
}

// Fetch returns the realm resource, preferring the index and falling back
// to the write side for not-yet-projected realms.
func (s *Service) Fetch(ctx context.Context, caller id.Caller, realm id.Label) (*models.Resource, error) {
	if err := s.authorize(ctx, caller, realm, PermissionRead); err != nil {
		return nil, err
	}
	res, ok, err := s.idx.Get(ctx, realm)
	if err != nil {
		return nil, err
	}
	if ok {
		return res, nil
	}
	state, err := s.agg.CurrentState(ctx, realm)
	if err != nil {
		return nil, err
	}
	if res, ok := models.ResourceOf(state); ok {
		return res, nil
	}
	return nil, models.RealmNotFound{ID: realm}
}

// FetchAt returns the realm resource at the given revision.
func (s *Service) FetchAt(ctx context.Context, caller id.Caller, realm id.Label, rev int64) (*models.Resource, error) {
	if err := s.authorize(ctx, caller, realm, PermissionRead); err != nil {
		return nil, err
	}
	state, err := s.agg.StateAt(ctx, realm, rev)
	if err != nil {
		return nil, err
	}
	res, ok := models.ResourceOf(state)
	if !ok || res.Rev != rev {
		return nil, models.RealmNotFound{ID: realm}
	}
	return res, nil
}

// List returns every realm in the index, sorted by creation time.
func (s *Service) List(ctx context.Context, caller id.Caller) ([]*models.Resource, error) {
	if err := s.authorize(ctx, caller, "", PermissionRead); err != nil {
		return nil, err
	}
	resources, err := s.idx.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(resources, func(a, b int) bool {
		return resources[a].CreatedAt.Before(resources[b].CreatedAt)
	})
	return resources, nil
}

// Caller verifies a bearer token. Every token rejection is wrapped as an
// invalid access token; infrastructure faults pass through.
func (s *Service) Caller(ctx context.Context, raw string) (id.Caller, error) {
	caller, err := s.verifier.Caller(ctx, raw)
	if err != nil {
		if rejection, ok := token.AsRejection(err); ok {
			s.observeToken("rejected")
			if _, isInvalid := rejection.(token.InvalidAccessToken); isInvalid {
				return id.Caller{}, rejection
			}
			return id.Caller{}, token.InvalidAccessToken{Cause: rejection}
		}
		return id.Caller{}, err
	}
	s.observeToken("success")
	return caller, nil
}

// CurrentResource reads the realm's current projection from the write
// side. It backs the projector and the post-write index refresh.
func (s *Service) CurrentResource(ctx context.Context, realm id.Label) (*models.Resource, bool, error) {
	state, err := s.agg.CurrentState(ctx, realm)
	if err != nil {
		return nil, false, err
	}
	res, ok := models.ResourceOf(state)
	return res, ok, nil
}

// submit runs the command and refreshes the index best-effort.
func (s *Service) submit(ctx context.Context, name string, cmd models.Command) (*models.ResourceMetadata, error) {
	start := time.Now()
	state, err := s.agg.Evaluate(ctx, cmd)
	if err != nil {
		s.observeCommand(name, outcomeOf(err), start)
		return nil, err
	}

	res, ok := models.ResourceOf(state)
	if !ok {
		// A successful command always leaves the realm in a current state.
		s.observeCommand(name, "error", start)
		return nil, dErrors.New(dErrors.CodeUnexpectedState, "realm "+cmd.RealmID().String()+" left in an unexpected initial state")
	}

	if err := s.idx.Put(ctx, res); err != nil {
		// The projector repairs the index asynchronously.
		s.logger.WarnContext(ctx, "index refresh failed after write",
			"realm", cmd.RealmID(), "rev", res.Rev, "error", err)
	}

	s.logger.InfoContext(ctx, "realm "+name+"d",
		"realm", cmd.RealmID(), "rev", res.Rev, "subject", res.UpdatedBy.String())
	s.observeCommand(name, "success", start)

	meta := res.Metadata()
	return &meta, nil
}

// authorize checks the write or read permission on the realm's ACL path.
func (s *Service) authorize(ctx context.Context, caller id.Caller, realm id.Label, permission string) error {
	a := s.acls()
	if a == nil {
		return dErrors.New(dErrors.CodeInternal, "acl subsystem is not wired")
	}
	path := "/"
	if realm != "" {
		path = "/" + realm.String()
	}
	ok, err := a.HasPermission(ctx, path, permission, caller)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "permission check failed")
	}
	if !ok {
		return dErrors.New(dErrors.CodeForbidden,
			fmt.Sprintf("access to %s denied: missing permission %q", path, permission))
	}
	return nil
}

func (s *Service) observeCommand(name, outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveCommand(name, outcome, start)
	}
}

func (s *Service) observeToken(outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveToken(outcome)
	}
}

// outcomeOf buckets an evaluation failure for metrics.
func outcomeOf(err error) string {
	if rejection, ok := models.AsRejection(err); ok {
		return string(rejection.Code())
	}
	return string(dErrors.CodeOf(err))
}
