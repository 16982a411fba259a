package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"aegis/internal/platform/middleware"
	"aegis/internal/realm/models"
	"aegis/internal/realm/service"
	"aegis/internal/realm/token"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/httputil"
)

// Service defines the realm operations consumed by the HTTP surface.
// It returns domain objects, not HTTP response DTOs.
type Service interface {
	Create(ctx context.Context, caller id.Caller, realm id.Label, fields service.Fields) (*models.ResourceMetadata, error)
	Update(ctx context.Context, caller id.Caller, realm id.Label, rev int64, fields service.Fields) (*models.ResourceMetadata, error)
	Deprecate(ctx context.Context, caller id.Caller, realm id.Label, rev int64) (*models.ResourceMetadata, error)
	Fetch(ctx context.Context, caller id.Caller, realm id.Label) (*models.Resource, error)
	FetchAt(ctx context.Context, caller id.Caller, realm id.Label, rev int64) (*models.Resource, error)
	List(ctx context.Context, caller id.Caller) ([]*models.Resource, error)
	Caller(ctx context.Context, raw string) (id.Caller, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/realms", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Get("/{label}", h.HandleFetch)
		r.Put("/{label}", h.HandleCreateOrUpdate)
		r.Delete("/{label}", h.HandleDeprecate)
	})
}

// HandleList lists realms sorted by creation time.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	resources, err := h.service.List(ctx, caller)
	if err != nil {
		h.logger.WarnContext(ctx, "list realms failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse{Total: len(resources), Results: resources})
}

// HandleFetch returns one realm, optionally at a specific revision.
func (h *Handler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	label, ok := h.label(w, r)
	if !ok {
		return
	}

	var (
		res *models.Resource
		err error
	)
	if raw := r.URL.Query().Get("rev"); raw != "" {
		rev, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil || rev < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "rev must be a positive integer"))
			return
		}
		res, err = h.service.FetchAt(ctx, caller, label, rev)
	} else {
		res, err = h.service.Fetch(ctx, caller, label)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleCreateOrUpdate creates a realm, or updates it when a rev query
// parameter is present.
func (h *Handler) HandleCreateOrUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	label, ok := h.label(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RealmRequest](w, r, h.logger, ctx, middleware.GetRequestID(ctx))
	if !ok {
		return
	}
	fields, err := req.Fields()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if raw := r.URL.Query().Get("rev"); raw != "" {
		rev, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil || rev < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "rev must be a positive integer"))
			return
		}
		meta, err := h.service.Update(ctx, caller, label, rev, fields)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, meta)
		return
	}

	meta, err := h.service.Create(ctx, caller, label, fields)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, meta)
}

// HandleDeprecate freezes a realm at the given revision.
func (h *Handler) HandleDeprecate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	label, ok := h.label(w, r)
	if !ok {
		return
	}
	raw := r.URL.Query().Get("rev")
	if raw == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "rev query parameter is required"))
		return
	}
	rev, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || rev < 1 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "rev must be a positive integer"))
		return
	}
	meta, err := h.service.Deprecate(ctx, caller, label, rev)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, meta)
}

// caller authenticates the request. Missing credentials yield the
// anonymous caller; a malformed or unverifiable token is a 401.
func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (id.Caller, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return id.AnonymousCaller(), true
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		httputil.WriteError(w, token.InvalidAccessTokenFormat{})
		return id.Caller{}, false
	}
	caller, err := h.service.Caller(r.Context(), raw)
	if err != nil {
		h.logger.WarnContext(r.Context(), "token verification failed", "error", err)
		httputil.WriteError(w, err)
		return id.Caller{}, false
	}
	return caller, true
}

// label parses the path label.
func (h *Handler) label(w http.ResponseWriter, r *http.Request) (id.Label, bool) {
	label, err := id.ParseLabel(chi.URLParam(r, "label"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, err.Error()))
		return "", false
	}
	return label, true
}
