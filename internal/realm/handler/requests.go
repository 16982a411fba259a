package handler

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"aegis/internal/realm/service"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
)

var validate = validator.New()

// RealmRequest is the body of the create and update operations.
type RealmRequest struct {
	Name         string `json:"name" validate:"required,min=1,max=128"`
	OpenIDConfig string `json:"openIdConfig" validate:"required,http_url"`
	Logo         string `json:"logo,omitempty" validate:"omitempty,http_url"`
}

// Normalize trims surrounding whitespace.
func (r *RealmRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.OpenIDConfig = strings.TrimSpace(r.OpenIDConfig)
	r.Logo = strings.TrimSpace(r.Logo)
}

// Validate checks the request shape.
func (r *RealmRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid realm request")
	}
	return nil
}

// Fields converts the request into the service fields.
func (r *RealmRequest) Fields() (service.Fields, error) {
	cfg, err := id.ParseURL(r.OpenIDConfig)
	if err != nil {
		return service.Fields{}, dErrors.Wrap(err, dErrors.CodeValidation, "invalid openIdConfig url")
	}
	fields := service.Fields{Name: r.Name, OpenIDConfig: cfg}
	if r.Logo != "" {
		logo, err := id.ParseURL(r.Logo)
		if err != nil {
			return service.Fields{}, dErrors.Wrap(err, dErrors.CodeValidation, "invalid logo url")
		}
		fields.Logo = &logo
	}
	return fields, nil
}
