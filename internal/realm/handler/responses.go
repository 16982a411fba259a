package handler

import "aegis/internal/realm/models"

// ListResponse is the shape of the listing endpoint: the total count and
// every realm, without pagination.
type ListResponse struct {
	Total   int                `json:"total"`
	Results []*models.Resource `json:"_results"`
}
