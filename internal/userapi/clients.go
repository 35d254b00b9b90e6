package userapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ClientsService manages /clients.
type ClientsService struct {
	c *Client
}

func (s *ClientsService) Create(ctx context.Context, req CreateClientRequest) (Organization, error) {
	if strings.TrimSpace(req.Name) == "" {
		return Organization{}, invalidArg("name", "is required")
	}
	if req.DataRetentionMonths != nil && *req.DataRetentionMonths < 0 {
		return Organization{}, invalidArg("data_retention_months", "must not be negative")
	}
	var out Organization
	err := s.c.doJSON(ctx, request{method: http.MethodPost, path: "/clients", payload: req}, &out)
	return out, err
}

func (s *ClientsService) List(ctx context.Context, page Pagination) (Page[Organization], error) {
	r := request{method: http.MethodGet, path: "/clients", query: page.params()}
	data, err := s.c.do(ctx, r)
	if err != nil {
		return Page[Organization]{}, err
	}
	return decodePageFor[Organization](data, "clients", page)
}

func (s *ClientsService) Get(ctx context.Context, id string) (Organization, error) {
	if err := requireID("client id", id); err != nil {
		return Organization{}, err
	}
	var out Organization
	err := s.c.doJSON(ctx, request{method: http.MethodGet, path: "/clients/" + escapeID(id), route: "/clients/{id}"}, &out)
	return out, err
}

// Update sends only the fields set in req; the rest stay as they are.
func (s *ClientsService) Update(ctx context.Context, id string, req UpdateClientRequest) (Organization, error) {
	if err := requireID("client id", id); err != nil {
		return Organization{}, err
	}
	var out Organization
	err := s.c.doJSON(ctx, request{method: http.MethodPatch, path: "/clients/" + escapeID(id), route: "/clients/{id}", payload: req}, &out)
	return out, err
}

// Delete fails with a 409 APIError (CLIENT_HAS_HASHLISTS) while the client
// still owns hashlists.
func (s *ClientsService) Delete(ctx context.Context, id string) error {
	if err := requireID("client id", id); err != nil {
		return err
	}
	_, err := s.c.do(ctx, request{method: http.MethodDelete, path: "/clients/" + escapeID(id), route: "/clients/{id}"})
	return err
}

// ParseClientID checks that id is a UUID, the form client ids take.
func ParseClientID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", invalidArg("client id", "must be a UUID")
	}
	return parsed.String(), nil
}
