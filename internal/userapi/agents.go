package userapi

import (
	"context"
	"fmt"
	"net/http"
)

// AgentsService manages /agents and registration vouchers.
type AgentsService struct {
	c *Client
}

func (s *AgentsService) List(ctx context.Context, opts ListAgentsOptions) (Page[Agent], error) {
	query := opts.params()
	if opts.Status != "" {
		query["status"] = opts.Status
	}
	data, err := s.c.do(ctx, request{method: http.MethodGet, path: "/agents", query: query})
	if err != nil {
		return Page[Agent]{}, err
	}
	return decodePageFor[Agent](data, "agents", opts.Pagination)
}

func (s *AgentsService) Get(ctx context.Context, id int) (Agent, error) {
	if id <= 0 {
		return Agent{}, invalidArg("agent id", "must be positive")
	}
	var out Agent
	err := s.c.doJSON(ctx, request{method: http.MethodGet, path: fmt.Sprintf("/agents/%d", id), route: "/agents/{id}"}, &out)
	return out, err
}

// Update sends only the fields set in req. An explicit empty ExtraParameters
// clears them and an explicit false IsEnabled disables the agent.
func (s *AgentsService) Update(ctx context.Context, id int, req UpdateAgentRequest) (Agent, error) {
	if id <= 0 {
		return Agent{}, invalidArg("agent id", "must be positive")
	}
	var out Agent
	err := s.c.doJSON(ctx, request{method: http.MethodPatch, path: fmt.Sprintf("/agents/%d", id), route: "/agents/{id}", payload: req}, &out)
	return out, err
}

// Delete disables the agent; the service keeps its record.
func (s *AgentsService) Delete(ctx context.Context, id int) error {
	if id <= 0 {
		return invalidArg("agent id", "must be positive")
	}
	_, err := s.c.do(ctx, request{method: http.MethodDelete, path: fmt.Sprintf("/agents/%d", id), route: "/agents/{id}"})
	return err
}

// GenerateVoucher creates a registration code. Handing the code to the agent
// host is up to the caller.
func (s *AgentsService) GenerateVoucher(ctx context.Context, req GenerateVoucherRequest) (Voucher, error) {
	if req.ExpiresIn != nil && *req.ExpiresIn < 0 {
		return Voucher{}, invalidArg("expires_in", "must not be negative")
	}
	var out Voucher
	err := s.c.doJSON(ctx, request{method: http.MethodPost, path: "/agents/vouchers", payload: req}, &out)
	return out, err
}
