package userapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// JobsService manages /jobs, their increment layers and layer tasks.
type JobsService struct {
	c *Client
}

func (s *JobsService) Create(ctx context.Context, req CreateJobRequest) (Job, error) {
	if strings.TrimSpace(req.Name) == "" {
		return Job{}, invalidArg("name", "is required")
	}
	if req.HashlistID <= 0 {
		return Job{}, invalidArg("hashlist_id", "is required")
	}
	hasPreset := req.PresetJobID != nil && strings.TrimSpace(*req.PresetJobID) != ""
	hasWorkflow := req.WorkflowID != nil && strings.TrimSpace(*req.WorkflowID) != ""
	if hasPreset == hasWorkflow {
		return Job{}, invalidArg("preset_job_id", "exactly one of preset_job_id and workflow_id is required")
	}
	if req.MaxAgents != nil && *req.MaxAgents < 0 {
		return Job{}, invalidArg("max_agents", "must not be negative")
	}
	var out Job
	err := s.c.doJSON(ctx, request{method: http.MethodPost, path: "/jobs", payload: req}, &out)
	return out, err
}

func (s *JobsService) List(ctx context.Context, opts ListJobsOptions) (JobList, error) {
	query := opts.params()
	if opts.Status != "" {
		query["status"] = string(opts.Status)
	}
	if opts.HashlistID > 0 {
		query["hashlist_id"] = opts.HashlistID
	}
	if opts.ClientID != "" {
		query["client_id"] = opts.ClientID
	}
	data, err := s.c.do(ctx, request{method: http.MethodGet, path: "/jobs", query: query})
	if err != nil {
		return JobList{}, err
	}
	page, err := decodePageFor[Job](data, "jobs", opts.Pagination)
	if err != nil {
		return JobList{}, fmt.Errorf("decode job list: %w", err)
	}
	var extra struct {
		StatusCounts map[string]int `json:"status_counts"`
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		if err := json.Unmarshal(data, &extra); err != nil {
			return JobList{}, fmt.Errorf("decode job list: %w", err)
		}
	}
	return JobList{Jobs: page, StatusCounts: extra.StatusCounts}, nil
}

func (s *JobsService) Get(ctx context.Context, id string) (Job, error) {
	if err := requireID("job id", id); err != nil {
		return Job{}, err
	}
	var out Job
	err := s.c.doJSON(ctx, request{method: http.MethodGet, path: "/jobs/" + escapeID(id), route: "/jobs/{id}"}, &out)
	return out, err
}

// Update changes only the fields set in req.
func (s *JobsService) Update(ctx context.Context, id string, req UpdateJobRequest) (Job, error) {
	if err := requireID("job id", id); err != nil {
		return Job{}, err
	}
	if req.MaxAgents != nil && *req.MaxAgents < 0 {
		return Job{}, invalidArg("max_agents", "must not be negative")
	}
	var out Job
	err := s.c.doJSON(ctx, request{method: http.MethodPatch, path: "/jobs/" + escapeID(id), route: "/jobs/{id}", payload: req}, &out)
	return out, err
}

// Layers returns the increment layers of a job in layer order.
func (s *JobsService) Layers(ctx context.Context, jobID string) ([]Layer, error) {
	if err := requireID("job id", jobID); err != nil {
		return nil, err
	}
	r := request{method: http.MethodGet, path: "/jobs/" + escapeID(jobID) + "/layers", route: "/jobs/{id}/layers"}
	data, err := s.c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	page, err := decodePage[Layer](data, "layers")
	if err != nil {
		return nil, fmt.Errorf("decode job layers: %w", err)
	}
	return page.Items, nil
}

// LayerTasks returns one page of the tasks belonging to a layer.
func (s *JobsService) LayerTasks(ctx context.Context, jobID, layerID string, page Pagination) (Page[Task], error) {
	if err := requireID("job id", jobID); err != nil {
		return Page[Task]{}, err
	}
	if err := requireID("layer id", layerID); err != nil {
		return Page[Task]{}, err
	}
	r := request{
		method: http.MethodGet,
		path:   "/jobs/" + escapeID(jobID) + "/layers/" + escapeID(layerID),
		route:  "/jobs/{id}/layers/{layer_id}",
		query:  page.params(),
	}
	data, err := s.c.do(ctx, r)
	if err != nil {
		return Page[Task]{}, err
	}
	tasks, err := decodePageFor[Task](data, "tasks", page)
	if err != nil {
		return Page[Task]{}, fmt.Errorf("decode layer tasks: %w", err)
	}
	return tasks, nil
}
