package userapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Ptr returns a pointer to v. Optional request fields are pointers: nil means
// omitted, and any non-nil value (including "" or false) is sent.
func Ptr[T any](v T) *T {
	return &v
}

// TotalUnknown is the Total of a page whose endpoint answers with a bare
// array and so never reports how many items exist.
const TotalUnknown = -1

// Page is one page of a list endpoint. Page numbers are 1-indexed; a page
// past the end has no items and is not an error.
type Page[T any] struct {
	Items    []T
	Total    int
	Page     int
	PageSize int
}

// HasMore reports whether a following page may hold items.
func (p Page[T]) HasMore() bool {
	if len(p.Items) == 0 {
		return false
	}
	if p.Total == TotalUnknown {
		return p.PageSize > 0 && len(p.Items) >= p.PageSize
	}
	return p.Page*p.PageSize < p.Total
}

// decodePage reads a list response whose items live under key. A bare JSON
// array carries no paging fields: its Total is TotalUnknown and Page and
// PageSize are left for the caller to fill from the request.
func decodePage[T any](data []byte, key string) (Page[T], error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Page[T]{Items: []T{}}, nil
	}
	if trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return Page[T]{}, err
		}
		if items == nil {
			items = []T{}
		}
		return Page[T]{Items: items, Total: TotalUnknown}, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return Page[T]{}, err
	}
	page := Page[T]{Items: []T{}}
	if itemsRaw, ok := raw[key]; ok && !isJSONNull(itemsRaw) {
		if err := json.Unmarshal(itemsRaw, &page.Items); err != nil {
			return Page[T]{}, fmt.Errorf("decode %s: %w", key, err)
		}
	}
	for field, dst := range map[string]*int{"total": &page.Total, "page": &page.Page, "page_size": &page.PageSize} {
		if value, ok := raw[field]; ok && !isJSONNull(value) {
			if err := json.Unmarshal(value, dst); err != nil {
				return Page[T]{}, fmt.Errorf("decode %s: %w", field, err)
			}
		}
	}
	if _, ok := raw["total"]; !ok {
		page.Total = len(page.Items)
	}
	return page, nil
}

// decodePageFor decodes a page fetched with p and fills paging fields the
// body left out from the request.
func decodePageFor[T any](data []byte, key string, p Pagination) (Page[T], error) {
	page, err := decodePage[T](data, key)
	if err != nil {
		return page, err
	}
	req := p.params()
	if page.Page <= 0 {
		page.Page = req["page"].(int)
	}
	if page.PageSize <= 0 {
		page.PageSize = req["page_size"].(int)
	}
	return page, nil
}

func isJSONNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Organization is a customer organisation (a "client" on the wire) that owns hashlists.
type Organization struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Domain      *string `json:"domain,omitempty"`
	// DataRetentionMonths of 0 keeps data forever; nil means the system default.
	DataRetentionMonths *int      `json:"data_retention_months,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type CreateClientRequest struct {
	Name                string  `json:"name"`
	Description         *string `json:"description,omitempty"`
	Domain              *string `json:"domain,omitempty"`
	DataRetentionMonths *int    `json:"data_retention_months,omitempty"`
}

type UpdateClientRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Domain      *string `json:"domain,omitempty"`
}

// Hashlist processing states reported by the service.
const (
	HashlistUploading       = "uploading"
	HashlistProcessing      = "processing"
	HashlistReady           = "ready"
	HashlistError           = "error"
	HashlistDeleting        = "deleting"
	HashlistReadyWithErrors = "ready_with_errors"
)

type Hashlist struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	HashTypeID   int       `json:"hash_type_id"`
	HashType     string    `json:"hash_type,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
	HashCount    int64     `json:"hash_count"`
	CrackedCount int64     `json:"cracked_count"`
	Progress     float64   `json:"progress"`
	Status       string    `json:"status,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateHashlistRequest uploads the file at FilePath as a new hashlist.
// Whether ClientID is mandatory is a server setting; a missing one surfaces
// as an APIError with code CLIENT_REQUIRED.
type CreateHashlistRequest struct {
	Name        string
	HashTypeID  int
	FilePath    string
	ClientID    *string
	Description *string
}

type ListHashlistsOptions struct {
	Pagination
	ClientID string
	Search   string
}

// Agent statuses seen in practice; the set is open-ended.
const (
	AgentActive   = "active"
	AgentInactive = "inactive"
	AgentDisabled = "disabled"
	AgentOffline  = "offline"
	AgentError    = "error"
)

type Agent struct {
	ID                  int       `json:"id"`
	Name                string    `json:"name"`
	Status              string    `json:"status"`
	Version             string    `json:"version,omitempty"`
	Hardware            Hardware  `json:"hardware"`
	ExtraParameters     string    `json:"extraParameters"`
	IsEnabled           bool      `json:"isEnabled"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	SyncStatus          string    `json:"syncStatus,omitempty"`
	LastSeen            time.Time `json:"lastSeen"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

type Hardware struct {
	CPUs              []CPU              `json:"cpus"`
	GPUs              []GPU              `json:"gpus"`
	NetworkInterfaces []NetworkInterface `json:"network_interfaces"`
}

type CPU struct {
	Model   string  `json:"model"`
	Cores   int     `json:"cores"`
	Threads int     `json:"threads"`
	Freq    float64 `json:"frequency"`
}

type GPU struct {
	Vendor string `json:"vendor"`
	Model  string `json:"model"`
	Memory int64  `json:"memory"`
	Driver string `json:"driver"`
}

type NetworkInterface struct {
	Name      string `json:"name"`
	IPAddress string `json:"ip_address"`
}

type ListAgentsOptions struct {
	Pagination
	Status string
}

type UpdateAgentRequest struct {
	Name            *string `json:"name,omitempty"`
	ExtraParameters *string `json:"extra_parameters,omitempty"`
	IsEnabled       *bool   `json:"is_enabled,omitempty"`
}

// Voucher lets an agent register. Single-use vouchers are consumed by the
// first registration; continuous ones stay valid until disabled or expired.
type Voucher struct {
	Code         string     `json:"code"`
	IsActive     bool       `json:"is_active"`
	IsContinuous bool       `json:"is_continuous"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

type GenerateVoucherRequest struct {
	IsContinuous bool
	// ExpiresIn is sent in whole seconds when set; otherwise the server default applies.
	ExpiresIn *time.Duration
}

func (r GenerateVoucherRequest) MarshalJSON() ([]byte, error) {
	wire := struct {
		IsContinuous bool   `json:"is_continuous"`
		ExpiresIn    *int64 `json:"expires_in,omitempty"`
	}{IsContinuous: r.IsContinuous}
	if r.ExpiresIn != nil {
		secs := int64(r.ExpiresIn.Seconds())
		wire.ExpiresIn = &secs
	}
	return json.Marshal(wire)
}

// JobStatus is observed, never set, by the client.
//
//	pending → running → (completed|failed)
//
// running ↔ paused is a side transition. cancelled is terminal; interrupted
// jobs are resumed by the scheduler.
type JobStatus string

const (
	JobPending     JobStatus = "pending"
	JobRunning     JobStatus = "running"
	JobPaused      JobStatus = "paused"
	JobCompleted   JobStatus = "completed"
	JobFailed      JobStatus = "failed"
	JobCancelled   JobStatus = "cancelled"
	JobInterrupted JobStatus = "interrupted"
)

// IsTerminal reports whether no further transitions will happen.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// IncrementOff disables layered increment attacks.
const IncrementOff = "off"

type Job struct {
	ID                     string     `json:"id"`
	Name                   string     `json:"name"`
	HashlistID             int64      `json:"hashlist_id,omitempty"`
	PresetJobID            string     `json:"preset_job_id,omitempty"`
	WorkflowID             string     `json:"workflow_id,omitempty"`
	Status                 JobStatus  `json:"status"`
	Priority               int        `json:"priority"`
	MaxAgents              int        `json:"max_agents"`
	Progress               float64    `json:"progress"`
	DispatchedPercent      float64    `json:"dispatched_percent"`
	SearchedPercent        float64    `json:"searched_percent"`
	OverallProgressPercent float64    `json:"overall_progress_percent"`
	CrackedCount           int64      `json:"cracked_count"`
	TotalHashes            int64      `json:"total_hashes"`
	AgentCount             int        `json:"agent_count"`
	TotalSpeed             int64      `json:"total_speed"`
	IncrementMode          string     `json:"increment_mode,omitempty"`
	IncrementMin           *int       `json:"increment_min,omitempty"`
	IncrementMax           *int       `json:"increment_max,omitempty"`
	ErrorMessage           *string    `json:"error_message,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
	StartedAt              *time.Time `json:"started_at,omitempty"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

// Percent is the best available progress figure.
func (j Job) Percent() float64 {
	if j.Progress > 0 {
		return j.Progress
	}
	return j.OverallProgressPercent
}

// HasLayers reports whether the job runs as ordered increment layers. An
// absent increment_mode is treated as off.
func (j Job) HasLayers() bool {
	return j.IncrementMode != "" && j.IncrementMode != IncrementOff
}

// Default job priority used when the caller does not pick one.
const DefaultJobPriority = 100

// CreateJobRequest needs exactly one of PresetJobID and WorkflowID.
type CreateJobRequest struct {
	Name        string
	HashlistID  int64
	PresetJobID *string
	WorkflowID  *string
	// Priority defaults to DefaultJobPriority; higher is scheduled sooner.
	Priority *int
	// MaxAgents defaults to 0, meaning unlimited.
	MaxAgents *int
}

func (r CreateJobRequest) MarshalJSON() ([]byte, error) {
	wire := struct {
		Name        string  `json:"name"`
		HashlistID  int64   `json:"hashlist_id"`
		PresetJobID *string `json:"preset_job_id,omitempty"`
		WorkflowID  *string `json:"workflow_id,omitempty"`
		Priority    int     `json:"priority"`
		MaxAgents   int     `json:"max_agents"`
	}{
		Name:        r.Name,
		HashlistID:  r.HashlistID,
		PresetJobID: r.PresetJobID,
		WorkflowID:  r.WorkflowID,
		Priority:    DefaultJobPriority,
	}
	if r.Priority != nil {
		wire.Priority = *r.Priority
	}
	if r.MaxAgents != nil {
		wire.MaxAgents = *r.MaxAgents
	}
	return json.Marshal(wire)
}

type UpdateJobRequest struct {
	Name      *string `json:"name,omitempty"`
	Priority  *int    `json:"priority,omitempty"`
	MaxAgents *int    `json:"max_agents,omitempty"`
}

type ListJobsOptions struct {
	Pagination
	Status     JobStatus
	HashlistID int64
	ClientID   string
}

// JobList is a page of jobs plus per-status counts across all pages.
type JobList struct {
	Jobs         Page[Job]
	StatusCounts map[string]int
}

// Layer is one increment step of a job.
type Layer struct {
	ID         string  `json:"id"`
	JobID      string  `json:"job_execution_id"`
	LayerIndex int     `json:"layer_index"`
	Mask       string  `json:"mask,omitempty"`
	Status     string  `json:"status"`
	Progress   float64 `json:"progress"`
}

type Task struct {
	ID           string  `json:"id"`
	LayerID      string  `json:"increment_layer_id,omitempty"`
	AgentID      *int    `json:"agent_id,omitempty"`
	Status       string  `json:"status"`
	Progress     float64 `json:"progress"`
	CrackCount   int64   `json:"crack_count"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

type HashType struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Example     string `json:"example,omitempty"`
	IsEnabled   bool   `json:"is_enabled"`
	Slow        bool   `json:"slow"`
}

type Workflow struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Steps []WorkflowStep `json:"steps,omitempty"`
}

type WorkflowStep struct {
	PresetJobID   string `json:"preset_job_id"`
	StepOrder     int    `json:"step_order"`
	PresetJobName string `json:"preset_job_name,omitempty"`
}

type PresetJob struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AttackMode int    `json:"attack_mode"`
	Priority   int    `json:"priority"`
	MaxAgents  int    `json:"max_agents"`
	Mask       string `json:"mask,omitempty"`
	Keyspace   *int64 `json:"keyspace,omitempty"`
}

type Health struct {
	Status string `json:"status"`
}
