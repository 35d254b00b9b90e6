// Package fakeapi is an in-memory stand-in for the User API, used by tests
// that exercise the client over real HTTP.
package fakeapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/krakenhashes/khctl/internal/userapi"
)

// Prefix is where the API is mounted.
const Prefix = "/api/v1"

// Upload is a received multipart hashlist upload.
type Upload struct {
	Fields      map[string]string
	Filename    string
	ContentType string
	Content     string
}

// Request is a recorded incoming request.
type Request struct {
	Method      string
	Path        string
	Query       string
	ContentType string
	Email       string
	APIKey      string
	UserAgent   string
	Body        []byte
}

// Server holds all fake state. The zero value is not usable; call New.
type Server struct {
	Email  string
	APIKey string
	// RequireClient makes hashlist uploads without client_id fail with
	// CLIENT_REQUIRED.
	RequireClient bool

	mu         sync.Mutex
	now        func() time.Time
	clients    map[string]userapi.Organization
	hashlists  map[int64]userapi.Hashlist
	agents     map[int]userapi.Agent
	vouchers   []userapi.Voucher
	jobs       map[string]userapi.Job
	layers     map[string][]userapi.Layer
	tasks      map[string][]userapi.Task
	hashTypes  []userapi.HashType
	workflows  []userapi.Workflow
	presets    []userapi.PresetJob
	uploads    []Upload
	requests   []Request
	nextListID int64
}

func New(email, apiKey string) *Server {
	return &Server{
		Email:      email,
		APIKey:     apiKey,
		now:        func() time.Time { return time.Now().UTC() },
		clients:    map[string]userapi.Organization{},
		hashlists:  map[int64]userapi.Hashlist{},
		agents:     map[int]userapi.Agent{},
		jobs:       map[string]userapi.Job{},
		layers:     map[string][]userapi.Layer{},
		tasks:      map[string][]userapi.Task{},
		nextListID: 1,
		hashTypes: []userapi.HashType{
			{ID: 0, Name: "MD5", IsEnabled: true},
			{ID: 100, Name: "SHA1", IsEnabled: true},
			{ID: 1000, Name: "NTLM", IsEnabled: true},
			{ID: 3200, Name: "bcrypt", IsEnabled: false, Slow: true},
		},
	}
}

// Handler returns the chi router serving the API under Prefix.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer, s.record)
	r.Route(Prefix, func(api chi.Router) {
		api.Use(s.authenticate)
		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			respondJSON(w, http.StatusOK, userapi.Health{Status: "ok"})
		})

		api.Post("/clients", s.createClient)
		api.Get("/clients", s.listClients)
		api.Get("/clients/{id}", s.getClient)
		api.Patch("/clients/{id}", s.updateClient)
		api.Delete("/clients/{id}", s.deleteClient)

		api.Post("/hashlists", s.createHashlist)
		api.Get("/hashlists", s.listHashlists)
		api.Get("/hashlists/{id}", s.getHashlist)
		api.Delete("/hashlists/{id}", s.deleteHashlist)

		api.Post("/agents/vouchers", s.generateVoucher)
		api.Get("/agents", s.listAgents)
		api.Get("/agents/{id}", s.getAgent)
		api.Patch("/agents/{id}", s.updateAgent)
		api.Delete("/agents/{id}", s.deleteAgent)

		api.Post("/jobs", s.createJob)
		api.Get("/jobs", s.listJobs)
		api.Get("/jobs/{id}", s.getJob)
		api.Patch("/jobs/{id}", s.updateJob)
		api.Get("/jobs/{id}/layers", s.listLayers)
		api.Get("/jobs/{id}/layers/{layer_id}", s.listLayerTasks)

		api.Get("/hash-types", s.listHashTypes)
		api.Get("/workflows", s.listWorkflows)
		api.Get("/preset-jobs", s.listPresets)
	})
	return r
}

// Requests returns a copy of every request seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// LastRequest returns the most recent request, or the zero Request.
func (s *Server) LastRequest() Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return Request{}
	}
	return s.requests[len(s.requests)-1]
}

func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// AddClient stores c, assigning an id when it has none.
func (s *Server) AddClient(c userapi.Organization) userapi.Organization {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt, c.UpdatedAt = s.now(), s.now()
	s.clients[c.ID] = c
	return c
}

func (s *Server) AddHashlist(h userapi.Hashlist) userapi.Hashlist {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.ID == 0 {
		h.ID = s.nextListID
	}
	if h.ID >= s.nextListID {
		s.nextListID = h.ID + 1
	}
	if h.Status == "" {
		h.Status = userapi.HashlistReady
	}
	s.hashlists[h.ID] = h
	return h
}

func (s *Server) AddAgent(a userapi.Agent) userapi.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = len(s.agents) + 1
	}
	s.agents[a.ID] = a
	return a
}

// AddJob stores j, assigning an id when it has none.
func (s *Server) AddJob(j userapi.Job) userapi.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	if j.Status == "" {
		j.Status = userapi.JobPending
	}
	s.jobs[j.ID] = j
	return j
}

// SetJob replaces the stored state of an existing job.
func (s *Server) SetJob(j userapi.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
}

func (s *Server) SetLayers(jobID string, layers []userapi.Layer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers[jobID] = layers
}

func (s *Server) SetTasks(layerID string, tasks []userapi.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[layerID] = tasks
}

func (s *Server) AddWorkflow(w userapi.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows = append(s.workflows, w)
}

func (s *Server) AddPreset(p userapi.PresetJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presets = append(s.presets, p)
}

func (s *Server) Agent(id int) (userapi.Agent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	return a, ok
}

func (s *Server) Client(id string) (userapi.Organization, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	return c, ok
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"code": code, "message": message})
}

func respondList[T any](w http.ResponseWriter, r *http.Request, key string, items []T, extra map[string]any) {
	page, size := pageParams(r)
	start := (page - 1) * size
	end := start + size
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}
	body := map[string]any{
		key:         append([]T{}, items[start:end]...),
		"total":     len(items),
		"page":      page,
		"page_size": size,
	}
	for k, v := range extra {
		body[k] = v
	}
	respondJSON(w, http.StatusOK, body)
}

func pageParams(r *http.Request) (int, int) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	size, err := strconv.Atoi(r.URL.Query().Get("page_size"))
	if err != nil || size < 1 {
		size = userapi.DefaultPageSize
	}
	return page, size
}

func sortedKeys[K ~string | ~int | ~int64, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
