package fakeapi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/krakenhashes/khctl/internal/userapi"
)

const maxUploadBytes = 32 << 20

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := Request{
			Method:      r.Method,
			Path:        r.URL.Path,
			Query:       r.URL.RawQuery,
			ContentType: r.Header.Get("Content-Type"),
			Email:       r.Header.Get(userapi.HeaderEmail),
			APIKey:      r.Header.Get(userapi.HeaderAPIKey),
			UserAgent:   r.UserAgent(),
		}
		if !strings.HasPrefix(req.ContentType, "multipart/") && r.Body != nil {
			body, _ := io.ReadAll(r.Body)
			req.Body = body
			r.Body = io.NopCloser(bytes.NewReader(body))
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := r.Header.Get(userapi.HeaderEmail)
		key := r.Header.Get(userapi.HeaderAPIKey)
		if email == "" || key == "" {
			respondError(w, http.StatusUnauthorized, userapi.CodeAuthRequired, "API key and email required")
			return
		}
		if email != s.Email || key != s.APIKey {
			respondError(w, http.StatusUnauthorized, userapi.CodeAccessDenied, "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, userapi.CodeValidation, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) createClient(w http.ResponseWriter, r *http.Request) {
	var req userapi.CreateClientRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, userapi.CodeValidation, "Client name is required")
		return
	}
	c := s.AddClient(userapi.Organization{
		Name:                req.Name,
		Description:         req.Description,
		Domain:              req.Domain,
		DataRetentionMonths: req.DataRetentionMonths,
	})
	respondJSON(w, http.StatusCreated, c)
}

func (s *Server) listClients(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	items := make([]userapi.Organization, 0, len(s.clients))
	for _, c := range s.clients {
		items = append(items, c)
	}
	s.mu.Unlock()
	sort.Slice(items, func(i, j int) bool {
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].ID < items[j].ID
	})
	respondList(w, r, "clients", items, nil)
}

func (s *Server) getClient(w http.ResponseWriter, r *http.Request) {
	c, ok := s.Client(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, http.StatusNotFound, userapi.CodeNotFound, "Client not found")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) updateClient(w http.ResponseWriter, r *http.Request) {
	var req userapi.UpdateClientRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := chi.URLParam(r, "id")
	c, ok := s.clients[id]
	if !ok {
		respondError(w, http.StatusNotFound, userapi.CodeNotFound, "Client not found")
		return
	}
	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Description != nil {
		c.Description = req.Description
	}
	if req.Domain != nil {
		c.Domain = req.Domain
	}
	c.UpdatedAt = s.now()
	s.clients[id] = c
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) deleteClient(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := chi.URLParam(r, "id")
	if _, ok := s.clients[id]; !ok {
		respondError(w, http.StatusNotFound, userapi.CodeNotFound, "Client not found")
		return
	}
	for _, h := range s.hashlists {
		if h.ClientID == id {
			respondError(w, http.StatusConflict, userapi.CodeClientHasHashlists, "Cannot delete client with associated hashlists")
			return
		}
	}
	delete(s.clients, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createHashlist(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondError(w, http.StatusBadRequest, userapi.CodeValidation, "Invalid multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, userapi.CodeValidation, "Hashlist file is required")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		respondError(w, http.StatusBadRequest, userapi.CodeValidation, "Read hashlist file: "+err.Error())
		return
	}
	fields := map[string]string{}
	for name, values := range r.MultipartForm.Value {
		if len(values) > 0 {
			fields[name] = values[0]
		}
	}
	s.mu.Lock()
	s.uploads = append(s.uploads, Upload{
		Fields:      fields,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     string(content),
	})
	s.mu.Unlock()

	name := strings.TrimSpace(fields["name"])
	if name == "" {
		respondError(w, http.StatusBadRequest, userapi.CodeValidation, "Hashlist name is required")
		return
	}
	hashType, err := strconv.Atoi(fields["hash_type_id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, userapi.CodeValidation, "Invalid hash_type_id")
		return
	}
	clientID, hasClient := fields["client_id"]
	if s.RequireClient && strings.TrimSpace(clientID) == "" {
		respondError(w, http.StatusBadRequest, userapi.CodeClientRequired, "A client must be selected for this hashlist")
		return
	}
	if hasClient && clientID != "" {
		if _, ok := s.Client(clientID); !ok {
			respondError(w, http.StatusBadRequest, userapi.CodeValidation, "Client not found")
			return
		}
	}
	h := s.AddHashlist(userapi.Hashlist{
		Name:       name,
		HashTypeID: hashType,
		ClientID:   clientID,
		HashCount:  countLines(content),
		Status:     userapi.HashlistUploading,
		CreatedAt:  s.now(),
		UpdatedAt:  s.now(),
	})
	respondJSON(w, http.StatusCreated, h)
}

func countLines(content []byte) int64 {
	var n int64
	sc := bufio.NewScanner(bytes.NewReader(content))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	return n
}

func (s *Server) listHashlists(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	search := strings.ToLower(r.URL.Query().Get("search"))
	s.mu.Lock()
	items := []userapi.Hashlist{}
	for _, id := range sortedKeys(s.hashlists) {
		h := s.hashlists[id]
		if clientID != "" && h.ClientID != clientID {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(h.Name), search) {
			continue
		}
		items = append(items, h)
	}
	s.mu.Unlock()
	respondList(w, r, "hashlists", items, nil)
}

func (s *Server) hashlistID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, userapi.CodeValidation, "Invalid hashlist ID")
		return 0, false
	}
	return id, true
}

func (s *Server) getHashlist(w http.ResponseWriter, r *http.Request) {
	id, ok := s.hashlistID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	h, found := s.hashlists[id]
	s.mu.Unlock()
	if !found {
		respondError(w, http.StatusNotFound, userapi.CodeNotFound, "Hashlist not found")
		return
	}
	respondJSON(w, http.StatusOK, h)
}

func (s *Server) deleteHashlist(w http.ResponseWriter, r *http.Request) {
	id, ok := s.hashlistID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.hashlists[id]; !found {
		respondError(w, http.StatusNotFound, userapi.CodeNotFound, "Hashlist not found")
		return
	}
	for _, job := range s.jobs {
		if job.HashlistID == id && !job.Status.IsTerminal() {
			respondError(w, http.StatusConflict, userapi.CodeHashlistHasActiveJobs, "Cannot delete hashlist with active jobs")
			return
		}
	}
	delete(s.hashlists, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) agentID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, userapi.CodeValidation, "Invalid agent ID")
		return 0, false
	}
	return id, true
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	s.mu.Lock()
	ids := make([]int, 0, len(s.agents))
	for id := range s.agents {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	items := []userapi.Agent{}
	for _, id := range ids {
		if a := s.agents[id]; status == "" || a.Status == status {
			items = append(items, a)
		}
	}
	s.mu.Unlock()
	respondList(w, r, "agents", items, nil)
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := s.agentID(w, r)
	if !ok {
		return
	}
	a, found := s.Agent(id)
	if !found {
		respondError(w, http.StatusNotFound, userapi.CodeAgentNotFound, "Agent not found")
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) updateAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := s.agentID(w, r)
	if !ok {
		return
	}
	var req userapi.UpdateAgentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, found := s.agents[id]
	if !found {
		respondError(w, http.StatusNotFound, userapi.CodeAgentNotFound, "Agent not found")
		return
	}
	if req.Name != nil {
		a.Name = *req.Name
	}
	if req.ExtraParameters != nil {
		a.ExtraParameters = *req.ExtraParameters
	}
	if req.IsEnabled != nil {
		a.IsEnabled = *req.IsEnabled
	}
	a.UpdatedAt = s.now()
	s.agents[id] = a
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) deleteAgent(w http.ResponseWriter, r *http.Request) {
	id, ok := s.agentID(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, found := s.agents[id]
	if !found {
		respondError(w, http.StatusNotFound, userapi.CodeAgentNotFound, "Agent not found")
		return
	}
	a.IsEnabled = false
	a.Status = userapi.AgentDisabled
	s.agents[id] = a
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) generateVoucher(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IsContinuous bool   `json:"is_continuous"`
		ExpiresIn    *int64 `json:"expires_in"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	v := userapi.Voucher{
		Code:         strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")),
		IsActive:     true,
		IsContinuous: req.IsContinuous,
		CreatedAt:    s.now(),
	}
	if req.ExpiresIn != nil && *req.ExpiresIn > 0 {
		expires := v.CreatedAt.Add(time.Duration(*req.ExpiresIn) * time.Second)
		v.ExpiresAt = &expires
	}
	s.mu.Lock()
	s.vouchers = append(s.vouchers, v)
	s.mu.Unlock()
	respondJSON(w, http.StatusCreated, v)
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string  `json:"name"`
		HashlistID  int64   `json:"hashlist_id"`
		PresetJobID *string `json:"preset_job_id"`
		WorkflowID  *string `json:"workflow_id"`
		Priority    int     `json:"priority"`
		MaxAgents   int     `json:"max_agents"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if (req.PresetJobID == nil) == (req.WorkflowID == nil) {
		respondError(w, http.StatusBadRequest, userapi.CodeValidation, "Exactly one of preset_job_id or workflow_id is required")
		return
	}
	if req.Priority < 1 || req.MaxAgents < 0 {
		respondError(w, http.StatusBadRequest, userapi.CodeValidation, "Invalid priority or max_agents")
		return
	}
	s.mu.Lock()
	h, found := s.hashlists[req.HashlistID]
	s.mu.Unlock()
	if !found {
		respondError(w, http.StatusNotFound, userapi.CodeNotFound, fmt.Sprintf("Hashlist %d not found", req.HashlistID))
		return
	}
	job := userapi.Job{
		Name:          req.Name,
		HashlistID:    req.HashlistID,
		Priority:      req.Priority,
		MaxAgents:     req.MaxAgents,
		TotalHashes:   h.HashCount,
		IncrementMode: userapi.IncrementOff,
		CreatedAt:     s.now(),
		UpdatedAt:     s.now(),
	}
	if req.PresetJobID != nil {
		job.PresetJobID = *req.PresetJobID
	}
	if req.WorkflowID != nil {
		job.WorkflowID = *req.WorkflowID
	}
	respondJSON(w, http.StatusCreated, s.AddJob(job))
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	hashlistID, _ := strconv.ParseInt(q.Get("hashlist_id"), 10, 64)
	clientID := q.Get("client_id")

	s.mu.Lock()
	counts := map[string]int{}
	items := []userapi.Job{}
	for _, id := range sortedKeys(s.jobs) {
		j := s.jobs[id]
		counts[string(j.Status)]++
		if status != "" && string(j.Status) != status {
			continue
		}
		if hashlistID > 0 && j.HashlistID != hashlistID {
			continue
		}
		if clientID != "" && s.hashlists[j.HashlistID].ClientID != clientID {
			continue
		}
		items = append(items, j)
	}
	s.mu.Unlock()
	respondList(w, r, "jobs", items, map[string]any{"status_counts": counts})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	j, found := s.jobs[chi.URLParam(r, "id")]
	s.mu.Unlock()
	if !found {
		respondError(w, http.StatusNotFound, userapi.CodeNotFound, "Job not found")
		return
	}
	respondJSON(w, http.StatusOK, j)
}

func (s *Server) updateJob(w http.ResponseWriter, r *http.Request) {
	var req userapi.UpdateJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := chi.URLParam(r, "id")
	j, found := s.jobs[id]
	if !found {
		respondError(w, http.StatusNotFound, userapi.CodeNotFound, "Job not found")
		return
	}
	if req.Name != nil {
		j.Name = *req.Name
	}
	if req.Priority != nil {
		j.Priority = *req.Priority
	}
	if req.MaxAgents != nil {
		j.MaxAgents = *req.MaxAgents
	}
	j.UpdatedAt = s.now()
	s.jobs[id] = j
	respondJSON(w, http.StatusOK, j)
}

// Layer and task lists are bare arrays, as the real service returns them.
func (s *Server) listLayers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	_, found := s.jobs[id]
	layers := append([]userapi.Layer{}, s.layers[id]...)
	s.mu.Unlock()
	if !found {
		respondError(w, http.StatusNotFound, userapi.CodeNotFound, "Job not found")
		return
	}
	respondJSON(w, http.StatusOK, layers)
}

func (s *Server) listLayerTasks(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	tasks := append([]userapi.Task{}, s.tasks[chi.URLParam(r, "layer_id")]...)
	s.mu.Unlock()
	page, size := pageParams(r)
	start := (page - 1) * size
	if start > len(tasks) {
		start = len(tasks)
	}
	end := start + size
	if end > len(tasks) {
		end = len(tasks)
	}
	respondJSON(w, http.StatusOK, tasks[start:end])
}

func (s *Server) listHashTypes(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled_only") == "true"
	s.mu.Lock()
	items := []userapi.HashType{}
	for _, ht := range s.hashTypes {
		if enabledOnly && !ht.IsEnabled {
			continue
		}
		items = append(items, ht)
	}
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string]any{"hash_types": items, "total": len(items)})
}

func (s *Server) listWorkflows(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	items := append([]userapi.Workflow{}, s.workflows...)
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string]any{"workflows": items, "total": len(items)})
}

func (s *Server) listPresets(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	items := append([]userapi.PresetJob{}, s.presets...)
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string]any{"preset_jobs": items, "total": len(items)})
}
