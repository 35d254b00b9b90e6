package testing

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// ScriptedHandler answers requests from a per-route queue of canned
// responses. It covers shapes the fake service never produces, such as
// plain-text gateway errors.
type ScriptedHandler struct {
	mu        sync.Mutex
	responses map[string][]*ScriptedResponse
	requests  []*ScriptedRequest
}

// ScriptedResponse is one canned reply. Raw, when set, is written verbatim;
// otherwise JSON is encoded from Body.
type ScriptedResponse struct {
	Status int
	Body   any
	Raw    string
}

// ScriptedRequest is a captured request.
type ScriptedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

func NewScriptedHandler() *ScriptedHandler {
	return &ScriptedHandler{responses: make(map[string][]*ScriptedResponse)}
}

// ServeHTTP replays the next response for METHOD:path. The last response
// for a route repeats; unknown routes get 404 with an empty body.
func (m *ScriptedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	m.requests = append(m.requests, &ScriptedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   body,
	})

	key := r.Method + ":" + r.URL.Path
	queue := m.responses[key]
	if len(queue) == 0 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	resp := queue[0]
	if len(queue) > 1 {
		m.responses[key] = queue[1:]
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if resp.Raw != "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp.Raw)
		return
	}
	if resp.Body == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp.Body)
}

// AddJSON queues a JSON response.
func (m *ScriptedHandler) AddJSON(method, path string, status int, body any) {
	m.add(method, path, &ScriptedResponse{Status: status, Body: body})
}

// AddRaw queues a verbatim response body.
func (m *ScriptedHandler) AddRaw(method, path string, status int, raw string) {
	m.add(method, path, &ScriptedResponse{Status: status, Raw: raw})
}

func (m *ScriptedHandler) add(method, path string, resp *ScriptedResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := method + ":" + path
	m.responses[key] = append(m.responses[key], resp)
}

// Requests returns the captured requests.
func (m *ScriptedHandler) Requests() []*ScriptedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ScriptedRequest(nil), m.requests...)
}

// NewTestServer serves the handler until the test ends.
func (m *ScriptedHandler) NewTestServer(t interface{ Cleanup(func()) }) *httptest.Server {
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)
	return srv
}
