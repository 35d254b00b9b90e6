// Package testing provides shared test fixtures for khctl.
//
// Key utilities:
//   - Fixtures: NewTestJob, NewTestLayer, NewTestHashlist
//   - Servers: NewFakeAPI wires internal/fakeapi behind httptest
//   - Helpers: TempHashFile, AssertJSONEqual
package testing

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krakenhashes/khctl/internal/fakeapi"
	"github.com/krakenhashes/khctl/internal/userapi"
)

// FixedTime is a fixed timestamp for deterministic tests.
var FixedTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const TestEmail = "analyst@example.com"

// TestAPIKey has the length the service issues.
var TestAPIKey = strings.Repeat("0123456789abcdef", userapi.APIKeyLength/16)

// AssertJSONEqual asserts that two values marshal to semantically equal JSON.
func AssertJSONEqual(t *testing.T, want, got any, msgAndArgs ...interface{}) {
	t.Helper()
	wantBytes, err := json.Marshal(want)
	require.NoError(t, err, "failed to marshal 'want' to JSON")
	gotBytes, err := json.Marshal(got)
	require.NoError(t, err, "failed to marshal 'got' to JSON")
	assert.JSONEq(t, string(wantBytes), string(gotBytes), msgAndArgs...)
}

// TempHashFile writes one hash per line to hashes.txt in a temp dir.
func TempHashFile(t *testing.T, hashes ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hashes.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(hashes, "\n")+"\n"), 0o600))
	return path
}

// FakeAPI is a running fake service plus a client configuration for it.
type FakeAPI struct {
	Server  *fakeapi.Server
	HTTP    *httptest.Server
	BaseURL string
	Config  userapi.Config
}

// NewFakeAPI starts a fake service accepting TestEmail and TestAPIKey. It is
// closed when the test ends.
func NewFakeAPI(t *testing.T) *FakeAPI {
	t.Helper()
	srv := fakeapi.New(TestEmail, TestAPIKey)
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	base := httpSrv.URL + fakeapi.Prefix
	return &FakeAPI{
		Server:  srv,
		HTTP:    httpSrv,
		BaseURL: base,
		Config:  userapi.Config{BaseURL: base, Email: TestEmail, APIKey: TestAPIKey},
	}
}

// Client builds a userapi.Client for the fake service.
func (f *FakeAPI) Client(t *testing.T, opts ...userapi.Option) *userapi.Client {
	t.Helper()
	c, err := userapi.New(f.Config, opts...)
	require.NoError(t, err)
	return c
}

// JobOpts holds optional fields for NewTestJob. Zero values take defaults.
type JobOpts struct {
	ID            string
	Name          string
	HashlistID    int64
	Status        userapi.JobStatus
	Progress      float64
	CrackedCount  int64
	TotalHashes   int64
	IncrementMode string
}

func NewTestJob(opts JobOpts) userapi.Job {
	job := userapi.Job{
		ID:            opts.ID,
		Name:          opts.Name,
		HashlistID:    opts.HashlistID,
		Status:        opts.Status,
		Priority:      userapi.DefaultJobPriority,
		Progress:      opts.Progress,
		CrackedCount:  opts.CrackedCount,
		TotalHashes:   opts.TotalHashes,
		IncrementMode: opts.IncrementMode,
		CreatedAt:     FixedTime,
		UpdatedAt:     FixedTime,
	}
	if job.ID == "" {
		job.ID = "job-1"
	}
	if job.Name == "" {
		job.Name = "test job"
	}
	if job.HashlistID == 0 {
		job.HashlistID = 1
	}
	if job.Status == "" {
		job.Status = userapi.JobPending
	}
	if job.IncrementMode == "" {
		job.IncrementMode = userapi.IncrementOff
	}
	return job
}

func NewTestLayer(jobID string, index int, status string, progress float64) userapi.Layer {
	return userapi.Layer{
		ID:         jobID + "-layer-" + strconv.Itoa(index),
		JobID:      jobID,
		LayerIndex: index,
		Mask:       strings.Repeat("?d", index),
		Status:     status,
		Progress:   progress,
	}
}

func NewTestHashlist(name, clientID string, hashes int64) userapi.Hashlist {
	return userapi.Hashlist{
		Name:      name,
		ClientID:  clientID,
		HashCount: hashes,
		Status:    userapi.HashlistReady,
		CreatedAt: FixedTime,
		UpdatedAt: FixedTime,
	}
}
