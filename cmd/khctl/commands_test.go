package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krakenhashes/khctl/internal/config"
	khtest "github.com/krakenhashes/khctl/internal/testing"
	"github.com/krakenhashes/khctl/internal/userapi"
)

func TestClientCommands(t *testing.T) {
	fake := useFakeAPI(t)

	code, out, stderr := runCLI(t, "--json", "client", "create", "--name", "Acme", "--domain", "acme.test", "--retention-months", "0")
	require.Equal(t, exitOK, code, stderr)
	var created userapi.Organization
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, "Acme", created.Name)
	require.NotNil(t, created.DataRetentionMonths)
	assert.Equal(t, 0, *created.DataRetentionMonths)
	assert.JSONEq(t, `{"name":"Acme","domain":"acme.test","data_retention_months":0}`, string(fake.Server.LastRequest().Body))

	code, out, _ = runCLI(t, "client", "list")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, created.ID)
	assert.Contains(t, out, "acme.test")

	code, _, stderr = runCLI(t, "client", "update", created.ID, "--description", "")
	require.Equal(t, exitOK, code, stderr)
	assert.JSONEq(t, `{"description":""}`, string(fake.Server.LastRequest().Body))

	code, _, stderr = runCLI(t, "client", "update", created.ID)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "nothing to update")

	code, out, _ = runCLI(t, "client", "delete", created.ID)
	require.Equal(t, exitOK, code)
	assert.Equal(t, "Client "+created.ID+" deleted\n", out)
	_, ok := fake.Server.Client(created.ID)
	assert.False(t, ok)

	code, _, stderr = runCLI(t, "client", "show", "not-a-uuid")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "must be a UUID")
}

func TestClientListAllPages(t *testing.T) {
	fake := useFakeAPI(t)
	for i := 0; i < 5; i++ {
		fake.Server.AddClient(userapi.Organization{Name: fmt.Sprintf("client-%d", i)})
	}
	code, out, _ := runCLI(t, "--json", "client", "list", "--all", "--page-size", "2")
	require.Equal(t, exitOK, code)
	var clients []userapi.Organization
	require.NoError(t, json.Unmarshal([]byte(out), &clients))
	assert.Len(t, clients, 5)

	code, out, _ = runCLI(t, "client", "list", "--page-size", "2")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "page 1 (size 2): 2 of 5")
}

func TestClientDeleteConflictHint(t *testing.T) {
	fake := useFakeAPI(t)
	client := fake.Server.AddClient(userapi.Organization{Name: "Acme"})
	fake.Server.AddHashlist(userapi.Hashlist{Name: "dump", ClientID: client.ID})

	code, _, stderr := runCLI(t, "client", "delete", client.ID)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "CLIENT_HAS_HASHLISTS")
	assert.Contains(t, stderr, "next: khctl hashlist list --client <client_id>")
}

func TestHashlistUpload(t *testing.T) {
	fake := useFakeAPI(t)
	client := fake.Server.AddClient(userapi.Organization{Name: "Acme"})
	path := khtest.TempHashFile(t, "5f4dcc3b5aa765d61d8327deb882cf99", "e10adc3949ba59abbe56e057f20f883e")

	code, out, stderr := runCLI(t, "hashlist", "upload", "--file", path, "--hash-type", "0", "--client", client.ID)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "uploaded (uploading)")

	uploads := fake.Server.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, "hashes", uploads[0].Fields["name"])
	assert.Equal(t, "0", uploads[0].Fields["hash_type_id"])
	assert.Equal(t, client.ID, uploads[0].Fields["client_id"])
	assert.Equal(t, "hashes.txt", uploads[0].Filename)

	code, _, stderr = runCLI(t, "hashlist", "upload", "--file", path)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "--hash-type is required")
	assert.Contains(t, stderr, "hint: list modes with: khctl meta hash-types")
}

func TestHashlistUploadClientRequired(t *testing.T) {
	fake := useFakeAPI(t)
	fake.Server.RequireClient = true
	path := khtest.TempHashFile(t, "5f4dcc3b5aa765d61d8327deb882cf99")

	code, _, stderr := runCLI(t, "hashlist", "upload", "--file", path, "--hash-type", "0")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "CLIENT_REQUIRED")
	assert.Contains(t, stderr, "next: khctl client list")
}

func TestHashlistShowAndDelete(t *testing.T) {
	fake := useFakeAPI(t)
	h := fake.Server.AddHashlist(khtest.NewTestHashlist("ntlm dump", "", 10))

	code, out, _ := runCLI(t, "hashlist", "show", fmt.Sprint(h.ID))
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "Name: ntlm dump\n")
	assert.Contains(t, out, "Cracked: 0/10")

	code, _, _ = runCLI(t, "hashlist", "delete", fmt.Sprint(h.ID))
	require.Equal(t, exitOK, code)

	code, _, stderr := runCLI(t, "hashlist", "show", fmt.Sprint(h.ID))
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "next: khctl hashlist list")

	code, _, _ = runCLI(t, "hashlist", "show", "abc")
	assert.Equal(t, exitUsage, code)
}

func TestHashlistDeleteActiveJobsHint(t *testing.T) {
	fake := useFakeAPI(t)
	h := fake.Server.AddHashlist(khtest.NewTestHashlist("in use", "", 3))
	fake.Server.AddJob(khtest.NewTestJob(khtest.JobOpts{HashlistID: h.ID, Status: userapi.JobRunning}))

	code, _, stderr := runCLI(t, "hashlist", "delete", fmt.Sprint(h.ID))
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "HASHLIST_HAS_ACTIVE_JOBS, HTTP 409")
	assert.Contains(t, stderr, "next: khctl job list --hashlist <hashlist_id>")
}

func TestAgentCommands(t *testing.T) {
	fake := useFakeAPI(t)
	agent := fake.Server.AddAgent(userapi.Agent{Name: "rig-1", Status: "active", IsEnabled: true})
	id := fmt.Sprint(agent.ID)

	code, out, _ := runCLI(t, "agent", "list")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "rig-1")

	code, _, stderr := runCLI(t, "agent", "update", id, "--enabled=false", "--extra-params", "")
	require.Equal(t, exitOK, code, stderr)
	assert.JSONEq(t, `{"extra_parameters":"","is_enabled":false}`, string(fake.Server.LastRequest().Body))

	code, out, _ = runCLI(t, "agent", "disable", id)
	require.Equal(t, exitOK, code)
	assert.Equal(t, "Agent "+id+" disabled\n", out)
	got, ok := fake.Server.Agent(agent.ID)
	require.True(t, ok)
	assert.False(t, got.IsEnabled)
}

func TestVoucherCreate(t *testing.T) {
	fake := useFakeAPI(t)
	code, out, stderr := runCLI(t, "voucher", "create", "--continuous", "--expires-in", "2h")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "Continuous: true")
	assert.JSONEq(t, `{"is_continuous":true,"expires_in":7200}`, string(fake.Server.LastRequest().Body))

	code, _, _ = runCLI(t, "voucher", "create")
	require.Equal(t, exitOK, code)
	assert.JSONEq(t, `{"is_continuous":false}`, string(fake.Server.LastRequest().Body))
}

func TestJobCreate(t *testing.T) {
	fake := useFakeAPI(t)
	h := fake.Server.AddHashlist(khtest.NewTestHashlist("dump", "", 3))

	code, out, stderr := runCLI(t, "--json", "job", "create", "--hashlist", fmt.Sprint(h.ID), "--preset", "p-1", "--name", "night run")
	require.Equal(t, exitOK, code, stderr)
	var job userapi.Job
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	assert.Equal(t, "night run", job.Name)
	assert.JSONEq(t, fmt.Sprintf(`{"name":"night run","hashlist_id":%d,"preset_job_id":"p-1","priority":100,"max_agents":0}`, h.ID),
		string(fake.Server.LastRequest().Body))

	code, _, stderr = runCLI(t, "job", "create", "--hashlist", fmt.Sprint(h.ID), "--preset", "p", "--workflow", "w")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "exactly one of --preset and --workflow")

	code, _, stderr = runCLI(t, "job", "create", "--hashlist", "999", "--workflow", "w")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "HTTP 404")
}

func TestJobListShowsStatusCounts(t *testing.T) {
	fake := useFakeAPI(t)
	fake.Server.AddJob(khtest.NewTestJob(khtest.JobOpts{Name: "a", Status: userapi.JobRunning}))
	fake.Server.AddJob(khtest.NewTestJob(khtest.JobOpts{ID: "job-2", Name: "b", Status: userapi.JobCompleted}))

	code, out, _ := runCLI(t, "job", "list")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "Status counts: completed=1 running=1")

	code, _, _ = runCLI(t, "job", "list", "--status", "Running")
	require.Equal(t, exitOK, code)
	assert.Equal(t, "page=1&page_size=20&status=running", fake.Server.LastRequest().Query)
}

func TestJobUpdate(t *testing.T) {
	fake := useFakeAPI(t)
	job := fake.Server.AddJob(khtest.NewTestJob(khtest.JobOpts{}))
	code, out, stderr := runCLI(t, "job", "update", job.ID, "--max-agents", "0", "--priority", "5")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "Max Agents: unlimited")
	assert.JSONEq(t, `{"priority":5,"max_agents":0}`, string(fake.Server.LastRequest().Body))
}

func TestJobLayersAndTasks(t *testing.T) {
	fake := useFakeAPI(t)
	job := fake.Server.AddJob(khtest.NewTestJob(khtest.JobOpts{IncrementMode: "increment"}))
	layer := khtest.NewTestLayer(job.ID, 1, "running", 40)
	fake.Server.SetLayers(job.ID, []userapi.Layer{layer})
	fake.Server.SetTasks(layer.ID, []userapi.Task{{ID: "t-1", AgentID: userapi.Ptr(3), Status: "running", Progress: 12.5}})

	code, out, _ := runCLI(t, "job", "layers", job.ID)
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, layer.ID)
	assert.Contains(t, out, "40.0%")

	code, out, _ = runCLI(t, "job", "tasks", job.ID, layer.ID)
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "t-1")
	assert.Contains(t, out, "12.5%")
}

func TestJobTasksSecondPage(t *testing.T) {
	fake := useFakeAPI(t)
	job := fake.Server.AddJob(khtest.NewTestJob(khtest.JobOpts{IncrementMode: "increment"}))
	fake.Server.SetTasks("l1", []userapi.Task{{ID: "t-1"}, {ID: "t-2"}, {ID: "t-3"}})

	code, out, stderr := runCLI(t, "job", "tasks", job.ID, "l1", "--page", "2", "--page-size", "1")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "t-2")
	assert.NotContains(t, out, "t-1")
	assert.Contains(t, out, "page 2 (size 1): 1 shown, more with --page 3")

	code, out, _ = runCLI(t, "job", "tasks", job.ID, "l1", "--page", "2", "--page-size", "2")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "page 2 (size 2): 1 shown\n")
}

func TestJobShowJSONMatchesService(t *testing.T) {
	fake := useFakeAPI(t)
	job := fake.Server.AddJob(khtest.NewTestJob(khtest.JobOpts{Status: userapi.JobRunning, Progress: 12.5}))

	code, out, stderr := runCLI(t, "--json", "job", "show", job.ID)
	require.Equal(t, exitOK, code, stderr)
	var got userapi.Job
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	khtest.AssertJSONEqual(t, job, got)
	assert.True(t, got.CreatedAt.Equal(khtest.FixedTime))
}

func TestJobWatchCompleted(t *testing.T) {
	fake := useFakeAPI(t)
	job := fake.Server.AddJob(khtest.NewTestJob(khtest.JobOpts{Status: userapi.JobCompleted, Progress: 100, CrackedCount: 2, TotalHashes: 3}))

	code, out, stderr := runCLI(t, "job", "watch", job.ID, "--interval", "1ms")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "Job completed with status: completed")
	assert.Contains(t, out, "Cracked: 2/3")

	code, out, _ = runCLI(t, "--json", "job", "watch", job.ID)
	require.Equal(t, exitOK, code)
	var got userapi.Job
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, userapi.JobCompleted, got.Status)
}

func TestJobWatchFailedExitsNonZero(t *testing.T) {
	fake := useFakeAPI(t)
	j := khtest.NewTestJob(khtest.JobOpts{Status: userapi.JobFailed})
	j.ErrorMessage = userapi.Ptr("no agents")
	job := fake.Server.AddJob(j)

	code, _, stderr := runCLI(t, "job", "watch", job.ID, "--interval", "1ms")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "job "+job.ID+" failed: no agents")
	assert.Contains(t, stderr, "next: khctl job show "+job.ID)
}

func TestJobWatchPollTimeoutIsTransportFailure(t *testing.T) {
	isolateEnv(t)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	t.Setenv(config.EnvBaseURL, srv.URL+"/api/v1")
	t.Setenv(config.EnvEmail, khtest.TestEmail)
	t.Setenv(config.EnvAPIKey, khtest.TestAPIKey)

	code, _, stderr := runCLI(t, "--timeout", "100ms", "job", "watch", "job-1", "--interval", "1ms")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr, "error: watch job job-1:")
	assert.Contains(t, stderr, "next: khctl ping")
	assert.NotContains(t, stderr, "stopped watching")
}

func TestJobWatchRejectsPublicMetricsListener(t *testing.T) {
	fake := useFakeAPI(t)
	job := fake.Server.AddJob(khtest.NewTestJob(khtest.JobOpts{Status: userapi.JobCompleted}))
	code, _, stderr := runCLI(t, "job", "watch", job.ID, "--metrics-listen", "0.0.0.0:9464")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "localhost-only")
}

func TestServeMetrics(t *testing.T) {
	useFakeAPI(t)
	sess, err := newSession(commonFlags{})
	require.NoError(t, err)
	_, err = sess.client.Health(context.Background())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	stop, err := serveMetrics(addr, sess.metrics)
	require.NoError(t, err)
	defer stop()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = serveMetrics(addr, sess.metrics)
	assert.Error(t, err)
}

func TestMetaCommands(t *testing.T) {
	fake := useFakeAPI(t)
	fake.Server.AddPreset(userapi.PresetJob{ID: "p-1", Name: "rockyou", Priority: 10})
	fake.Server.AddWorkflow(userapi.Workflow{ID: "w-1", Name: "quick", Steps: []userapi.WorkflowStep{{PresetJobID: "p-1", StepOrder: 1}}})

	code, out, _ := runCLI(t, "meta", "hash-types")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "1000")
	assert.NotContains(t, out, "3200")
	assert.Equal(t, "enabled_only=true", fake.Server.LastRequest().Query)

	code, out, _ = runCLI(t, "meta", "hash-types", "--all")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "3200")

	code, out, _ = runCLI(t, "meta", "presets")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "rockyou")
	assert.Contains(t, out, "unlimited")

	code, out, _ = runCLI(t, "meta", "workflows")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "quick")
}

func TestExplainAPIError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantMsg  string
		wantNext string
		wantHint string
	}{
		{
			name:     "unauthorized",
			err:      &userapi.APIError{StatusCode: 401, Code: "ACCESS_DENIED", Message: "invalid credentials"},
			wantMsg:  "list jobs: invalid credentials (ACCESS_DENIED, HTTP 401)",
			wantHint: "check KH_EMAIL and KH_API_KEY",
		},
		{
			name:     "transport",
			err:      &userapi.TransportError{Method: "GET", Path: "/jobs", Err: errors.New("connection refused")},
			wantNext: "khctl ping",
		},
		{
			name:     "not found",
			err:      &userapi.APIError{StatusCode: 404},
			wantMsg:  "list jobs: Not Found (HTTP 404)",
			wantHint: "the resource may have been deleted or belongs to another user",
		},
		{
			name:     "rate limited",
			err:      &userapi.APIError{StatusCode: 429},
			wantHint: "the service is rate limiting; retry later",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, next, hints := describeError(explainAPIError(tt.err, "list jobs"))
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, msg)
			}
			assert.Equal(t, tt.wantNext, next)
			if tt.wantHint != "" {
				assert.Contains(t, hints, tt.wantHint)
			}
		})
	}
	assert.NoError(t, explainAPIError(nil, "x"))
}

func TestSplitPositional(t *testing.T) {
	pos, rest := splitPositional([]string{"42", "--json", "extra"}, 1)
	assert.Equal(t, []string{"42"}, pos)
	assert.Equal(t, []string{"--json", "extra"}, rest)

	pos, rest = splitPositional([]string{"--page", "2"}, 1)
	assert.Empty(t, pos)
	assert.Equal(t, []string{"--page", "2"}, rest)
}

func TestWriteYAMLUsesWireNames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeYAML(&buf, userapi.Layer{ID: "l1", JobID: "j1", LayerIndex: 2}))
	assert.Contains(t, buf.String(), "job_execution_id: j1")
	assert.Contains(t, buf.String(), "layer_index: 2")
}
