package userapi_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krakenhashes/khctl/internal/fakeapi"
	"github.com/krakenhashes/khctl/internal/metrics"
	khtest "github.com/krakenhashes/khctl/internal/testing"
	"github.com/krakenhashes/khctl/internal/userapi"
)

func newFake(t *testing.T, opts ...userapi.Option) (*fakeapi.Server, *userapi.Client) {
	t.Helper()
	api := khtest.NewFakeAPI(t)
	cfg := api.Config
	cfg.BaseURL += "/"
	client, err := userapi.New(cfg, opts...)
	require.NoError(t, err)
	return api.Server, client
}

func TestWrongCredentialsAreRejected(t *testing.T) {
	api := khtest.NewFakeAPI(t)
	cfg := api.Config
	cfg.APIKey = strings.Repeat("z", userapi.APIKeyLength)
	client, err := userapi.New(cfg)
	require.NoError(t, err)

	_, err = client.Health(context.Background())
	require.Error(t, err)
	assert.True(t, userapi.IsUnauthorized(err))
	assert.Equal(t, userapi.CodeAccessDenied, userapi.ErrorCode(err))
}

func TestHealth(t *testing.T) {
	fake, client := newFake(t)
	h, err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	last := fake.LastRequest()
	assert.Equal(t, "/api/v1/health", last.Path)
	assert.Equal(t, khtest.TestEmail, last.Email)
	assert.Equal(t, khtest.TestAPIKey, last.APIKey)
}

func TestClientLifecycle(t *testing.T) {
	fake, client := newFake(t)
	ctx := context.Background()

	created, err := client.Clients.Create(ctx, userapi.CreateClientRequest{
		Name:                "Acme",
		Domain:              userapi.Ptr("acme.example"),
		DataRetentionMonths: userapi.Ptr(0),
	})
	require.NoError(t, err)
	_, err = userapi.ParseClientID(created.ID)
	require.NoError(t, err)
	require.NotNil(t, created.DataRetentionMonths)
	assert.Equal(t, 0, *created.DataRetentionMonths)
	assert.JSONEq(t, `{"name":"Acme","domain":"acme.example","data_retention_months":0}`, string(fake.LastRequest().Body))

	updated, err := client.Clients.Update(ctx, created.ID, userapi.UpdateClientRequest{Description: userapi.Ptr("")})
	require.NoError(t, err)
	assert.Equal(t, "Acme", updated.Name)
	require.NotNil(t, updated.Description)
	assert.Equal(t, "", *updated.Description)
	assert.JSONEq(t, `{"description":""}`, string(fake.LastRequest().Body))
	assert.Equal(t, http.MethodPatch, fake.LastRequest().Method)

	got, err := client.Clients.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme.example", *got.Domain)

	require.NoError(t, client.Clients.Delete(ctx, created.ID))
	_, err = client.Clients.Get(ctx, created.ID)
	assert.True(t, userapi.IsNotFound(err))
	assert.Equal(t, userapi.CodeNotFound, userapi.ErrorCode(err))
}

func TestClientCreateValidatesLocally(t *testing.T) {
	fake, client := newFake(t)
	_, err := client.Clients.Create(context.Background(), userapi.CreateClientRequest{Name: "  "})
	assert.ErrorIs(t, err, userapi.ErrInvalidArgument)
	_, err = client.Clients.Create(context.Background(), userapi.CreateClientRequest{Name: "x", DataRetentionMonths: userapi.Ptr(-1)})
	assert.ErrorIs(t, err, userapi.ErrInvalidArgument)
	assert.Empty(t, fake.Requests())
}

func TestClientDeleteConflict(t *testing.T) {
	fake, client := newFake(t)
	c := fake.AddClient(userapi.Organization{Name: "Busy"})
	fake.AddHashlist(userapi.Hashlist{Name: "owned", ClientID: c.ID})

	err := client.Clients.Delete(context.Background(), c.ID)
	require.Error(t, err)
	assert.True(t, userapi.IsConflict(err))
	assert.Equal(t, userapi.CodeClientHasHashlists, userapi.ErrorCode(err))
	_, stillThere := fake.Client(c.ID)
	assert.True(t, stillThere)
}

func TestClientListPagination(t *testing.T) {
	fake, client := newFake(t)
	for _, name := range []string{"e", "d", "c", "b", "a"} {
		fake.AddClient(userapi.Organization{Name: name})
	}
	ctx := context.Background()

	first, err := client.Clients.List(ctx, userapi.Pagination{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, first.Total)
	assert.Equal(t, "page=1&page_size=2", fake.LastRequest().Query)
	again, err := client.Clients.List(ctx, userapi.Pagination{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, first.Items, again.Items)

	past, err := client.Clients.List(ctx, userapi.Pagination{Page: 9, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, past.Items)

	all, err := userapi.Collect(ctx, 2, client.Clients.List)
	require.NoError(t, err)
	require.Len(t, all, 5)
	names := make([]string, len(all))
	for i, c := range all {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, names)
}

func TestHashlistUpload(t *testing.T) {
	fake, client := newFake(t)
	c := fake.AddClient(userapi.Organization{Name: "Acme"})
	path := khtest.TempHashFile(t, "5f4dcc3b5aa765d61d8327deb882cf99", "098f6bcd4621d373cade4e832627b4f6")

	h, err := client.Hashlists.Create(context.Background(), userapi.CreateHashlistRequest{
		Name:       "leak",
		HashTypeID: 0,
		FilePath:   path,
		ClientID:   userapi.Ptr(c.ID),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), h.HashCount)
	assert.Equal(t, c.ID, h.ClientID)

	req := fake.LastRequest()
	assert.True(t, strings.HasPrefix(req.ContentType, "multipart/form-data; boundary="), req.ContentType)
	assert.NotContains(t, req.ContentType, "application/json")

	uploads := fake.Uploads()
	require.Len(t, uploads, 1)
	up := uploads[0]
	assert.Equal(t, "hashes.txt", up.Filename)
	assert.Equal(t, "text/plain", up.ContentType)
	assert.Equal(t, "leak", up.Fields["name"])
	assert.Equal(t, "0", up.Fields["hash_type_id"])
	assert.Equal(t, c.ID, up.Fields["client_id"])
	assert.Contains(t, up.Content, "098f6bcd4621d373cade4e832627b4f6")
}

func TestHashlistUploadOmitsUnsetClient(t *testing.T) {
	fake, client := newFake(t)
	path := khtest.TempHashFile(t, "abc")

	_, err := client.Hashlists.Create(context.Background(), userapi.CreateHashlistRequest{Name: "n", HashTypeID: 1000, FilePath: path})
	require.NoError(t, err)
	up := fake.Uploads()[0]
	_, present := up.Fields["client_id"]
	assert.False(t, present)
	_, present = up.Fields["description"]
	assert.False(t, present)
}

func TestHashlistUploadClientRequired(t *testing.T) {
	fake, client := newFake(t)
	fake.RequireClient = true
	path := khtest.TempHashFile(t, "abc")

	_, err := client.Hashlists.Create(context.Background(), userapi.CreateHashlistRequest{Name: "n", HashTypeID: 0, FilePath: path})
	require.Error(t, err)
	assert.Equal(t, userapi.CodeClientRequired, userapi.ErrorCode(err))
	assert.Equal(t, http.StatusBadRequest, userapi.StatusCode(err))
}

func TestHashlistUploadMissingFile(t *testing.T) {
	fake, client := newFake(t)
	_, err := client.Hashlists.Create(context.Background(), userapi.CreateHashlistRequest{
		Name: "n", FilePath: filepath.Join(t.TempDir(), "nope.txt"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Empty(t, fake.Requests())
}

func TestHashlistDeleteConflict(t *testing.T) {
	fake, client := newFake(t)
	h := fake.AddHashlist(userapi.Hashlist{Name: "in use"})
	job := fake.AddJob(userapi.Job{ID: "j1", HashlistID: h.ID, Status: userapi.JobRunning})
	ctx := context.Background()

	err := client.Hashlists.Delete(ctx, h.ID)
	require.Error(t, err)
	assert.True(t, userapi.IsConflict(err))
	assert.Equal(t, userapi.CodeHashlistHasActiveJobs, userapi.ErrorCode(err))
	_, err = client.Hashlists.Get(ctx, h.ID)
	require.NoError(t, err)

	job.Status = userapi.JobCompleted
	fake.SetJob(job)
	require.NoError(t, client.Hashlists.Delete(ctx, h.ID))
	_, err = client.Hashlists.Get(ctx, h.ID)
	assert.True(t, userapi.IsNotFound(err))
}

func TestHashlistListFilters(t *testing.T) {
	fake, client := newFake(t)
	c := fake.AddClient(userapi.Organization{Name: "Acme"})
	fake.AddHashlist(userapi.Hashlist{Name: "Acme dump", ClientID: c.ID})
	fake.AddHashlist(userapi.Hashlist{Name: "other"})

	page, err := client.Hashlists.List(context.Background(), userapi.ListHashlistsOptions{ClientID: c.ID})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Acme dump", page.Items[0].Name)
	assert.Equal(t, "client_id="+c.ID+"&page=1&page_size=20", fake.LastRequest().Query)

	page, err = client.Hashlists.List(context.Background(), userapi.ListHashlistsOptions{Search: "OTHER"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.NotContains(t, fake.LastRequest().Query, "client_id")

	require.NoError(t, client.Hashlists.Delete(context.Background(), page.Items[0].ID))
	_, err = client.Hashlists.Get(context.Background(), page.Items[0].ID)
	assert.True(t, userapi.IsNotFound(err))
}

func TestAgentUpdateSendsExplicitValues(t *testing.T) {
	fake, client := newFake(t)
	a := fake.AddAgent(userapi.Agent{Name: "rig", ExtraParameters: "-w 4", IsEnabled: true, Status: userapi.AgentActive})

	updated, err := client.Agents.Update(context.Background(), a.ID, userapi.UpdateAgentRequest{
		ExtraParameters: userapi.Ptr(""),
		IsEnabled:       userapi.Ptr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, "", updated.ExtraParameters)
	assert.False(t, updated.IsEnabled)
	assert.Equal(t, "rig", updated.Name)
	assert.JSONEq(t, `{"extra_parameters":"","is_enabled":false}`, string(fake.LastRequest().Body))
}

func TestAgentListGetDelete(t *testing.T) {
	fake, client := newFake(t)
	fake.AddAgent(userapi.Agent{Name: "one", Status: userapi.AgentActive, IsEnabled: true})
	fake.AddAgent(userapi.Agent{Name: "two", Status: userapi.AgentOffline})
	ctx := context.Background()

	page, err := client.Agents.List(ctx, userapi.ListAgentsOptions{Status: userapi.AgentActive})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "one", page.Items[0].Name)

	require.NoError(t, client.Agents.Delete(ctx, page.Items[0].ID))
	a, err := client.Agents.Get(ctx, page.Items[0].ID)
	require.NoError(t, err)
	assert.False(t, a.IsEnabled)

	_, err = client.Agents.Get(ctx, 99)
	assert.Equal(t, userapi.CodeAgentNotFound, userapi.ErrorCode(err))
}

func TestGenerateVoucher(t *testing.T) {
	fake, client := newFake(t)
	v, err := client.Agents.GenerateVoucher(context.Background(), userapi.GenerateVoucherRequest{IsContinuous: true, ExpiresIn: userapi.Ptr(time.Hour)})
	require.NoError(t, err)
	assert.NotEmpty(t, v.Code)
	assert.True(t, v.IsContinuous)
	require.NotNil(t, v.ExpiresAt)
	assert.WithinDuration(t, v.CreatedAt.Add(time.Hour), *v.ExpiresAt, time.Second)
	assert.JSONEq(t, `{"is_continuous":true,"expires_in":3600}`, string(fake.LastRequest().Body))

	_, err = client.Agents.GenerateVoucher(context.Background(), userapi.GenerateVoucherRequest{ExpiresIn: userapi.Ptr(-time.Second)})
	assert.ErrorIs(t, err, userapi.ErrInvalidArgument)
}

func TestJobCreateAndUpdate(t *testing.T) {
	fake, client := newFake(t)
	h := fake.AddHashlist(userapi.Hashlist{Name: "leak", HashCount: 10})
	ctx := context.Background()

	job, err := client.Jobs.Create(ctx, userapi.CreateJobRequest{Name: "crack", HashlistID: h.ID, PresetJobID: userapi.Ptr("preset-1")})
	require.NoError(t, err)
	assert.Equal(t, userapi.JobPending, job.Status)
	assert.Equal(t, userapi.DefaultJobPriority, job.Priority)
	assert.Equal(t, int64(10), job.TotalHashes)

	updated, err := client.Jobs.Update(ctx, job.ID, userapi.UpdateJobRequest{MaxAgents: userapi.Ptr(0)})
	require.NoError(t, err)
	assert.Equal(t, 0, updated.MaxAgents)
	assert.Equal(t, "crack", updated.Name)
	assert.JSONEq(t, `{"max_agents":0}`, string(fake.LastRequest().Body))

	_, err = client.Jobs.Create(ctx, userapi.CreateJobRequest{Name: "x", HashlistID: 999, WorkflowID: userapi.Ptr("w")})
	assert.True(t, userapi.IsNotFound(err))
}

func TestJobCreateValidation(t *testing.T) {
	fake, client := newFake(t)
	ctx := context.Background()
	cases := []userapi.CreateJobRequest{
		{HashlistID: 1, PresetJobID: userapi.Ptr("p")},
		{Name: "n", PresetJobID: userapi.Ptr("p")},
		{Name: "n", HashlistID: 1},
		{Name: "n", HashlistID: 1, PresetJobID: userapi.Ptr("p"), WorkflowID: userapi.Ptr("w")},
		{Name: "n", HashlistID: 1, PresetJobID: userapi.Ptr("p"), MaxAgents: userapi.Ptr(-1)},
	}
	for _, req := range cases {
		_, err := client.Jobs.Create(ctx, req)
		assert.ErrorIs(t, err, userapi.ErrInvalidArgument)
	}
	assert.Empty(t, fake.Requests())
}

func TestJobListFiltersAndCounts(t *testing.T) {
	fake, client := newFake(t)
	h := fake.AddHashlist(userapi.Hashlist{Name: "a"})
	fake.AddJob(userapi.Job{ID: "j1", HashlistID: h.ID, Status: userapi.JobRunning})
	fake.AddJob(userapi.Job{ID: "j2", HashlistID: h.ID, Status: userapi.JobCompleted})
	fake.AddJob(userapi.Job{ID: "j3", HashlistID: h.ID + 1, Status: userapi.JobRunning})

	list, err := client.Jobs.List(context.Background(), userapi.ListJobsOptions{Status: userapi.JobRunning, HashlistID: h.ID})
	require.NoError(t, err)
	require.Len(t, list.Jobs.Items, 1)
	assert.Equal(t, "j1", list.Jobs.Items[0].ID)
	assert.Equal(t, 2, list.StatusCounts["running"])
	assert.Equal(t, 1, list.StatusCounts["completed"])
}

func TestJobLayersAndTasks(t *testing.T) {
	fake, client := newFake(t)
	job := fake.AddJob(userapi.Job{ID: "j1", Status: userapi.JobRunning, IncrementMode: "increment"})
	fake.SetLayers(job.ID, []userapi.Layer{
		{ID: "l1", JobID: job.ID, LayerIndex: 1, Mask: "?d", Status: "completed", Progress: 100},
		{ID: "l2", JobID: job.ID, LayerIndex: 2, Mask: "?d?d", Status: "running", Progress: 30},
	})
	fake.SetTasks("l2", []userapi.Task{{ID: "t1", LayerID: "l2", Status: "running", AgentID: userapi.Ptr(3)}})
	ctx := context.Background()

	layers, err := client.Jobs.Layers(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, layers, 2)
	assert.Equal(t, "?d?d", layers[1].Mask)

	tasks, err := client.Jobs.LayerTasks(ctx, job.ID, "l2", userapi.Pagination{})
	require.NoError(t, err)
	require.Len(t, tasks.Items, 1)
	assert.Equal(t, 3, *tasks.Items[0].AgentID)
	assert.Equal(t, "/api/v1/jobs/j1/layers/l2", fake.LastRequest().Path)

	_, err = client.Jobs.Layers(ctx, "missing")
	assert.True(t, userapi.IsNotFound(err))
}

func TestLayerTasksPaging(t *testing.T) {
	fake, client := newFake(t)
	job := fake.AddJob(userapi.Job{ID: "j1", Status: userapi.JobRunning, IncrementMode: "increment"})
	fake.SetTasks("l1", []userapi.Task{{ID: "t1"}, {ID: "t2"}, {ID: "t3"}})
	ctx := context.Background()

	second, err := client.Jobs.LayerTasks(ctx, job.ID, "l1", userapi.Pagination{Page: 2, PageSize: 1})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "t2", second.Items[0].ID)
	assert.Equal(t, 2, second.Page)
	assert.Equal(t, 1, second.PageSize)
	assert.Equal(t, userapi.TotalUnknown, second.Total)
	assert.True(t, second.HasMore())

	last, err := client.Jobs.LayerTasks(ctx, job.ID, "l1", userapi.Pagination{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, last.Items, 1)
	assert.False(t, last.HasMore())

	all, err := userapi.Collect(ctx, 1, func(ctx context.Context, p userapi.Pagination) (userapi.Page[userapi.Task], error) {
		return client.Jobs.LayerTasks(ctx, job.ID, "l1", p)
	})
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, task := range all {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"t1", "t2", "t3"}, ids)
}

func TestMetadata(t *testing.T) {
	fake, client := newFake(t)
	fake.AddWorkflow(userapi.Workflow{ID: "w1", Name: "standard", Steps: []userapi.WorkflowStep{{PresetJobID: "p1", StepOrder: 1}}})
	fake.AddPreset(userapi.PresetJob{ID: "p1", Name: "rockyou", Priority: 10})
	ctx := context.Background()

	all, err := client.Metadata.HashTypes(ctx, false)
	require.NoError(t, err)
	enabled, err := client.Metadata.HashTypes(ctx, true)
	require.NoError(t, err)
	assert.Less(t, len(enabled), len(all))
	assert.Equal(t, "enabled_only=true", fake.LastRequest().Query)

	workflows, err := client.Metadata.Workflows(ctx)
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "p1", workflows[0].Steps[0].PresetJobID)

	presets, err := client.Metadata.PresetJobs(ctx)
	require.NoError(t, err)
	require.Len(t, presets, 1)
	assert.Equal(t, "rockyou", presets[0].Name)
}

func TestTransportErrorOnClosedServer(t *testing.T) {
	fake := fakeapi.New(khtest.TestEmail, khtest.TestAPIKey)
	srv := httptest.NewServer(fake.Handler())
	url := srv.URL
	srv.Close()
	client, err := userapi.New(userapi.Config{BaseURL: url + fakeapi.Prefix, Email: khtest.TestEmail, APIKey: khtest.TestAPIKey})
	require.NoError(t, err)

	_, err = client.Health(context.Background())
	require.Error(t, err)
	assert.True(t, userapi.IsTransport(err))
}

func TestClientRecordsMetrics(t *testing.T) {
	mx := metrics.New()
	_, client := newFake(t, userapi.WithMetrics(mx))
	ctx := context.Background()

	_, err := client.Jobs.Get(ctx, "nope")
	require.Error(t, err)
	_, err = client.Health(ctx)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(mx.Registry(), "khctl_api_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	expected := `
# HELP khctl_api_requests_total Total User API requests that received a response.
# TYPE khctl_api_requests_total counter
khctl_api_requests_total{code="200",method="GET",route="/health"} 1
khctl_api_requests_total{code="404",method="GET",route="/jobs/{id}"} 1
`
	require.NoError(t, testutil.GatherAndCompare(mx.Registry(), strings.NewReader(expected), "khctl_api_requests_total"))
}
