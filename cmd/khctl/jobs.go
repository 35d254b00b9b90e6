package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/krakenhashes/khctl/internal/metrics"
	"github.com/krakenhashes/khctl/internal/monitor"
	"github.com/krakenhashes/khctl/internal/userapi"
)

const metricsShutdownTimeout = 2 * time.Second

func runJobCommand(ctx context.Context, args []string, base commonFlags) error {
	if len(args) == 0 || isHelpToken(args[0]) {
		printJobUsage()
		return nil
	}
	switch args[0] {
	case "create", "run":
		return runJobCreate(ctx, args[1:], base)
	case "list", "ls":
		return runJobList(ctx, args[1:], base)
	case "show", "get":
		return runJobShow(ctx, args[1:], base)
	case "update":
		return runJobUpdate(ctx, args[1:], base)
	case "layers":
		return runJobLayers(ctx, args[1:], base)
	case "tasks":
		return runJobTasks(ctx, args[1:], base)
	case "watch":
		return runJobWatch(ctx, args[1:], base)
	default:
		printJobUsage()
		return usageErrorf("unknown job command %q", args[0])
	}
}

func runJobCreate(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("job create")
	opts := base
	opts.bind(fs)
	var name, preset, workflow string
	var hashlistID int64
	var priority, maxAgents int
	var watch, help bool
	fs.StringVar(&name, "name", "", "job name")
	fs.Int64Var(&hashlistID, "hashlist", 0, "hashlist id to attack")
	fs.StringVar(&preset, "preset", "", "preset job id")
	fs.StringVar(&workflow, "workflow", "", "workflow id")
	fs.IntVar(&priority, "priority", userapi.DefaultJobPriority, "scheduling priority; higher runs sooner")
	fs.IntVar(&maxAgents, "max-agents", 0, "agent cap (0 = unlimited)")
	fs.BoolVar(&watch, "watch", false, "follow the job until it finishes")
	bindHelp(fs, &help)
	if _, err := parseCommand(fs, args, printJobCreateUsage, &help, 0); err != nil {
		return err
	}
	if hashlistID <= 0 {
		printJobCreateUsage()
		return usageErrorf("--hashlist is required")
	}
	if (preset == "") == (workflow == "") {
		printJobCreateUsage()
		return withHints(usageErrorf("exactly one of --preset and --workflow is required"),
			"list them with: khctl meta presets, khctl meta workflows")
	}
	if name == "" {
		name = fmt.Sprintf("hashlist %d", hashlistID)
	}
	set := setFlags(fs)
	req := userapi.CreateJobRequest{Name: name, HashlistID: hashlistID}
	if preset != "" {
		req.PresetJobID = userapi.Ptr(preset)
	} else {
		req.WorkflowID = userapi.Ptr(workflow)
	}
	if set["priority"] {
		req.Priority = userapi.Ptr(priority)
	}
	if set["max-agents"] {
		req.MaxAgents = userapi.Ptr(maxAgents)
	}

	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	job, err := sess.client.Jobs.Create(ctx, req)
	if err != nil {
		return explainAPIError(err, "create job")
	}
	if watch {
		if opts.format() == outputText {
			fmt.Fprintf(os.Stdout, "Job %s created; watching.\n", job.ID)
		}
		return watchJob(ctx, sess, opts, job.ID, watchOptions{interval: sess.cfg.PollInterval})
	}
	return render(opts.format(), job, func() {
		printJob(job)
		fmt.Fprintf(os.Stdout, "\nFollow with: khctl job watch %s\n", job.ID)
	})
}

func runJobList(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("job list")
	opts := base
	opts.bind(fs)
	var listOpts userapi.ListJobsOptions
	var status, clientID string
	var help bool
	bindPagination(fs, &listOpts.Pagination)
	fs.StringVar(&status, "status", "", "only jobs with this status")
	fs.Int64Var(&listOpts.HashlistID, "hashlist", 0, "only jobs for this hashlist")
	fs.StringVar(&clientID, "client", "", "only jobs for this client")
	bindHelp(fs, &help)
	if _, err := parseCommand(fs, args, printJobListUsage, &help, 0); err != nil {
		return err
	}
	if err := checkPagination(listOpts.Pagination); err != nil {
		return err
	}
	listOpts.Status = userapi.JobStatus(strings.ToLower(strings.TrimSpace(status)))
	if clientID != "" {
		id, err := userapi.ParseClientID(clientID)
		if err != nil {
			return usageError(err)
		}
		listOpts.ClientID = id
	}
	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	res, err := sess.client.Jobs.List(ctx, listOpts)
	if err != nil {
		return explainAPIError(err, "list jobs")
	}
	view := jobListView{Jobs: res.Jobs.Items, Total: res.Jobs.Total, Page: res.Jobs.Page, PageSize: res.Jobs.PageSize, StatusCounts: res.StatusCounts}
	return render(opts.format(), view, func() {
		printJobList(res.Jobs.Items)
		printPageFooter(res.Jobs.Page, res.Jobs.PageSize, len(res.Jobs.Items), res.Jobs.Total)
		if line := statusCountsLine(res.StatusCounts); line != "" {
			fmt.Fprintln(os.Stdout, line)
		}
	})
}

// jobListView flattens JobList for structured output.
type jobListView struct {
	Jobs         []userapi.Job  `json:"jobs"`
	Total        int            `json:"total"`
	Page         int            `json:"page"`
	PageSize     int            `json:"page_size"`
	StatusCounts map[string]int `json:"status_counts,omitempty"`
}

func runJobShow(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("job show")
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	pos, err := parseCommand(fs, args, printJobShowUsage, &help, 1)
	if err != nil {
		return err
	}
	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	job, err := sess.client.Jobs.Get(ctx, pos[0])
	if err != nil {
		return withDefaultNext(explainAPIError(err, "show job "+pos[0]), "khctl job list")
	}
	return render(opts.format(), job, func() { printJob(job) })
}

func runJobUpdate(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("job update")
	opts := base
	opts.bind(fs)
	var name string
	var priority, maxAgents int
	var help bool
	fs.StringVar(&name, "name", "", "new name")
	fs.IntVar(&priority, "priority", 0, "new priority")
	fs.IntVar(&maxAgents, "max-agents", 0, "new agent cap (0 = unlimited)")
	bindHelp(fs, &help)
	pos, err := parseCommand(fs, args, printJobUpdateUsage, &help, 1)
	if err != nil {
		return err
	}
	set := setFlags(fs)
	var req userapi.UpdateJobRequest
	if set["name"] {
		req.Name = userapi.Ptr(name)
	}
	if set["priority"] {
		req.Priority = userapi.Ptr(priority)
	}
	if set["max-agents"] {
		if maxAgents < 0 {
			return usageErrorf("--max-agents must not be negative")
		}
		req.MaxAgents = userapi.Ptr(maxAgents)
	}
	if req == (userapi.UpdateJobRequest{}) {
		printJobUpdateUsage()
		return usageErrorf("nothing to update")
	}
	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	job, err := sess.client.Jobs.Update(ctx, pos[0], req)
	if err != nil {
		return explainAPIError(err, "update job "+pos[0])
	}
	return render(opts.format(), job, func() { printJob(job) })
}

func runJobLayers(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("job layers")
	opts := base
	opts.bind(fs)
	var help bool
	bindHelp(fs, &help)
	pos, err := parseCommand(fs, args, printJobLayersUsage, &help, 1)
	if err != nil {
		return err
	}
	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	layers, err := sess.client.Jobs.Layers(ctx, pos[0])
	if err != nil {
		return explainAPIError(err, "list layers of job "+pos[0])
	}
	return render(opts.format(), layers, func() {
		if len(layers) == 0 {
			fmt.Fprintln(os.Stdout, "No increment layers (increment mode is off).")
			return
		}
		w := newTable()
		fmt.Fprintln(w, "ID\tINDEX\tMASK\tSTATUS\tPROGRESS")
		for _, l := range layers {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", l.ID, l.LayerIndex, orDash(l.Mask), l.Status, formatPercent(l.Progress))
		}
		_ = w.Flush()
	})
}

func runJobTasks(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("job tasks")
	opts := base
	opts.bind(fs)
	var page userapi.Pagination
	var help bool
	bindPagination(fs, &page)
	bindHelp(fs, &help)
	pos, err := parseCommand(fs, args, printJobTasksUsage, &help, 2)
	if err != nil {
		return err
	}
	if err := checkPagination(page); err != nil {
		return err
	}
	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	res, err := sess.client.Jobs.LayerTasks(ctx, pos[0], pos[1], page)
	if err != nil {
		return explainAPIError(err, "list tasks of layer "+pos[1])
	}
	return render(opts.format(), res, func() {
		w := newTable()
		fmt.Fprintln(w, "ID\tAGENT\tSTATUS\tPROGRESS\tCRACKED\tERROR")
		for _, t := range res.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", t.ID, intOrDash(t.AgentID), t.Status, formatPercent(t.Progress), t.CrackCount, orDashPtr(t.ErrorMessage))
		}
		_ = w.Flush()
		printPageFooter(res.Page, res.PageSize, len(res.Items), res.Total)
	})
}

type watchOptions struct {
	interval      time.Duration
	tasks         bool
	taskPageSize  int
	metricsListen string
}

func runJobWatch(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("job watch")
	opts := base
	opts.bind(fs)
	var wopts watchOptions
	var help bool
	fs.DurationVar(&wopts.interval, "interval", 0, "poll interval (default from config, 10s)")
	fs.BoolVar(&wopts.tasks, "tasks", false, "also show tasks of running layers")
	fs.IntVar(&wopts.taskPageSize, "task-page-size", userapi.DefaultPageSize, "tasks fetched per running layer")
	fs.StringVar(&wopts.metricsListen, "metrics-listen", "", "serve Prometheus metrics on this loopback address while watching")
	bindHelp(fs, &help)
	pos, err := parseCommand(fs, args, printJobWatchUsage, &help, 1)
	if err != nil {
		return err
	}
	if wopts.interval < 0 {
		return usageErrorf("--interval must be positive")
	}
	sess, err := newSession(opts)
	if err != nil {
		return err
	}
	defer sess.close()
	if wopts.interval == 0 {
		wopts.interval = sess.cfg.PollInterval
	}
	if wopts.metricsListen == "" {
		wopts.metricsListen = sess.cfg.MetricsListen
	} else {
		cfg := sess.cfg
		cfg.MetricsListen = wopts.metricsListen
		if err := cfg.Validate(); err != nil {
			return usageError(err)
		}
	}
	return watchJob(ctx, sess, opts, pos[0], wopts)
}

func watchJob(ctx context.Context, sess *session, opts commonFlags, jobID string, wopts watchOptions) error {
	if wopts.metricsListen != "" {
		stop, err := serveMetrics(wopts.metricsListen, sess.metrics)
		if err != nil {
			return wrapCLIError(err, "serve metrics: "+err.Error(), "", "pick a free port with --metrics-listen")
		}
		defer stop()
		sess.logger.Infow("serving metrics", "addr", wopts.metricsListen, "path", "/metrics")
	}

	monOpts := []monitor.Option{
		monitor.WithInterval(wopts.interval),
		monitor.WithLogger(sess.logger),
		monitor.WithMetrics(sess.metrics),
	}
	if opts.format() == outputText {
		monOpts = append(monOpts, monitor.WithReporter(monitor.NewTextReporter(os.Stdout)))
	}
	if wopts.tasks {
		monOpts = append(monOpts, monitor.WithTaskDetail(wopts.taskPageSize))
	}
	res, err := monitor.New(sess.client.Jobs, monOpts...).Run(ctx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			return wrapCLIError(err, fmt.Sprintf("stopped watching job %s after %d polls; the job keeps running", jobID, res.Polls),
				"khctl job watch "+jobID)
		}
		return explainAPIError(err, "watch job "+jobID)
	}
	if opts.format() != outputText {
		if err := render(opts.format(), res.Job, func() {}); err != nil {
			return err
		}
	}
	switch res.Job.Status {
	case userapi.JobFailed:
		return newCLIError(fmt.Sprintf("job %s failed: %s", jobID, orDashPtr(res.Job.ErrorMessage)), "khctl job show "+jobID)
	case userapi.JobCancelled:
		return newCLIError(fmt.Sprintf("job %s was cancelled", jobID), "")
	}
	return nil
}

// serveMetrics exposes mx on addr until the returned stop function runs.
func serveMetrics(addr string, mx *metrics.Metrics) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", mx.Handler())
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.Serve(ln) }()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func printJob(j userapi.Job) {
	fmt.Fprintf(os.Stdout, "Job ID: %s\n", j.ID)
	fmt.Fprintf(os.Stdout, "Name: %s\n", j.Name)
	fmt.Fprintf(os.Stdout, "Hashlist: %d\n", j.HashlistID)
	if j.PresetJobID != "" {
		fmt.Fprintf(os.Stdout, "Preset: %s\n", j.PresetJobID)
	}
	if j.WorkflowID != "" {
		fmt.Fprintf(os.Stdout, "Workflow: %s\n", j.WorkflowID)
	}
	fmt.Fprintf(os.Stdout, "Status: %s\n", j.Status)
	fmt.Fprintf(os.Stdout, "Progress: %s\n", formatPercent(j.Percent()))
	fmt.Fprintf(os.Stdout, "Cracked: %d/%d\n", j.CrackedCount, j.TotalHashes)
	fmt.Fprintf(os.Stdout, "Priority: %d\n", j.Priority)
	fmt.Fprintf(os.Stdout, "Max Agents: %s\n", maxAgentsLabel(j.MaxAgents))
	fmt.Fprintf(os.Stdout, "Agents: %d\n", j.AgentCount)
	fmt.Fprintf(os.Stdout, "Increment: %s\n", orDash(j.IncrementMode))
	if j.ErrorMessage != nil {
		fmt.Fprintf(os.Stdout, "Error: %s\n", *j.ErrorMessage)
	}
	fmt.Fprintf(os.Stdout, "Created At: %s\n", formatTime(j.CreatedAt))
	fmt.Fprintf(os.Stdout, "Started At: %s\n", formatTimePtr(j.StartedAt))
	fmt.Fprintf(os.Stdout, "Completed At: %s\n", formatTimePtr(j.CompletedAt))
}

func printJobList(jobs []userapi.Job) {
	w := newTable()
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPROGRESS\tCRACKED\tPRIORITY")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%d\n", j.ID, j.Name, j.Status, formatPercent(j.Percent()), j.CrackedCount, j.TotalHashes, j.Priority)
	}
	_ = w.Flush()
}

func maxAgentsLabel(n int) string {
	if n == 0 {
		return "unlimited"
	}
	return fmt.Sprint(n)
}

func statusCountsLine(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return "Status counts: " + strings.Join(parts, " ")
}
