package monitor

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/krakenhashes/khctl/internal/userapi"
)

// Reporter receives each observation made by a Monitor.
type Reporter interface {
	JobPolled(job userapi.Job, poll int)
	LayersPolled(job userapi.Job, layers []userapi.Layer)
	TasksPolled(layer userapi.Layer, tasks userapi.Page[userapi.Task])
	Finished(job userapi.Job)
}

type nopReporter struct{}

func (nopReporter) JobPolled(userapi.Job, int)                            {}
func (nopReporter) LayersPolled(userapi.Job, []userapi.Layer)             {}
func (nopReporter) TasksPolled(userapi.Layer, userapi.Page[userapi.Task]) {}
func (nopReporter) Finished(userapi.Job)                                  {}

// TextReporter writes human-readable progress. On a terminal the job status
// line is redrawn in place; elsewhere every poll gets its own line.
type TextReporter struct {
	mu      sync.Mutex
	w       io.Writer
	inPlace bool
	dirty   bool
}

func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{w: w, inPlace: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (r *TextReporter) JobPolled(job userapi.Job, poll int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	line := fmt.Sprintf("Status: %s, Progress: %.1f%%", job.Status, job.Percent())
	if job.AgentCount > 0 {
		line += fmt.Sprintf(", Agents: %d", job.AgentCount)
	}
	if r.inPlace {
		fmt.Fprintf(r.w, "\r\033[K%s", line)
		r.dirty = true
		return
	}
	fmt.Fprintln(r.w, line)
}

func (r *TextReporter) LayersPolled(_ userapi.Job, layers []userapi.Layer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakLine()
	for _, layer := range layers {
		label := layer.ID
		if strings.TrimSpace(layer.Mask) != "" {
			label = fmt.Sprintf("%s [%s]", layer.ID, layer.Mask)
		}
		fmt.Fprintf(r.w, "  Layer %s: %s (%.1f%%)\n", label, layer.Status, layer.Progress)
	}
}

func (r *TextReporter) TasksPolled(layer userapi.Layer, tasks userapi.Page[userapi.Task]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakLine()
	for _, task := range tasks.Items {
		agent := "-"
		if task.AgentID != nil {
			agent = fmt.Sprintf("%d", *task.AgentID)
		}
		fmt.Fprintf(r.w, "    Task %s: %s (%.1f%%) agent=%s\n", task.ID, task.Status, task.Progress, agent)
	}
	switch {
	case tasks.Total == userapi.TotalUnknown:
		if tasks.HasMore() {
			fmt.Fprintf(r.w, "    ... more tasks in layer %s\n", layer.ID)
		}
	case tasks.Total > len(tasks.Items):
		fmt.Fprintf(r.w, "    ... %d more tasks in layer %s\n", tasks.Total-len(tasks.Items), layer.ID)
	}
}

func (r *TextReporter) Finished(job userapi.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakLine()
	fmt.Fprintf(r.w, "\nJob completed with status: %s\n", job.Status)
	fmt.Fprintf(r.w, "Cracked: %d/%d\n", job.CrackedCount, job.TotalHashes)
	if job.ErrorMessage != nil && strings.TrimSpace(*job.ErrorMessage) != "" {
		fmt.Fprintf(r.w, "Error: %s\n", *job.ErrorMessage)
	}
}

func (r *TextReporter) breakLine() {
	if r.dirty {
		fmt.Fprintln(r.w)
		r.dirty = false
	}
}
