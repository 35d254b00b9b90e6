// ABOUTME: Output helpers rendering API values as tables, JSON or YAML.
// ABOUTME: YAML keys mirror the JSON wire names.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/krakenhashes/khctl/internal/userapi"
)

type outputFormat string

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func parseOutputFormat(value string) (outputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", outputText, "table":
		return outputText, nil
	case outputJSON:
		return outputJSON, nil
	case outputYAML, "yml":
		return outputYAML, nil
	default:
		return "", usageErrorf("unknown output format %q (want text, json or yaml)", value)
	}
}

func (f *outputFormat) String() string {
	if f == nil || *f == "" {
		return outputText
	}
	return string(*f)
}

func (f *outputFormat) Set(value string) error {
	parsed, err := parseOutputFormat(value)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// render writes v as JSON or YAML, or calls text for the human format.
func render(format outputFormat, v any, text func()) error {
	switch format {
	case outputJSON:
		return writeJSON(os.Stdout, v)
	case outputYAML:
		return writeYAML(os.Stdout, v)
	default:
		text()
		return nil
	}
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// writeYAML round-trips v through JSON so YAML keys match the wire names.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 2, 8, 2, ' ', 0)
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func orDashPtr(value *string) string {
	if value == nil {
		return "-"
	}
	return orDash(*value)
}

func intOrDash(value *int) string {
	if value == nil {
		return "-"
	}
	return strconv.Itoa(*value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', 1, 64) + "%"
}

func printPageFooter(page, pageSize, shown, total int) {
	if total == userapi.TotalUnknown {
		switch {
		case shown >= pageSize:
			fmt.Fprintf(os.Stdout, "page %d (size %d): %d shown, more with --page %d\n", page, pageSize, shown, page+1)
		case page > 1:
			fmt.Fprintf(os.Stdout, "page %d (size %d): %d shown\n", page, pageSize, shown)
		}
		return
	}
	if total <= shown && page <= 1 {
		return
	}
	fmt.Fprintf(os.Stdout, "page %d (size %d): %d of %d\n", page, pageSize, shown, total)
}
