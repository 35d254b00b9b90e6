// ABOUTME: Helpers for consistent CLI error messages with hints and next steps.
// ABOUTME: Translates User API failures into actionable guidance.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/krakenhashes/khctl/internal/config"
	"github.com/krakenhashes/khctl/internal/userapi"
)

var (
	errHelp  = errors.New("help requested")
	errUsage = errors.New("usage error")
)

type cliError struct {
	msg   string
	next  string
	hints []string
	err   error
}

func (e *cliError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.msg) != "" {
		return e.msg
	}
	if e.err != nil {
		return e.err.Error()
	}
	return "unknown error"
}

func (e *cliError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// usageWrapped marks err as a command-line mistake so main exits with 2.
type usageWrapped struct {
	err error
}

func (e *usageWrapped) Error() string { return e.err.Error() }

func (e *usageWrapped) Unwrap() []error { return []error{e.err, errUsage} }

func usageError(err error) error {
	if err == nil {
		return nil
	}
	return &usageWrapped{err: err}
}

func usageErrorf(format string, args ...any) error {
	return usageError(fmt.Errorf(format, args...))
}

func newCLIError(msg, next string, hints ...string) error {
	return &cliError{
		msg:   strings.TrimSpace(msg),
		next:  strings.TrimSpace(next),
		hints: normalizeHints(hints),
	}
}

func wrapCLIError(err error, msg, next string, hints ...string) error {
	if err == nil {
		return newCLIError(msg, next, hints...)
	}
	return &cliError{
		msg:   strings.TrimSpace(msg),
		next:  strings.TrimSpace(next),
		hints: normalizeHints(hints),
		err:   err,
	}
}

func withNext(err error, next string) error {
	if err == nil {
		return nil
	}
	next = strings.TrimSpace(next)
	if next == "" {
		return err
	}
	var ce *cliError
	if errors.As(err, &ce) {
		if strings.TrimSpace(ce.next) == "" {
			ce.next = next
		}
		return err
	}
	return &cliError{err: err, next: next}
}

func withHints(err error, hints ...string) error {
	if err == nil {
		return nil
	}
	hints = normalizeHints(hints)
	if len(hints) == 0 {
		return err
	}
	var ce *cliError
	if errors.As(err, &ce) {
		ce.hints = normalizeHints(append(ce.hints, hints...))
		return err
	}
	return &cliError{err: err, hints: hints}
}

func withDefaultNext(err error, next string) error {
	if err == nil || errors.Is(err, errHelp) {
		return err
	}
	return withNext(err, next)
}

// explainAPIError attaches hints for the failures users hit most often.
// action names what was attempted, e.g. "show job 42".
func explainAPIError(err error, action string) error {
	if err == nil || errors.Is(err, errHelp) {
		return err
	}
	msg := action + ": " + errorMessage(err)
	switch {
	case errors.Is(err, context.Canceled):
		return wrapCLIError(err, action+": interrupted", "")
	case errors.Is(err, userapi.ErrInvalidArgument):
		return wrapCLIError(err, msg, "")
	case userapi.IsTransport(err):
		return wrapCLIError(err, msg, "khctl ping",
			"check --base-url or "+config.EnvBaseURL,
			"the service may be down or unreachable from this host")
	case userapi.IsUnauthorized(err):
		return wrapCLIError(err, msg, "",
			"check "+config.EnvEmail+" and "+config.EnvAPIKey,
			"API keys are 64 hex characters and can be rotated in the web UI")
	case userapi.ErrorCode(err) == userapi.CodeClientRequired:
		return wrapCLIError(err, msg, "khctl client list",
			"this server requires --client on hashlist upload")
	case userapi.ErrorCode(err) == userapi.CodeClientHasHashlists:
		return wrapCLIError(err, msg, "khctl hashlist list --client <client_id>",
			"delete or move the client's hashlists first")
	case userapi.ErrorCode(err) == userapi.CodeHashlistHasActiveJobs:
		return wrapCLIError(err, msg, "khctl job list --hashlist <hashlist_id>",
			"wait for the jobs to finish or cancel them first")
	case userapi.IsNotFound(err):
		return wrapCLIError(err, msg, "", "the resource may have been deleted or belongs to another user")
	case userapi.StatusCode(err) == http.StatusTooManyRequests:
		return wrapCLIError(err, msg, "", "the service is rate limiting; retry later")
	case userapi.StatusCode(err) >= http.StatusInternalServerError:
		return wrapCLIError(err, msg, "", "server-side failure; retry or check the service logs")
	default:
		return wrapCLIError(err, msg, "")
	}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *userapi.APIError
	if errors.As(err, &apiErr) {
		text := strings.TrimSpace(apiErr.Message)
		if text == "" {
			text = http.StatusText(apiErr.StatusCode)
		}
		if apiErr.Code != "" {
			return fmt.Sprintf("%s (%s, HTTP %d)", text, apiErr.Code, apiErr.StatusCode)
		}
		return fmt.Sprintf("%s (HTTP %d)", text, apiErr.StatusCode)
	}
	return strings.TrimSpace(err.Error())
}

func describeError(err error) (string, string, []string) {
	if err == nil {
		return "", "", nil
	}
	var ce *cliError
	if errors.As(err, &ce) {
		msg := strings.TrimSpace(ce.msg)
		next := strings.TrimSpace(ce.next)
		hints := normalizeHints(ce.hints)
		if msg == "" {
			msg = errorMessage(ce.err)
		}
		return msg, next, hints
	}
	return errorMessage(err), "", nil
}

func normalizeHints(hints []string) []string {
	seen := make(map[string]struct{}, len(hints))
	out := make([]string, 0, len(hints))
	for _, hint := range hints {
		value := strings.TrimSpace(hint)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func printError(w io.Writer, msg, next string, hints []string) {
	if w == nil {
		return
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "unknown error"
	}
	_, _ = io.WriteString(w, "error: "+msg+"\n")
	next = strings.TrimSpace(next)
	if next != "" {
		_, _ = io.WriteString(w, "next: "+next+"\n")
	}
	for _, hint := range normalizeHints(hints) {
		_, _ = io.WriteString(w, "hint: "+hint+"\n")
	}
}
