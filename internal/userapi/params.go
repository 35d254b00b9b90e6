package userapi

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Params holds query parameters. Values are strings, integer types or bools.
type Params map[string]any

// Encode renders the parameters sorted by key. Nil values are skipped.
func (p Params) Encode() string {
	if len(p) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p))
	for key := range p {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	values := url.Values{}
	for _, key := range keys {
		if value, ok := formatParam(p[key]); ok {
			values.Add(key, value)
		}
	}
	return values.Encode()
}

func formatParam(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case *string:
		if v == nil {
			return "", false
		}
		return *v, true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return strconv.Itoa(v), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case *int64:
		if v == nil {
			return "", false
		}
		return strconv.FormatInt(*v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// joinURL joins base and path and collapses runs of slashes in the path.
func joinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	path = "/" + strings.TrimLeft(path, "/")
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	return base + path
}

// Pagination selects a page of a list endpoint. Zero values use the defaults.
type Pagination struct {
	Page     int
	PageSize int
}

// Default page size used by the reference client.
const DefaultPageSize = 20

func (p Pagination) params() Params {
	page := p.Page
	if page <= 0 {
		page = 1
	}
	size := p.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	return Params{"page": page, "page_size": size}
}
