package userapi

import (
	"context"
	"net/http"
)

// MetadataService reads service-wide reference data.
type MetadataService struct {
	c *Client
}

func (s *MetadataService) HashTypes(ctx context.Context, enabledOnly bool) ([]HashType, error) {
	return listAll[HashType](ctx, s.c, request{
		method: http.MethodGet,
		path:   "/hash-types",
		query:  Params{"enabled_only": enabledOnly},
	}, "hash_types")
}

func (s *MetadataService) Workflows(ctx context.Context) ([]Workflow, error) {
	return listAll[Workflow](ctx, s.c, request{method: http.MethodGet, path: "/workflows"}, "workflows")
}

func (s *MetadataService) PresetJobs(ctx context.Context) ([]PresetJob, error) {
	return listAll[PresetJob](ctx, s.c, request{method: http.MethodGet, path: "/preset-jobs"}, "preset_jobs")
}

func listAll[T any](ctx context.Context, c *Client, r request, key string) ([]T, error) {
	data, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	page, err := decodePage[T](data, key)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// Collect walks a paged list from page 1 until it gets an empty page, has
// gathered the reported total, or (when no total is reported) gets a short page.
func Collect[T any](ctx context.Context, pageSize int, fetch func(context.Context, Pagination) (Page[T], error)) ([]T, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var all []T
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		res, err := fetch(ctx, Pagination{Page: page, PageSize: pageSize})
		if err != nil {
			return all, err
		}
		all = append(all, res.Items...)
		if res.Total != TotalUnknown && len(all) >= res.Total {
			return all, nil
		}
		if res.PageSize <= 0 {
			res.PageSize = pageSize
		}
		if !res.HasMore() {
			return all, nil
		}
	}
}
