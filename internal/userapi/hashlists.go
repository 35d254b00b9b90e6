package userapi

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// HashlistsService manages /hashlists.
type HashlistsService struct {
	c *Client
}

// Create uploads req.FilePath as a multipart form. The file is streamed, not
// buffered, and is closed before Create returns.
func (s *HashlistsService) Create(ctx context.Context, req CreateHashlistRequest) (Hashlist, error) {
	if strings.TrimSpace(req.Name) == "" {
		return Hashlist{}, invalidArg("name", "is required")
	}
	if req.HashTypeID < 0 {
		return Hashlist{}, invalidArg("hash_type_id", "must not be negative")
	}
	if strings.TrimSpace(req.FilePath) == "" {
		return Hashlist{}, invalidArg("file", "is required")
	}
	file, err := os.Open(req.FilePath)
	if err != nil {
		return Hashlist{}, fmt.Errorf("open hashlist file: %w", err)
	}
	defer file.Close()

	fields := []formField{
		{name: "name", value: req.Name},
		{name: "hash_type_id", value: strconv.Itoa(req.HashTypeID)},
	}
	if req.ClientID != nil {
		fields = append(fields, formField{name: "client_id", value: *req.ClientID})
	}
	if req.Description != nil {
		fields = append(fields, formField{name: "description", value: *req.Description})
	}

	var out Hashlist
	err = s.c.upload(ctx, "/hashlists", fields, filePart{
		field:    "file",
		filename: filepath.Base(req.FilePath),
		mimeType: "text/plain",
		content:  file,
	}, &out)
	return out, err
}

func (s *HashlistsService) List(ctx context.Context, opts ListHashlistsOptions) (Page[Hashlist], error) {
	query := opts.params()
	if opts.ClientID != "" {
		query["client_id"] = opts.ClientID
	}
	if opts.Search != "" {
		query["search"] = opts.Search
	}
	data, err := s.c.do(ctx, request{method: http.MethodGet, path: "/hashlists", query: query})
	if err != nil {
		return Page[Hashlist]{}, err
	}
	return decodePageFor[Hashlist](data, "hashlists", opts.Pagination)
}

func (s *HashlistsService) Get(ctx context.Context, id int64) (Hashlist, error) {
	if id <= 0 {
		return Hashlist{}, invalidArg("hashlist id", "must be positive")
	}
	var out Hashlist
	err := s.c.doJSON(ctx, request{method: http.MethodGet, path: fmt.Sprintf("/hashlists/%d", id), route: "/hashlists/{id}"}, &out)
	return out, err
}

// Delete fails with a 409 APIError while active jobs reference the hashlist.
func (s *HashlistsService) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return invalidArg("hashlist id", "must be positive")
	}
	_, err := s.c.do(ctx, request{method: http.MethodDelete, path: fmt.Sprintf("/hashlists/%d", id), route: "/hashlists/{id}"})
	return err
}

type formField struct {
	name  string
	value string
}

type filePart struct {
	field    string
	filename string
	mimeType string
	content  io.Reader
}

// upload sends a multipart form through the regular exchange. The JSON
// content type is replaced by the multipart boundary type; error handling is
// the same as for JSON requests.
func (c *Client) upload(ctx context.Context, path string, fields []formField, part filePart, out any) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	done := make(chan struct{})
	go func() {
		defer close(done)
		pw.CloseWithError(writeMultipart(mw, fields, part))
	}()

	r := request{
		method:      http.MethodPost,
		path:        path,
		body:        pr,
		contentType: mw.FormDataContentType(),
	}
	data, err := c.do(ctx, r)
	// Unblock the writer if the transport stopped reading early.
	_ = pr.CloseWithError(io.ErrClosedPipe)
	<-done
	if err != nil {
		return err
	}
	return decodeBody(r, data, out)
}

func writeMultipart(mw *multipart.Writer, fields []formField, part filePart) error {
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return err
		}
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(part.field), escapeQuotes(part.filename)))
	header.Set("Content-Type", part.mimeType)
	w, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, part.content); err != nil {
		return fmt.Errorf("stream %s: %w", part.filename, err)
	}
	return mw.Close()
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
