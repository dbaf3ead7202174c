package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/haasonsaas/proximo/pkg/models"
)

// UploadImage uploads a chat image and returns its URL.
func (c *Client) UploadImage(ctx context.Context, filename string, r io.Reader) (string, error) {
	return c.upload(ctx, "/upload/image", filename, r)
}

// UploadProfilePhoto replaces the user's profile photo.
func (c *Client) UploadProfilePhoto(ctx context.Context, filename string, r io.Reader) (string, error) {
	return c.upload(ctx, "/upload/profile-photo", filename, r)
}

func (c *Client) upload(ctx context.Context, path, filename string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("read %s: %w", filename, err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	var out models.UploadResult
	err = c.do(ctx, request{
		method:      http.MethodPost,
		route:       path,
		path:        path,
		raw:         buf.Bytes(),
		contentType: w.FormDataContentType(),
		out:         &out,
	})
	if err != nil {
		return "", err
	}
	return out.URL, nil
}
