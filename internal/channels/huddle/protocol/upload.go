package protocol

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// UploadRequest describes a file to push through the presigned upload flow.
type UploadRequest struct {
	ChannelID   string
	Name        string
	ContentType string
	Data        []byte
}

type presignResponse struct {
	FileID    string            `json:"fileId"`
	UploadURL string            `json:"uploadUrl"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// UploadFile runs presign → upload → confirm and returns the confirmed file.
func (c *Client) UploadFile(ctx context.Context, up UploadRequest) (*FileRef, error) {
	var ps presignResponse
	body := map[string]any{
		"name":        up.Name,
		"contentType": up.ContentType,
		"size":        len(up.Data),
		"channelId":   up.ChannelID,
	}
	if err := c.doJSON(ctx, http.MethodPost, "/files/presign", body, &ps); err != nil {
		return nil, fmt.Errorf("presign: %w", err)
	}
	if ps.FileID == "" || ps.UploadURL == "" {
		return nil, fmt.Errorf("presign: empty upload target")
	}

	if err := c.putObject(ctx, ps, up); err != nil {
		return nil, err
	}

	var ref FileRef
	if err := c.doJSON(ctx, http.MethodPost, "/files/"+url.PathEscape(ps.FileID)+"/confirm", nil, &ref); err != nil {
		return nil, fmt.Errorf("confirm: %w", err)
	}
	if ref.ID == "" {
		ref.ID = ps.FileID
	}
	return &ref, nil
}

// putObject uploads the bytes to the presigned URL. The URL carries its own
// credentials, so no bearer token is sent.
func (c *Client) putObject(ctx context.Context, ps presignResponse, up UploadRequest) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	target := ps.UploadURL
	if len(target) > 0 && target[0] == '/' {
		target = c.baseURL + target
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(up.Data))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(up.Data))
	if up.ContentType != "" {
		req.Header.Set("Content-Type", up.ContentType)
	}
	for k, v := range ps.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upload: HTTP %d", resp.StatusCode)
	}
	return nil
}

// GetDownloadURL resolves a short-lived download URL for an attachment.
func (c *Client) GetDownloadURL(ctx context.Context, fileID string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/files/"+url.PathEscape(fileID)+"/download-url", nil, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}
