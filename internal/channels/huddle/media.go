package huddle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/nextlevelbuilder/huddleclaw/internal/bus"
	"github.com/nextlevelbuilder/huddleclaw/internal/channels/huddle/protocol"
)

const mediaDownloadTimeout = 60 * time.Second

// mediaFile is a fetched media payload ready for upload.
type mediaFile struct {
	Name        string
	ContentType string
	Data        []byte
}

// mediaLoader fetches outbound media from URLs or local paths.
type mediaLoader struct {
	httpClient *http.Client
}

func newMediaLoader(c *http.Client) *mediaLoader {
	if c == nil {
		c = &http.Client{Timeout: mediaDownloadTimeout}
	}
	return &mediaLoader{httpClient: c}
}

// load reads src, an http(s) URL, a file:// URL or a local path, refusing anything
// larger than maxBytes.
func (m *mediaLoader) load(ctx context.Context, src string, maxBytes int64) (*mediaFile, error) {
	u, err := url.Parse(src)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return m.download(ctx, u, maxBytes)
	}
	p := src
	if err == nil && u.Scheme == "file" {
		p = u.Path
	}
	return readLocal(p, maxBytes)
}

func (m *mediaLoader) download(ctx context.Context, u *url.URL, maxBytes int64) (*mediaFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download media: HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > maxBytes {
		return nil, fmt.Errorf("media too large: %d bytes (max %d)", resp.ContentLength, maxBytes)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("media too large: over %d bytes", maxBytes)
	}

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "file"
	}
	ct := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i > 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return &mediaFile{Name: name, ContentType: detectContentType(name, ct, data), Data: data}, nil
}

func readLocal(p string, maxBytes int64) (*mediaFile, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if info.Size() > maxBytes {
		return nil, fmt.Errorf("media too large: %d bytes (max %d)", info.Size(), maxBytes)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	name := filepath.Base(p)
	return &mediaFile{Name: name, ContentType: detectContentType(name, "", data), Data: data}, nil
}

func detectContentType(name, declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

// downscale shrinks images whose longest edge exceeds maxDim, keeping the aspect ratio
// and the original format. Anything that cannot be decoded is returned untouched.
func downscale(f *mediaFile, maxDim int) *mediaFile {
	if maxDim <= 0 || !strings.HasPrefix(f.ContentType, "image/") {
		return f
	}
	format, err := imageFormat(f)
	if err != nil {
		return f
	}
	img, err := imaging.Decode(bytes.NewReader(f.Data), imaging.AutoOrientation(true))
	if err != nil {
		slog.Debug("huddle media: image decode failed, uploading as is", "name", f.Name, "error", err)
		return f
	}
	b := img.Bounds()
	if b.Dx() <= maxDim && b.Dy() <= maxDim {
		return f
	}

	resized := imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, format); err != nil {
		slog.Debug("huddle media: image encode failed, uploading original", "name", f.Name, "error", err)
		return f
	}
	slog.Debug("huddle media: image downscaled", "name", f.Name,
		"from", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()),
		"to", fmt.Sprintf("%dx%d", resized.Bounds().Dx(), resized.Bounds().Dy()))
	return &mediaFile{Name: f.Name, ContentType: f.ContentType, Data: buf.Bytes()}
}

func imageFormat(f *mediaFile) (imaging.Format, error) {
	if format, err := imaging.FormatFromFilename(f.Name); err == nil {
		return format, nil
	}
	exts, _ := mime.ExtensionsByType(f.ContentType)
	for _, ext := range exts {
		if format, err := imaging.FormatFromExtension(ext); err == nil {
			return format, nil
		}
	}
	return 0, imaging.ErrUnsupportedFormat
}

// upload fetches src, downscales it if it is a large image, and uploads it to channelID.
func (m *mediaLoader) upload(ctx context.Context, conn *Connection, channelID, src string, maxBytes int64, maxDim int) (*protocol.FileRef, error) {
	f, err := m.load(ctx, src, maxBytes)
	if err != nil {
		return nil, err
	}
	f = downscale(f, maxDim)
	return conn.rest.UploadFile(ctx, protocol.UploadRequest{
		ChannelID:   channelID,
		Name:        f.Name,
		ContentType: f.ContentType,
		Data:        f.Data,
	})
}

// resolveAttachmentURLs fills in download URLs for inbound attachments that arrived
// without one, so the agent can fetch them.
func (m *mediaLoader) resolveAttachmentURLs(ctx context.Context, conn *Connection, atts []bus.Attachment) {
	for i := range atts {
		if atts[i].URL != "" || atts[i].ID == "" {
			continue
		}
		u, err := conn.rest.GetDownloadURL(ctx, atts[i].ID)
		if err != nil {
			slog.Warn("huddle: attachment URL lookup failed", "file_id", atts[i].ID,
				"error", &protocol.DiscoveryError{Op: "download_url", Err: err})
			continue
		}
		atts[i].URL = u
	}
}
