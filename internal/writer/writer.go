// Package writer implements the mirrored-document sink of §6: writing each
// fetched body to disk under a directory layout mirroring the URL's host
// and path, alongside a sidecar metadata file. Grounded on the teacher's
// pipeline output shape (batched item persistence), adapted from a
// batch-of-Items sink to a per-response disk writer since mirrored
// documents are written as soon as they're fetched rather than batched.
package writer

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/mirrorctl/mirrorctl/internal/types"
)

// Writer persists a fetched Response's body to durable storage.
type Writer interface {
	Write(resp *types.Response) (path string, err error)
	Close() error
}

// metadata is the sidecar record written next to each mirrored document.
type metadata struct {
	URL           string            `json:"url"`
	StatusCode    int               `json:"status_code"`
	ContentType   string            `json:"content_type"`
	ContentLength int64             `json:"content_length"`
	FetchedAt     string            `json:"fetched_at"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// DiskWriter lays out mirrored documents under OutputDir the way a local
// mirror of a site would: host/path/to/page, with a trailing-slash URL
// landing on IndexHTMLName.
type DiskWriter struct {
	OutputDir      string
	MetadataSuffix string
	IndexHTMLName  string
}

func NewDiskWriter(outputDir, metadataSuffix, indexHTMLName string) *DiskWriter {
	if indexHTMLName == "" {
		indexHTMLName = "index.html"
	}
	if metadataSuffix == "" {
		metadataSuffix = ".meta.json"
	}
	return &DiskWriter{OutputDir: outputDir, MetadataSuffix: metadataSuffix, IndexHTMLName: indexHTMLName}
}

// Write saves resp's body under a path derived from its final URL and
// writes a JSON sidecar with response metadata. Returns the document's
// on-disk path.
func (w *DiskWriter) Write(resp *types.Response) (string, error) {
	relPath, err := w.localPath(resp.FinalURL)
	if err != nil {
		return "", &types.FileIOError{Path: resp.FinalURL, Err: err}
	}

	fullPath := filepath.Join(w.OutputDir, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", &types.FileIOError{Path: fullPath, Err: err}
	}

	var body []byte
	if resp.Body != nil {
		body = resp.Body.Bytes()
	}
	if err := os.WriteFile(fullPath, body, 0o644); err != nil {
		return "", &types.FileIOError{Path: fullPath, Err: err}
	}

	if err := w.writeMetadata(fullPath, resp); err != nil {
		return "", err
	}

	return fullPath, nil
}

func (w *DiskWriter) writeMetadata(docPath string, resp *types.Response) error {
	meta := metadata{
		URL:           resp.FinalURL,
		StatusCode:    resp.StatusCode,
		ContentType:   resp.ContentType,
		ContentLength: resp.ContentLength,
		FetchedAt:     resp.FetchedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if len(resp.Headers) > 0 {
		meta.Headers = make(map[string]string, len(resp.Headers))
		for k := range resp.Headers {
			meta.Headers[k] = resp.Headers.Get(k)
		}
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return &types.FileIOError{Path: docPath, Err: err}
	}

	metaPath := docPath + w.MetadataSuffix
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return &types.FileIOError{Path: metaPath, Err: err}
	}
	return nil
}

// localPath derives a filesystem-safe relative path from rawURL: host
// first, then the URL path, landing on IndexHTMLName when the path ends in
// a slash or is empty, matching the on-disk layout a mirrored site expects.
func (w *DiskWriter) localPath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	segments := []string{u.Hostname()}
	trimmed := strings.TrimPrefix(u.Path, "/")
	if trimmed == "" {
		segments = append(segments, w.IndexHTMLName)
	} else if strings.HasSuffix(trimmed, "/") {
		segments = append(segments, strings.Split(strings.TrimSuffix(trimmed, "/"), "/")...)
		segments = append(segments, w.IndexHTMLName)
	} else {
		segments = append(segments, strings.Split(trimmed, "/")...)
	}

	clean := make([]string, 0, len(segments))
	for _, s := range segments {
		if s == "" || s == "." || s == ".." {
			continue
		}
		clean = append(clean, s)
	}
	return filepath.Join(clean...), nil
}

func (w *DiskWriter) Close() error { return nil }
