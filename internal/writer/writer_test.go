package writer

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/mirrorctl/mirrorctl/internal/types"
)

func TestDiskWriterLocalPath(t *testing.T) {
	w := NewDiskWriter(t.TempDir(), ".meta.json", "index.html")

	cases := []struct {
		url  string
		want string
	}{
		{"https://example.com/", filepath.Join("example.com", "index.html")},
		{"https://example.com", filepath.Join("example.com", "index.html")},
		{"https://example.com/a/b.html", filepath.Join("example.com", "a", "b.html")},
		{"https://example.com/a/b/", filepath.Join("example.com", "a", "b", "index.html")},
	}
	for _, c := range cases {
		got, err := w.localPath(c.url)
		if err != nil {
			t.Fatalf("localPath(%q): %v", c.url, err)
		}
		if got != c.want {
			t.Errorf("localPath(%q) = %q, want %q", c.url, got, c.want)
		}
	}
}

func TestDiskWriterWrite(t *testing.T) {
	dir := t.TempDir()
	w := NewDiskWriter(dir, ".meta.json", "index.html")

	req, _ := types.NewRequest("https://example.com/page.html")
	resp := types.NewResponseFromStream(req, 200, http.Header{"Content-Type": []string{"text/html"}}, "https://example.com/page.html", []byte("<html></html>"), 0)

	path, err := w.Write(resp)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read written file: %v", err)
	}
	if string(data) != "<html></html>" {
		t.Errorf("written body = %q", data)
	}

	if _, err := os.Stat(path + ".meta.json"); err != nil {
		t.Errorf("expected metadata sidecar: %v", err)
	}
}
