package processor

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/mirrorctl/mirrorctl/internal/scrape"
	"github.com/mirrorctl/mirrorctl/internal/types"
	"github.com/mirrorctl/mirrorctl/internal/urlfilter"
	"github.com/mirrorctl/mirrorctl/internal/urltable"
)

func TestRequestFromRecord(t *testing.T) {
	record := types.NewURLRecord("https://example.com/page")
	record.Level = 2
	record.TopURL = "https://example.com/"
	record.PostData = "a=1"

	req, err := requestFromRecord(record)
	if err != nil {
		t.Fatalf("requestFromRecord: %v", err)
	}
	if req.Level != 2 {
		t.Errorf("Level = %d, want 2", req.Level)
	}
	if req.Method != "POST" {
		t.Errorf("Method = %q, want POST (PostData set)", req.Method)
	}
	if req.TopURL != record.TopURL {
		t.Errorf("TopURL = %q, want %q", req.TopURL, record.TopURL)
	}
}

func TestRequestFromRecordGet(t *testing.T) {
	record := types.NewURLRecord("https://example.com/")
	req, err := requestFromRecord(record)
	if err != nil {
		t.Fatalf("requestFromRecord: %v", err)
	}
	if req.Method != "GET" {
		t.Errorf("Method = %q, want GET", req.Method)
	}
}

type fakeScraper struct{ links []scrape.Link }

func (f *fakeScraper) Scrape(resp *types.Response) ([]scrape.Link, error) { return f.links, nil }

// discover must assign a child's level as parent.level + 1 regardless of
// whether the link is an ordinary followed link or an inline page
// requisite: only TopURL is inherited unchanged for inline children, never
// the level.
func TestDiscoverAssignsChildLevel(t *testing.T) {
	table := urltable.NewMemoryTable()
	proc := &Processor{
		table: table,
		scraper: &fakeScraper{links: []scrape.Link{
			{URL: "https://example.com/b.html", Inline: false, LinkType: types.LinkTypeHTML},
			{URL: "https://example.com/img.png", Inline: true, LinkType: types.LinkTypeNone},
		}},
		filters: urlfilter.NewChain(),
		dedup:   urlfilter.NewDedup(),
		opts:    Options{Recursive: true, PageRequisites: true},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	parent := types.NewURLRecord("https://example.com/a.html")
	parent.Level = 1
	parent.TopURL = "https://example.com/a.html"

	proc.discover(context.Background(), parent, &types.Response{})

	for _, url := range []string{"https://example.com/b.html", "https://example.com/img.png"} {
		rec, ok, err := table.Get(context.Background(), url)
		if err != nil || !ok {
			t.Fatalf("Get(%q): ok=%v err=%v", url, ok, err)
		}
		if rec.Level != parent.Level+1 {
			t.Errorf("%s: Level = %d, want %d", url, rec.Level, parent.Level+1)
		}
	}
}
