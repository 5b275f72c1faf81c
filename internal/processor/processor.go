// Package processor implements the per-URL orchestration of §4.9: the
// fixed seven-step sequence (robots check, fetch via the matching protocol
// client, classify, scrape, filter, enqueue discovered links, update_one)
// that the Engine's worker pool runs for every checked-out URLRecord.
// Grounded on the teacher's engine/scheduler.go processRequest, replacing
// its Fetcher-map/callback dispatch with the Web Client/FTP Client split
// and the URL Table's durable state machine.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/mirrorctl/mirrorctl/internal/pipeline"
	"github.com/mirrorctl/mirrorctl/internal/robots"
	"github.com/mirrorctl/mirrorctl/internal/scrape"
	"github.com/mirrorctl/mirrorctl/internal/session"
	"github.com/mirrorctl/mirrorctl/internal/types"
	"github.com/mirrorctl/mirrorctl/internal/urlfilter"
	"github.com/mirrorctl/mirrorctl/internal/urltable"
	"github.com/mirrorctl/mirrorctl/internal/waiter"
	"github.com/mirrorctl/mirrorctl/internal/webclient"
	"github.com/mirrorctl/mirrorctl/internal/writer"
)

// Options configures a Processor's recursion and robots-compliance policy.
// Level/retry-budget/domain/pattern limits live in the injected
// urlfilter.Chain instead, so they stay centrally configured in one place.
type Options struct {
	Recursive      bool
	PageRequisites bool
	RobotsEnabled  bool
}

// ItemMetrics receives extraction/write outcome counts, fed into
// mirrorctl_items_*_total metrics. Satisfied structurally by
// *observability.Metrics.
type ItemMetrics interface {
	RecordItemExtracted()
	RecordItemDropped()
	RecordItemStored()
}

// Processor drives the full fetch-scrape-filter-enqueue cycle for one
// URLRecord at a time. A single Processor is shared by every worker
// goroutine; all of its fields are safe for concurrent use.
type Processor struct {
	table     urltable.Table
	web       *webclient.WebClient
	ftp       *session.FTPClient
	robots    *robots.Checker
	scraper   scrape.Scraper
	extractor *scrape.Extractor
	filters   *urlfilter.Chain
	dedup     *urlfilter.Dedup
	wait      *waiter.Waiter
	out       writer.Writer
	pipe      *pipeline.Pipeline
	opts      Options
	logger    *slog.Logger
	metrics   ItemMetrics
}

// SetMetrics wires item-outcome counters into p. Optional; a nil metrics
// means no-op recording.
func (p *Processor) SetMetrics(m ItemMetrics) { p.metrics = m }

func New(
	table urltable.Table,
	web *webclient.WebClient,
	ftp *session.FTPClient,
	robotsChecker *robots.Checker,
	scraper scrape.Scraper,
	extractor *scrape.Extractor,
	filters *urlfilter.Chain,
	dedup *urlfilter.Dedup,
	wait *waiter.Waiter,
	out writer.Writer,
	pipe *pipeline.Pipeline,
	opts Options,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		table:     table,
		web:       web,
		ftp:       ftp,
		robots:    robotsChecker,
		scraper:   scraper,
		extractor: extractor,
		filters:   filters,
		dedup:     dedup,
		wait:      wait,
		out:       out,
		pipe:      pipe,
		opts:      opts,
		logger:    logger.With("component", "processor"),
	}
}

// Process runs the full cycle for one checked-out record: robots check,
// fetch, classify, scrape, filter, enqueue, and the final UpdateOne that
// advances the URL Table's state machine.
func (p *Processor) Process(ctx context.Context, record *types.URLRecord) error {
	req, err := requestFromRecord(record)
	if err != nil {
		_ = p.table.UpdateOne(ctx, record.URL, types.StatusError, 0)
		return err
	}

	host := req.Domain()
	p.wait.Wait(host)

	if req.URL.Scheme == "http" || req.URL.Scheme == "https" {
		if p.opts.RobotsEnabled && p.robots != nil {
			allowed, err := p.checkRobots(ctx, req)
			if err != nil {
				p.wait.OnError(host)
				_ = p.table.UpdateOne(ctx, record.URL, types.StatusError, 0)
				return err
			}
			if !allowed {
				return p.table.Release(ctx, record.URL, types.StatusSkipped)
			}
		}
	}

	resp, err := p.fetch(ctx, req)
	if err != nil {
		p.wait.OnError(host)
		p.logger.Warn("fetch failed", "url", record.URL, "error", err)
		_ = p.table.UpdateOne(ctx, record.URL, types.StatusError, 0)
		return err
	}
	p.wait.OnSuccess(host)

	switch {
	case resp.IsPermanentFailure():
		return p.table.Release(ctx, record.URL, types.StatusSkipped)
	case resp.IsServerError():
		_ = p.table.UpdateOne(ctx, record.URL, types.StatusError, resp.StatusCode)
		return &types.ServerError{URL: record.URL, StatusCode: resp.StatusCode}
	case !resp.IsSuccess():
		_ = p.table.UpdateOne(ctx, record.URL, types.StatusError, resp.StatusCode)
		return &types.ProtocolError{URL: record.URL, Err: errUnexpectedStatus(resp.StatusCode)}
	}

	if p.out != nil {
		if _, err := p.out.Write(resp); err != nil {
			p.logger.Error("write failed", "url", record.URL, "error", err)
		} else if p.metrics != nil {
			p.metrics.RecordItemStored()
		}
	}

	if p.extractor != nil {
		item, err := p.extractor.Extract(resp)
		if err != nil {
			p.logger.Warn("extraction failed", "url", record.URL, "error", err)
		} else if item != nil {
			if p.pipe != nil && p.pipe.Len() > 0 {
				item, err = p.pipe.Process(item)
				if err != nil {
					p.logger.Warn("pipeline middleware failed", "url", record.URL, "error", err)
				}
			}
			if item != nil {
				p.logger.Debug("extracted item", "url", record.URL, "fields", len(item.Fields))
				if p.metrics != nil {
					p.metrics.RecordItemExtracted()
				}
			} else if p.metrics != nil {
				p.metrics.RecordItemDropped()
			}
		}
	}

	if p.opts.Recursive && p.scraper != nil {
		p.discover(ctx, record, resp)
	}

	return p.table.UpdateOne(ctx, record.URL, types.StatusDone, resp.StatusCode)
}

func (p *Processor) fetch(ctx context.Context, req *types.Request) (*types.Response, error) {
	if req.URL.Scheme == "ftp" {
		return p.ftp.Download(ctx, req)
	}
	return p.web.Download(ctx, req)
}

func (p *Processor) checkRobots(ctx context.Context, req *types.Request) (bool, error) {
	port := req.URL.Port()
	if port == "" {
		if req.URL.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return p.robots.Allowed(ctx, req.URL.Scheme, req.URL.Hostname(), port, req.URL.Path)
}

// discover scrapes resp for links, filters each candidate, and enqueues the
// survivors as fresh todo records.
func (p *Processor) discover(ctx context.Context, record *types.URLRecord, resp *types.Response) {
	links, err := p.scraper.Scrape(resp)
	if err != nil {
		p.logger.Warn("scrape failed", "url", record.URL, "error", err)
		return
	}

	var fresh []*types.URLRecord
	for _, link := range links {
		if link.Inline && !p.opts.PageRequisites {
			continue
		}
		if p.dedup.SeenOrMark(link.URL) {
			continue
		}

		candidate, err := url.Parse(link.URL)
		if err != nil {
			continue
		}

		level := record.Level + 1

		existing, _, _ := p.table.Get(ctx, link.URL)
		ok, rejectedBy := p.filters.Allow(candidate, existing, level)
		if !ok {
			p.logger.Debug("filtered", "url", link.URL, "by", rejectedBy)
			continue
		}

		next := types.NewURLRecord(link.URL)
		next.Level = level
		next.TopURL = record.TopURL
		next.Referrer = record.URL
		next.Inline = link.Inline
		next.LinkType = link.LinkType
		fresh = append(fresh, next)
	}

	if len(fresh) == 0 {
		return
	}
	if _, err := p.table.AddMany(ctx, fresh); err != nil {
		p.logger.Warn("enqueue failed", "url", record.URL, "error", err)
	}
}

type unexpectedStatusError struct{ code int }

func (e unexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.code)
}

func errUnexpectedStatus(code int) error { return unexpectedStatusError{code: code} }

func requestFromRecord(record *types.URLRecord) (*types.Request, error) {
	req, err := types.NewRequest(record.URL)
	if err != nil {
		return nil, err
	}
	req.Level = record.Level
	req.TopURL = record.TopURL
	req.Referrer = record.Referrer
	req.Inline = record.Inline
	req.LinkType = record.LinkType
	req.PostData = record.PostData
	if record.PostData != "" {
		req.Method = "POST"
	}
	return req, nil
}
