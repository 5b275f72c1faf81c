package urlfilter

import (
	"net/url"
	"path"
	"strings"

	"github.com/mirrorctl/mirrorctl/internal/types"
)

// Decision is one filter's verdict on a candidate URL.
type Decision int

const (
	DecisionAccept Decision = iota
	DecisionReject
	DecisionAbstain // filter has no opinion; chain moves to the next filter
)

// Filter evaluates one candidate URL discovered during a scrape, given the
// record tracking its own crawl history (may be nil for a not-yet-seen URL).
type Filter interface {
	Name() string
	Evaluate(candidate *url.URL, record *types.URLRecord, level int) Decision
}

// Chain runs filters in order and rejects on the first DecisionReject;
// abstentions fall through, and a candidate that reaches the end without
// any accept/reject is accepted by default (an empty chain allows
// everything).
type Chain struct {
	filters []Filter
}

func NewChain(filters ...Filter) *Chain { return &Chain{filters: filters} }

// Allow runs the full chain, returning false and the rejecting filter's
// name on the first rejection.
func (c *Chain) Allow(candidate *url.URL, record *types.URLRecord, level int) (ok bool, rejectedBy string) {
	for _, f := range c.filters {
		switch f.Evaluate(candidate, record, level) {
		case DecisionReject:
			return false, f.Name()
		case DecisionAccept:
			return true, ""
		}
	}
	return true, ""
}

// MaxLevelFilter rejects candidates beyond the configured recursion depth.
// maxLevel <= 0 means unlimited.
type MaxLevelFilter struct{ MaxLevel int }

func (f MaxLevelFilter) Name() string { return "max_level" }
func (f MaxLevelFilter) Evaluate(_ *url.URL, _ *types.URLRecord, level int) Decision {
	if f.MaxLevel > 0 && level > f.MaxLevel {
		return DecisionReject
	}
	return DecisionAbstain
}

// TriesFilter rejects candidates that have already exhausted their retry
// budget. Tries == 0 means unlimited retries, consistently across every
// filter site per the resolved Open Question.
type TriesFilter struct{ Tries int }

func (f TriesFilter) Name() string { return "tries" }
func (f TriesFilter) Evaluate(_ *url.URL, record *types.URLRecord, _ int) Decision {
	if f.Tries <= 0 || record == nil {
		return DecisionAbstain
	}
	if record.TryCount >= f.Tries {
		return DecisionReject
	}
	return DecisionAbstain
}

// DomainFilter enforces allow/deny host lists. An empty Allowed list means
// all hosts not explicitly denied are allowed.
type DomainFilter struct {
	Allowed []string
	Denied  []string
}

func (f DomainFilter) Name() string { return "domain" }
func (f DomainFilter) Evaluate(candidate *url.URL, _ *types.URLRecord, _ int) Decision {
	host := strings.ToLower(candidate.Hostname())
	for _, d := range f.Denied {
		if matchesDomain(host, d) {
			return DecisionReject
		}
	}
	if len(f.Allowed) == 0 {
		return DecisionAbstain
	}
	for _, a := range f.Allowed {
		if matchesDomain(host, a) {
			return DecisionAbstain
		}
	}
	return DecisionReject
}

func matchesDomain(host, pattern string) bool {
	pattern = strings.ToLower(pattern)
	if host == pattern {
		return true
	}
	return strings.HasSuffix(host, "."+pattern)
}

// PatternFilter rejects candidates whose path doesn't match any of the
// configured glob patterns. An empty pattern list abstains (allows all).
type PatternFilter struct{ Patterns []string }

func (f PatternFilter) Name() string { return "pattern" }
func (f PatternFilter) Evaluate(candidate *url.URL, _ *types.URLRecord, _ int) Decision {
	if len(f.Patterns) == 0 {
		return DecisionAbstain
	}
	for _, p := range f.Patterns {
		if ok, err := path.Match(p, candidate.Path); err == nil && ok {
			return DecisionAbstain
		}
	}
	return DecisionReject
}
