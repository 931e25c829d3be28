package filter

import (
	"regexp"

	"github.com/mdbg-dev/mdbg/internal/domain"
	out "github.com/mdbg-dev/mdbg/internal/output"
)

// Pipeline chains the emit filters in fixed order: match pattern, then
// excludes, then where clauses. Pattern and excludes apply to a record's
// textual payload; records without one (state changes, breakpoint hits)
// pass those stages untouched so control flow stays visible under --match.
type Pipeline struct {
	pattern  *regexp.Regexp
	excludes []*regexp.Regexp
	where    *WhereFilter
}

// NewPipeline returns nil when no filters are given; a nil pipeline allows
// everything, so callers skip the check without special-casing.
func NewPipeline(pattern *regexp.Regexp, excludes []*regexp.Regexp, where *WhereFilter) *Pipeline {
	if pattern == nil && len(excludes) == 0 && where == nil {
		return nil
	}
	return &Pipeline{pattern: pattern, excludes: excludes, where: where}
}

// Match decides whether a payload record is emitted.
func (p *Pipeline) Match(record any) bool {
	if p == nil {
		return true
	}

	if text, ok := textOf(record); ok {
		if p.pattern != nil && !p.pattern.MatchString(text) {
			return false
		}
		for _, ex := range p.excludes {
			if ex.MatchString(text) {
				return false
			}
		}
	}
	if p.where != nil && !p.where.Match(record) {
		return false
	}
	return true
}

// textOf extracts the greppable payload of a record, when it has one.
func textOf(record any) (string, bool) {
	switch rec := record.(type) {
	case *domain.ProcessOutput:
		return rec.Text, true
	case *domain.ExceptionHit:
		return rec.Message, true
	case *out.AnnotatedException:
		return rec.Message, true
	default:
		return "", false
	}
}
