package store

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
)

// DefaultLimit caps search results when Query.Limit is unset.
const DefaultLimit = 100

// Query selects stored chunks. Zero fields do not filter.
type Query struct {
	TraceID id.TraceID
	SpanID  uint64

	ErrorsOnly bool
	// SpansOnly keeps only the first chunk of each span.
	SpansOnly bool

	// Text is matched case-insensitively against the description, trace
	// type and attribute values.
	Text string
	// Attrs must all be present with exactly these values.
	Attrs map[string]string

	MinDuration int64
	// MinTstamp and MaxTstamp bound Tstamp inclusively; zero MaxTstamp is
	// unbounded.
	MinTstamp int64
	MaxTstamp int64

	Offset int
	Limit  int

	SortByDuration bool
	// FetchAttrs false strips attributes from results.
	FetchAttrs bool
}

// NewQuery returns a query with the default limit that fetches attributes.
func NewQuery() Query {
	return Query{Limit: DefaultLimit, FetchAttrs: true}
}

// WithAttr adds an attribute match. An empty value removes it.
func (q Query) WithAttr(name, value string) Query {
	attrs := make(map[string]string, len(q.Attrs)+1)
	for k, v := range q.Attrs {
		attrs[k] = v
	}
	if value == "" {
		delete(attrs, name)
	} else {
		attrs[name] = value
	}
	q.Attrs = attrs
	return q
}

// Result is one page of search results.
type Result struct {
	Chunks []*Chunk `json:"chunks"`
	Total  int      `json:"total"`
}

// Match reports whether c satisfies every filter of q.
func (q *Query) Match(c *Chunk) bool {
	if !q.TraceID.IsZero() && c.TraceID != q.TraceID {
		return false
	}
	if q.SpanID != 0 && c.SpanID != q.SpanID {
		return false
	}
	if q.ErrorsOnly && !c.HasError() {
		return false
	}
	if q.SpansOnly && c.ChunkNum != 0 {
		return false
	}
	if c.Duration < q.MinDuration {
		return false
	}
	if c.Tstamp < q.MinTstamp || c.Tstamp > q.maxTstamp() {
		return false
	}
	for k, v := range q.Attrs {
		if c.Attrs[k] != v {
			return false
		}
	}
	return q.Text == "" || matchText(c, strings.ToLower(q.Text))
}

func (q *Query) maxTstamp() int64 {
	if q.MaxTstamp == 0 {
		return math.MaxInt64
	}
	return q.MaxTstamp
}

func (q *Query) limit() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

func matchText(c *Chunk, text string) bool {
	if strings.Contains(strings.ToLower(c.Description()), text) ||
		strings.Contains(strings.ToLower(c.TraceType), text) {
		return true
	}
	for _, v := range c.Attrs {
		if strings.Contains(strings.ToLower(v), text) {
			return true
		}
	}
	return false
}

// page sorts matched chunks and cuts one page out of them. Chunks are
// expected in insertion order; the default order is newest first.
func (q *Query) page(matched []*Chunk) Result {
	slices.Reverse(matched)
	if q.SortByDuration {
		slices.SortStableFunc(matched, func(a, b *Chunk) int {
			return cmp.Compare(b.Duration, a.Duration)
		})
	}

	res := Result{Total: len(matched)}
	start := min(max(q.Offset, 0), len(matched))
	end := min(start+q.limit(), len(matched))
	res.Chunks = make([]*Chunk, 0, end-start)
	for _, c := range matched[start:end] {
		c = c.Clone()
		if !q.FetchAttrs {
			c.Attrs = nil
		}
		res.Chunks = append(res.Chunks, c)
	}
	return res
}
