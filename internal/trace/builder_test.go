package trace

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
)

const ms = int64(time.Millisecond)

type fixture struct {
	symbols *SymbolRegistry
	tracer  *Tracer
	b       *Builder
	records []*Record

	c1, m1, m2, s1 int
	t1, t2         int
	a1, a2         int
}

func newFixture(t *testing.T, opts TracerOptions) *fixture {
	t.Helper()
	if opts.MaxTraceRecords == 0 {
		opts.MaxTraceRecords = 4096
	}
	cfg, err := NewTracerConfig(opts)
	require.NoError(t, err)

	f := &fixture{symbols: NewSymbolRegistry()}
	f.tracer = NewTracer(cfg, f.symbols, SinkFunc(func(r *Record) bool {
		f.records = append(f.records, r)
		return true
	}), nil)

	var span uint64
	f.tracer.newSpanID = func() uint64 { span++; return span }
	f.tracer.newTraceID = func() id.TraceID { return id.TraceID{Hi: 1, Lo: 2} }
	f.b = f.tracer.NewBuilder()

	f.c1 = f.symbols.SymbolID("some.Class")
	f.m1 = f.symbols.SymbolID("someMethod")
	f.m2 = f.symbols.SymbolID("otherMethod")
	f.s1 = f.symbols.SymbolID("()V")
	f.t1 = f.symbols.SymbolID("TRACE1")
	f.t2 = f.symbols.SymbolID("TRACE2")
	f.a1 = f.symbols.SymbolID("ATTR1")
	f.a2 = f.symbols.SymbolID("ATTR2")
	return f
}

func defaultOpts() TracerOptions {
	return TracerOptions{
		MinTraceTime:       50 * time.Millisecond,
		MinMethodTime:      250 * time.Microsecond,
		MaxTraceRecords:    4096,
		DefaultMarkerFlags: MarkerDropInterim,
	}
}

// checkRC asserts the number of submitted traces and the child counts along
// the first-child path of the first one.
func (f *fixture) checkRC(t *testing.T, recs int, children ...int) {
	t.Helper()
	require.Len(t, f.records, recs)
	if len(children) == 0 {
		return
	}
	rec := f.records[0]
	for depth, n := range children {
		require.Len(t, rec.Children, n, "children at depth %d", depth)
		if n > 0 {
			rec = rec.Children[0]
		}
	}
}

func TestStrayTraceFragment(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.b.TraceEnter(f.c1, f.m1, f.s1, 100*ms)
	f.b.TraceReturn(200 * ms)
	f.checkRC(t, 0)
}

func TestShortTraceIsDropped(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.b.TraceEnter(f.c1, f.m1, f.s1, 100*ms)
	f.b.TraceBegin(f.t1, 100, 0)
	f.b.TraceReturn(100*ms + 100)
	f.checkRC(t, 0)
	assert.False(t, f.b.InTrace())
}

func TestSubmitTraceFlagOverridesMinimumTime(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.b.TraceEnter(f.c1, f.m1, f.s1, 10*ms)
	f.b.TraceBegin(f.t1, 100, 0)
	f.b.MarkTraceFlags(MarkerSubmitTrace)
	f.b.TraceReturn(20 * ms)
	f.checkRC(t, 1, 0)
}

func TestDropTraceFlagSuppressesSubmission(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.b.TraceEnter(f.c1, f.m1, f.s1, 10*ms)
	f.b.TraceBegin(f.t1, 100, MarkerDropTrace)
	f.b.TraceReturn(500 * ms)
	f.checkRC(t, 0)
}

func TestAllMethodsKeepsShortFrames(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.b.TraceEnter(f.c1, f.m1, f.s1, 10*ms)
	f.b.TraceBegin(f.t1, 100, 0)
	f.b.MarkTraceFlags(MarkerAllMethods)
	f.b.TraceEnter(f.c1, f.m1, f.s1, 20*ms)
	f.b.TraceReturn(20*ms + 10)
	f.b.TraceReturn(200 * ms)
	f.checkRC(t, 1, 1, 0)
}

func TestSingleOneElementTrace(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.b.TraceEnter(f.c1, f.m1, f.s1, 100*ms)
	f.b.TraceBegin(f.t1, 200, 0)
	f.b.TraceReturn(200 * ms)

	f.checkRC(t, 1, 0)
	rec := f.records[0]
	require.NotNil(t, rec.Marker)
	assert.Equal(t, f.t1, rec.Marker.TraceType)
	assert.Equal(t, int64(200), rec.Marker.Clock)
	assert.Equal(t, 100*ms, rec.Time)
	assert.True(t, rec.Flags.Has(RecordTraceBegin))
	assert.Equal(t, id.TraceID{Hi: 1, Lo: 2}, rec.Marker.TraceID)
	assert.Equal(t, uint64(1), rec.Marker.SpanID)
}

func TestSingleTraceWithOneChildElement(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.b.TraceEnter(f.c1, f.m1, f.s1, 100*ms)
	f.b.TraceBegin(f.t1, 300, 0)
	f.b.TraceEnter(f.c1, f.m2, f.s1, 200*ms)
	f.b.TraceReturn(300 * ms)
	f.b.TraceReturn(400 * ms)

	f.checkRC(t, 1, 1, 0)
	assert.Equal(t, int64(2), f.records[0].Calls)
	assert.Equal(t, f.m2, f.records[0].Children[0].MethodID)
}

func TestTraceWithErrorElement(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.b.TraceEnter(f.c1, f.m1, f.s1, 100*ms)
	f.b.TraceBegin(f.t1, 400, 0)
	f.b.TraceErr(errors.New("oja!"), 200*ms)

	f.checkRC(t, 1, 0)
	rec := f.records[0]
	require.NotNil(t, rec.Exception)
	assert.Equal(t, "oja!", rec.Exception.Message)
	assert.Equal(t, "*errors.errorString", f.symbols.SymbolName(rec.Exception.ClassID))
	assert.NotEmpty(t, rec.Exception.Stack)
	assert.Equal(t, int64(1), rec.Errors)
	assert.True(t, rec.Marker.Flags.Has(MarkerErrorMark))
}

func TestShortErrorChildIsKept(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.b.TraceEnter(f.c1, f.m1, f.s1, 100*ms)
	f.b.TraceBegin(f.t1, 500, 0)
	f.b.TraceEnter(f.c1, f.m2, f.s1, 200*ms)
	f.b.TraceErr(errors.New("oja!"), 200*ms+100)
	f.b.TraceReturn(400 * ms)

	f.checkRC(t, 1, 1, 0)
	assert.Equal(t, int64(2), f.records[0].Calls)
	assert.Equal(t, int64(1), f.records[0].Errors)
	assert.Nil(t, f.records[0].Exception)
}

func TestShortChildrenArePrunedButCounted(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.b.TraceEnter(f.c1, f.m1, f.s1, 100*ms)
	f.b.TraceBegin(f.t1, 600, 0)
	f.b.SetMinimumTime(0)
	f.b.TraceEnter(f.c1, f.m2, f.s1, 110*ms)
	f.b.TraceReturn(110*ms + 100)
	f.b.TraceEnter(f.c1, f.m2, f.s1, 120*ms)
	f.b.TraceReturn(130 * ms)
	f.b.TraceReturn(140 * ms)

	f.checkRC(t, 1, 1, 0)
	assert.Equal(t, int64(3), f.records[0].Calls)
}

func TestAttributes(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.b.TraceEnter(f.c1, f.m1, f.s1, 100*ms)
	f.b.TraceBegin(f.t1, 700, 0)
	f.b.SetMinimumTime(0)
	f.b.NewAttr(f.a1, String("some val"))
	f.b.NewAttr(f.a2, Int(42))
	f.b.NewAttr(f.a1, String("replaced"))
	f.b.TraceReturn(110 * ms)

	f.checkRC(t, 1, 0)
	rec := f.records[0]
	require.Len(t, rec.Attrs, 2)
	v, ok := rec.Attr(f.a1)
	require.True(t, ok)
	assert.Equal(t, "replaced", v.Str())
	v, ok = rec.Attr(f.a2)
	require.True(t, ok)
	assert.Equal(t, int64(42), v.Int64())
}

func TestUntracedFramesAreRecycled(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.b.TraceEnter(f.c1, f.m1, f.s1, 100*ms)
	f.b.TraceEnter(f.c1, f.m2, f.s1, 100*ms)
	f.b.TraceEnter(f.c1, f.m2, f.s1, 100*ms)

	assert.Equal(t, 1, f.b.Depth())
	assert.False(t, f.b.InTrace())
}

func TestTraceRecordLimitHorizontal(t *testing.T) {
	opts := defaultOpts()
	opts.MaxTraceRecords = 3
	opts.MinTraceTime = 0
	f := newFixture(t, opts)

	f.b.TraceEnter(f.c1, f.m1, f.s1, 1*ms)
	f.b.TraceBegin(f.t1, 2*ms, 0)
	for ts := int64(3); ts < 11; ts += 2 {
		f.b.TraceEnter(f.c1, f.m2, f.s1, ts*ms)
		f.b.TraceReturn((ts + 1) * ms)
	}
	assert.Len(t, f.b.stack[0].Children, 2, "should limit to 2 children plus parent")

	f.b.TraceReturn(11 * ms)
	f.checkRC(t, 1, 2)
	assert.Equal(t, int64(5), f.records[0].Calls)
	assert.Equal(t, MarkerOverflow|MarkerDropInterim, f.records[0].Marker.Flags)
}

func TestTraceRecordLimitVertical(t *testing.T) {
	opts := defaultOpts()
	opts.MaxTraceRecords = 3
	opts.MinTraceTime = 0
	f := newFixture(t, opts)

	f.b.TraceEnter(f.c1, f.m1, f.s1, 1*ms)
	f.b.TraceBegin(f.t1, 2*ms, 0)
	for ts := int64(3); ts <= 6; ts++ {
		f.b.TraceEnter(f.c1, f.m2, f.s1, ts*ms)
	}
	for ts := int64(7); ts <= 10; ts++ {
		f.b.TraceReturn(ts * ms)
	}
	assert.Len(t, f.b.stack[0].Children, 1, "root record of a trace should have one child")

	f.b.TraceReturn(11 * ms)
	f.checkRC(t, 1, 1, 1, 0)
	assert.Equal(t, MarkerOverflow|MarkerDropInterim, f.records[0].Marker.Flags)
	assert.Equal(t, int64(5), f.records[0].Calls)
}

func TestOverflowFlagsFramesPastLimit(t *testing.T) {
	opts := defaultOpts()
	opts.MaxTraceRecords = 2
	opts.MinTraceTime = 0
	f := newFixture(t, opts)

	f.b.TraceEnter(f.c1, f.m1, f.s1, 0)
	f.b.TraceBegin(f.t1, 0, 0)
	for i := int64(1); i < 5; i++ {
		f.b.TraceEnter(f.c1, f.m2, f.s1, i*ms)
	}

	require.Equal(t, 5, f.b.Depth())
	for i, rec := range f.b.stack[:5] {
		assert.Equal(t, i >= 2, rec.Flags.Has(RecordOverflow), "frame %d", i)
	}

	for i := int64(0); i < 5; i++ {
		f.b.TraceReturn((10 + i) * ms)
	}
	require.Len(t, f.records, 1)
	assert.True(t, f.records[0].Marker.Flags.Has(MarkerOverflow))
	assert.LessOrEqual(t, f.records[0].Size(), 2)
	assert.Equal(t, int64(5), f.records[0].Calls)
}

func TestNestedTraceOverflowReachesParentMarker(t *testing.T) {
	opts := defaultOpts()
	opts.MaxTraceRecords = 4
	opts.MinTraceTime = 0
	f := newFixture(t, opts)

	f.b.TraceEnter(f.c1, f.m1, f.s1, 1*ms)
	f.b.TraceBegin(f.t1, 2*ms, 0)
	f.b.TraceEnter(f.c1, f.m2, f.s1, 3*ms)
	f.b.TraceBegin(f.t2, 4*ms, 0)
	for ts := int64(5); ts < 11; ts += 2 {
		f.b.TraceEnter(f.c1, f.m2, f.s1, ts*ms)
		f.b.TraceReturn((ts + 1) * ms)
	}
	f.b.TraceReturn(11 * ms)

	f.checkRC(t, 1, 2)
	inner := f.records[0]
	assert.Equal(t, f.t2, inner.Marker.TraceType)
	assert.Equal(t, MarkerOverflow|MarkerDropInterim, inner.Marker.Flags)

	f.records = nil
	f.b.TraceReturn(16 * ms)
	f.checkRC(t, 1, 0)
	outer := f.records[0]
	assert.Equal(t, MarkerOverflow|MarkerDropInterim, outer.Marker.Flags)
	assert.Equal(t, int64(5), outer.Calls)
	assert.Equal(t, outer.Marker.SpanID, inner.Marker.ParentID)
	assert.Equal(t, outer.Marker.TraceID, inner.Marker.TraceID)
}

func TestTraceWithMultipleBeginFlags(t *testing.T) {
	opts := defaultOpts()
	opts.MinTraceTime = 0
	f := newFixture(t, opts)

	f.b.TraceEnter(f.c1, f.m1, f.s1, 1*ms)
	f.b.TraceBegin(f.t1, 2*ms, 0)
	f.b.TraceBegin(f.t2, 2*ms, 0)
	f.b.TraceReturn(3 * ms)

	f.checkRC(t, 1, 0)
	assert.Equal(t, f.t1, f.records[0].Marker.TraceType)
}

func TestTraceWithTooManyReturns(t *testing.T) {
	opts := defaultOpts()
	opts.MinTraceTime = 0
	f := newFixture(t, opts)

	f.b.TraceEnter(f.c1, f.m1, f.s1, 1*ms)
	f.b.TraceBegin(f.t1, 2*ms, 0)
	f.b.TraceReturn(3 * ms)
	f.b.TraceReturn(4 * ms)
	f.b.TraceEnter(f.c1, f.m1, f.s1, 5*ms)
	f.b.TraceBegin(f.t1, 6*ms, 0)
	f.b.TraceReturn(7 * ms)

	f.checkRC(t, 2)
	// outside of a trace a stray return is indistinguishable from a recycled frame
	assert.Zero(t, f.b.misuses)
}

func TestUntracedNestedCallsAreNotMisuse(t *testing.T) {
	f := newFixture(t, defaultOpts())

	for i := int64(0); i < 5; i++ {
		base := i * 10 * ms
		f.b.TraceEnter(f.c1, f.m1, f.s1, base)
		f.b.TraceEnter(f.c1, f.m2, f.s1, base+ms)
		f.b.TraceReturn(base + 2*ms)
		f.b.TraceErr(errors.New("boom"), base+3*ms)
	}

	assert.Zero(t, f.b.misuses)
	assert.Empty(t, f.records)
	assert.Equal(t, 1, f.b.Depth())
}

func TestTraceBeginWithoutFrameIsIgnored(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.b.TraceBegin(f.t1, 0, 0)
	f.b.NewAttr(f.a1, String("x"))

	assert.False(t, f.b.InTrace())
	assert.Equal(t, 2, f.b.misuses)
}

func TestEmbeddedTracesAreSubmittedOnce(t *testing.T) {
	opts := defaultOpts()
	opts.MinTraceTime = 0
	opts.MinMethodTime = 0
	f := newFixture(t, opts)

	f.b.TraceEnter(f.c1, f.m1, f.s1, 1*ms)
	f.b.TraceBegin(f.t1, 2*ms, 0)

	f.b.TraceEnter(f.c1, f.m2, f.s1, 3*ms)
	f.b.TraceBegin(f.t2, 4*ms, 0)
	f.b.TraceReturn(5 * ms)
	f.checkRC(t, 1, 0)

	f.b.TraceEnter(f.c1, f.m2, f.s1, 6*ms)
	f.b.TraceBegin(f.t2, 7*ms, 0)
	f.b.TraceReturn(8 * ms)
	f.checkRC(t, 2, 0)

	f.b.TraceReturn(9 * ms)
	require.Len(t, f.records, 3)
	outer := f.records[2]
	assert.Equal(t, f.t1, outer.Marker.TraceType)
	assert.Empty(t, outer.Children)
	assert.Equal(t, int64(3), outer.Calls)
	for _, inner := range f.records[:2] {
		assert.Equal(t, outer.Marker.SpanID, inner.Marker.ParentID)
	}
	assert.NotEqual(t, f.records[0].Marker.SpanID, f.records[1].Marker.SpanID)
}

func TestDroppedNestedTraceStaysAsFrame(t *testing.T) {
	opts := defaultOpts()
	opts.MinTraceTime = 0
	f := newFixture(t, opts)

	f.b.TraceEnter(f.c1, f.m1, f.s1, 1*ms)
	f.b.TraceBegin(f.t1, 2*ms, 0)
	f.b.TraceEnter(f.c1, f.m2, f.s1, 3*ms)
	f.b.TraceBegin(f.t2, 4*ms, 0)
	f.b.SetMinimumTime(time.Second.Nanoseconds())
	f.b.TraceReturn(5 * ms)
	f.checkRC(t, 0)

	f.b.TraceReturn(9 * ms)
	f.checkRC(t, 1, 1, 0)
	child := f.records[0].Children[0]
	assert.Nil(t, child.Marker)
	assert.False(t, child.Flags.Has(RecordTraceBegin))
}

func TestExceptionPassedThroughFrames(t *testing.T) {
	opts := defaultOpts()
	opts.MinTraceTime = 0
	opts.MinMethodTime = 0
	f := newFixture(t, opts)
	ex := &Exception{ClassID: f.c1, Message: "oja!"}

	f.b.TraceEnter(f.c1, f.m1, f.s1, 1*ms)
	f.b.TraceBegin(f.t1, 2*ms, 0)
	f.b.TraceEnter(f.c1, f.m2, f.s1, 3*ms)
	f.b.TraceEnter(f.c1, f.m2, f.s1, 4*ms)
	f.b.TraceError(ex, 5*ms)
	f.b.TraceError(ex, 6*ms)
	f.b.TraceError(ex, 7*ms)

	f.checkRC(t, 1, 1, 1, 0)
	a := f.records[0]
	b := a.Children[0]
	c := b.Children[0]
	assert.Nil(t, a.Exception)
	assert.True(t, a.Flags.Has(RecordExceptionPass))
	assert.Nil(t, b.Exception)
	assert.True(t, b.Flags.Has(RecordExceptionPass))
	assert.Same(t, ex, c.Exception)
	assert.Equal(t, int64(3), a.Errors)
	assert.True(t, a.Marker.Flags.Has(MarkerErrorMark))
}

func TestWrappedErrorsKeepCause(t *testing.T) {
	opts := defaultOpts()
	opts.MinTraceTime = 0
	opts.MinMethodTime = 0
	f := newFixture(t, opts)
	base := errors.New("connection refused")

	f.b.TraceEnter(f.c1, f.m1, f.s1, 1*ms)
	f.b.TraceBegin(f.t1, 2*ms, 0)
	f.b.TraceEnter(f.c1, f.m2, f.s1, 3*ms)
	f.b.TraceEnter(f.c1, f.m2, f.s1, 4*ms)
	f.b.TraceErr(base, 5*ms)
	f.b.TraceErr(base, 6*ms)
	f.b.TraceErr(fmt.Errorf("query failed: %w", base), 7*ms)

	f.checkRC(t, 1, 1, 1, 0)
	a := f.records[0]
	c := a.Children[0].Children[0]
	require.NotNil(t, a.Exception)
	require.NotNil(t, c.Exception)
	assert.True(t, a.Flags.Has(RecordExceptionWrap))
	assert.True(t, a.Children[0].Flags.Has(RecordExceptionPass))
	assert.Same(t, c.Exception, a.Exception.Cause)
	assert.Equal(t, "*fmt.wrapError", f.symbols.SymbolName(a.Exception.ClassID))
}

// A -> B -> C where only C is slow: B is dropped as an interim frame and C
// is attached to A with B's counters.
func TestInterimFrameIsDropped(t *testing.T) {
	opts := defaultOpts()
	opts.MinTraceTime = 0
	f := newFixture(t, opts)
	us := int64(time.Microsecond)

	f.b.TraceEnter(f.c1, f.m1, f.s1, 0)
	f.b.TraceBegin(f.t1, 0, 0)
	f.b.TraceEnter(f.c1, f.m2, f.s1, 1*ms)
	f.b.TraceEnter(f.c1, f.symbols.SymbolID("slowMethod"), f.s1, 1*ms+10*us)
	f.b.TraceReturn(2*ms + 10*us)
	f.b.TraceReturn(2*ms + 40*us)
	f.b.TraceReturn(3 * ms)

	f.checkRC(t, 1, 1, 0)
	a := f.records[0]
	c := a.Children[0]
	assert.Equal(t, "slowMethod", f.symbols.SymbolName(c.MethodID))
	assert.True(t, c.Flags.Has(RecordDroppedParent))
	assert.Equal(t, int64(2), c.Calls)
	assert.Equal(t, int64(3), a.Calls)
}

// playCalls drives b with a random but balanced call tree and returns the
// number of enters and errors issued.
func playCalls(b *Builder, r *rand.Rand, clock *int64, depth int) (calls, errs int64) {
	*clock += r.Int63n(ms) + 1
	b.TraceEnter(1+r.Intn(3), 4+r.Intn(3), 7, *clock)
	calls = 1
	if r.Intn(4) == 0 {
		b.NewAttr(10+r.Intn(2), Int(r.Int63n(100)))
	}
	if depth < 6 {
		for n := r.Intn(4); n > 0; n-- {
			c, e := playCalls(b, r, clock, depth+1)
			calls += c
			errs += e
		}
	}
	*clock += r.Int63n(ms) + 1
	if r.Intn(8) == 0 {
		b.TraceError(&Exception{ClassID: 1, Message: "fail"}, *clock)
		errs++
	} else {
		b.TraceReturn(*clock)
	}
	return calls, errs
}

func playTrace(b *Builder, seed int64) (calls, errs int64) {
	r := rand.New(rand.NewSource(seed))
	clock := int64(0)
	b.TraceEnter(1, 2, 3, clock)
	b.TraceBegin(9, 0, MarkerSubmitTrace)
	calls = 1
	for n := 1 + r.Intn(5); n > 0; n-- {
		c, e := playCalls(b, r, &clock, 1)
		calls += c
		errs += e
	}
	b.TraceReturn(clock + 1)
	return calls, errs
}

func TestCallAndErrorCountConservation(t *testing.T) {
	for seed := int64(1); seed <= 50; seed++ {
		f := newFixture(t, defaultOpts())
		calls, errs := playTrace(f.b, seed)

		require.Len(t, f.records, 1, "seed %d", seed)
		assert.Equal(t, calls, f.records[0].Calls, "seed %d", seed)
		assert.Equal(t, errs, f.records[0].Errors, "seed %d", seed)
		assert.Equal(t, 1, f.b.Depth(), "seed %d", seed)
	}
}

func TestMinimumTimePruning(t *testing.T) {
	opts := defaultOpts()
	opts.MinTraceTime = 10 * time.Millisecond
	f := newFixture(t, opts)

	durations := []int64{1 * ms, 9 * ms, 10 * ms, 11 * ms, 50 * ms}
	start := int64(0)
	for _, d := range durations {
		f.b.TraceEnter(f.c1, f.m1, f.s1, start)
		f.b.TraceBegin(f.t1, start, 0)
		f.b.TraceReturn(start + d)
		start += d + ms
	}

	require.Len(t, f.records, 3)
	for _, rec := range f.records {
		assert.GreaterOrEqual(t, rec.Time, 10*ms)
	}
}

func TestRetainedTreeIsDeterministic(t *testing.T) {
	opts := cmp.Options{
		cmpopts.IgnoreUnexported(Record{}, Marker{}),
		cmp.AllowUnexported(Value{}),
	}
	for seed := int64(1); seed <= 20; seed++ {
		f1 := newFixture(t, defaultOpts())
		f2 := newFixture(t, defaultOpts())
		playTrace(f1.b, seed)
		playTrace(f2.b, seed)

		require.Len(t, f1.records, 1)
		if diff := cmp.Diff(f1.records, f2.records, opts); diff != "" {
			t.Fatalf("seed %d: trees differ (-first +second):\n%s", seed, diff)
		}
	}
}

func TestOverflowBound(t *testing.T) {
	for seed := int64(1); seed <= 30; seed++ {
		opts := defaultOpts()
		opts.MaxTraceRecords = 8
		opts.MinMethodTime = 0
		f := newFixture(t, opts)

		calls, _ := playTrace(f.b, seed)
		require.Len(t, f.records, 1)
		root := f.records[0]
		assert.LessOrEqual(t, root.Size(), 8, "seed %d", seed)
		assert.Equal(t, calls > 8, root.Marker.Flags.Has(MarkerOverflow), "seed %d", seed)
	}
}

func TestDisabledBuilderIgnoresEvents(t *testing.T) {
	f := newFixture(t, defaultOpts())
	f.b.Disable()
	f.b.TraceEnter(f.c1, f.m1, f.s1, 0)
	f.b.TraceBegin(f.t1, 0, MarkerSubmitTrace)
	f.b.TraceReturn(ms)
	f.checkRC(t, 0)

	f.b.Enable()
	f.b.TraceEnter(f.c1, f.m1, f.s1, 0)
	f.b.TraceBegin(f.t1, 0, MarkerSubmitTrace)
	f.b.TraceReturn(ms)
	f.checkRC(t, 1)
}

func TestNewTracerConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		opts TracerOptions
		ok   bool
	}{
		{"valid", TracerOptions{MaxTraceRecords: 1}, true},
		{"zero records", TracerOptions{}, false},
		{"negative trace time", TracerOptions{MinTraceTime: -1, MaxTraceRecords: 1}, false},
		{"negative method time", TracerOptions{MinMethodTime: -1, MaxTraceRecords: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewTracerConfig(tt.opts)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.opts.MaxTraceRecords, cfg.MaxTraceRecords())
				return
			}
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
