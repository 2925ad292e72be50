package testdoubles

import (
	"context"
	"maps"
	"sync"

	"github.com/AntonStoeckl/eventsourced-entities-go/eventstore"
)

// SpanSpy implements eventstore.SpanContext and keeps what was set on it.
type SpanSpy struct {
	mu         sync.Mutex
	status     string
	attributes map[string]string
}

func (c *SpanSpy) SetStatus(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.status = status
}

func (c *SpanSpy) AddAttribute(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.attributes == nil {
		c.attributes = make(map[string]string)
	}

	c.attributes[key] = value
}

// Status returns the last status set on the span.
func (c *SpanSpy) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.status
}

// Attributes returns a copy of the attributes added to the span.
func (c *SpanSpy) Attributes() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return maps.Clone(c.attributes)
}

// SpanRecord is one span started through the TracingCollectorSpy.
type SpanRecord struct {
	Name            string
	StartAttributes map[string]string
	Finished        bool
	FinishStatus    string
	FinishAttrs     map[string]string
	Span            *SpanSpy
}

// TracingCollectorSpy implements eventstore.TracingCollector and captures all spans.
type TracingCollectorSpy struct {
	mu    sync.Mutex
	spans []*SpanRecord
}

// NewTracingCollectorSpy creates an empty TracingCollectorSpy.
func NewTracingCollectorSpy() *TracingCollectorSpy {
	return &TracingCollectorSpy{}
}

func (s *TracingCollectorSpy) StartSpan(
	ctx context.Context,
	name string,
	attrs map[string]string,
) (context.Context, eventstore.SpanContext) {

	s.mu.Lock()
	defer s.mu.Unlock()

	span := &SpanSpy{}
	s.spans = append(s.spans, &SpanRecord{Name: name, StartAttributes: maps.Clone(attrs), Span: span})

	return ctx, span
}

func (s *TracingCollectorSpy) FinishSpan(spanCtx eventstore.SpanContext, status string, attrs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.spans {
		if eventstore.SpanContext(record.Span) == spanCtx {
			record.Finished = true
			record.FinishStatus = status
			record.FinishAttrs = maps.Clone(attrs)
		}
	}
}

// Spans returns copies of all captured span records.
func (s *TracingCollectorSpy) Spans() []SpanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SpanRecord, 0, len(s.spans))
	for _, record := range s.spans {
		out = append(out, *record)
	}

	return out
}

// SpanNamed returns the first span with the given name.
func (s *TracingCollectorSpy) SpanNamed(name string) (SpanRecord, bool) {
	for _, record := range s.Spans() {
		if record.Name == name {
			return record, true
		}
	}

	return SpanRecord{}, false
}
