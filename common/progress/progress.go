// Copyright 2026 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package progress

import (
	"context"
	"sync"
	"time"
)

type spanKeyType struct{}

var spanKey spanKeyType

type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusSucceeded Status = "Succeeded"
	StatusFailed    Status = "Failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Tracer keeps the spans of one run in creation order.
type Tracer struct {
	name  string
	mu    sync.Mutex
	spans []*Span
	index map[string]*Span
}

func NewTracer(name string) *Tracer {
	return &Tracer{name: name, index: make(map[string]*Span)}
}

func (t *Tracer) Name() string {
	return t.name
}

// Add registers a pending root span. Adding an existing name returns the
// existing span.
func (t *Tracer) Add(name string, total int) *Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	if span, ok := t.index[name]; ok {
		return span
	}
	span := &Span{name: name, status: StatusPending, total: total}
	t.spans = append(t.spans, span)
	t.index[name] = span
	return span
}

// Start creates or resumes a root span and marks it running.
func (t *Tracer) Start(ctx context.Context, name string, total int) (context.Context, *Span) {
	span := t.Add(name, total)
	span.Start()
	return context.WithValue(ctx, spanKey, span), span
}

func (t *Tracer) Get(name string) (*Span, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	span, ok := t.index[name]
	return span, ok
}

func (t *Tracer) List() []Progress {
	t.mu.Lock()
	spans := append([]*Span(nil), t.spans...)
	t.mu.Unlock()
	progress := make([]Progress, 0, len(spans))
	for _, span := range spans {
		p := span.Progress()
		p.Tracer = t.name
		progress = append(progress, p)
	}
	return progress
}

type Span struct {
	mu       sync.Mutex
	name     string
	status   Status
	total    int
	count    int
	err      string
	start    time.Time
	finish   time.Time
	children []*Span
}

// Start moves a pending span to running.
func (s *Span) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusPending || s.status == "" {
		s.status = StatusRunning
		s.start = time.Now()
	}
}

func (s *Span) Add(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count += n
}

// End marks the span succeeded.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.status = StatusSucceeded
	s.count = s.total
	s.finish = time.Now()
}

// Fail marks the span failed. A failure overrides success.
func (s *Span) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusFailed
	if err != nil {
		s.err = err.Error()
	}
	if s.finish.IsZero() {
		s.finish = time.Now()
	}
}

func (s *Span) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Span) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Progress{
		Name:       s.name,
		Status:     s.status,
		Error:      s.err,
		Count:      s.count,
		Total:      s.total,
		StartTime:  s.start,
		FinishTime: s.finish,
	}
	for _, child := range s.children {
		p.Children = append(p.Children, child.Progress())
	}
	return p
}

// Start creates a running child of the span carried by ctx. Without a parent
// the span is detached.
func Start(ctx context.Context, name string, total int) (context.Context, *Span) {
	child := &Span{name: name, total: total}
	child.Start()
	if parent, ok := ctx.Value(spanKey).(*Span); ok {
		parent.mu.Lock()
		parent.children = append(parent.children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, spanKey, child), child
}

// Fail marks the span carried by ctx failed.
func Fail(ctx context.Context, err error) {
	if span, ok := ctx.Value(spanKey).(*Span); ok {
		span.Fail(err)
	}
}

type Progress struct {
	Tracer     string
	Name       string
	Status     Status
	Error      string
	Count      int
	Total      int
	StartTime  time.Time
	FinishTime time.Time
	Children   []Progress
}
