package costtracker

import (
	"context"
	"sync"
	"time"
)

// CostEvent represents a single AI usage event and its cost.
type CostEvent struct {
	Timestamp    time.Time
	Operation    string // "scenario" or "image"
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	Images       int
	AmountUSD    float64
	Failed       bool
}

// CostTracker provides methods to record and report costs.
type CostTracker interface {
	RecordCost(ctx context.Context, event CostEvent) error
	TotalCost(ctx context.Context) (float64, error)
	Events(ctx context.Context) ([]CostEvent, error)
}

// Summary aggregates events per operation.
type Summary struct {
	Operation    string
	Calls        int
	Failures     int
	InputTokens  int
	OutputTokens int
	Images       int
	AmountUSD    float64
}

// New returns an in-memory tracker for the lifetime of the process.
func New() *MemoryTracker {
	return &MemoryTracker{}
}

// MemoryTracker keeps events in memory. Safe for concurrent use.
type MemoryTracker struct {
	mu     sync.Mutex
	events []CostEvent
}

func (m *MemoryTracker) RecordCost(ctx context.Context, event CostEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) TotalCost(ctx context.Context) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, e := range m.events {
		total += e.AmountUSD
	}
	return total, nil
}

func (m *MemoryTracker) Events(ctx context.Context) ([]CostEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CostEvent, len(m.events))
	copy(out, m.events)
	return out, nil
}

// Summarize groups events by operation in first-seen order.
func Summarize(events []CostEvent) []Summary {
	var out []Summary
	pos := make(map[string]int)
	for _, e := range events {
		i, ok := pos[e.Operation]
		if !ok {
			i = len(out)
			pos[e.Operation] = i
			out = append(out, Summary{Operation: e.Operation})
		}
		s := &out[i]
		s.Calls++
		if e.Failed {
			s.Failures++
		}
		s.InputTokens += e.InputTokens
		s.OutputTokens += e.OutputTokens
		s.Images += e.Images
		s.AmountUSD += e.AmountUSD
	}
	return out
}

var _ CostTracker = (*MemoryTracker)(nil)
