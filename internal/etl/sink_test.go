package etl

import (
	"context"
	"errors"
	"sync"
)

// memorySink is an in-memory Sink with scriptable failures.
type memorySink struct {
	mu    sync.Mutex
	docs  map[string]map[string]any
	calls int
	sent  int

	pingErr error
	// transportFailures fails the next n requests as a whole.
	transportFailures int
	permanent         bool
	// notAttempted reports each listed ID as not attempted n times.
	notAttempted map[string]int
	reject       map[string]string
	// failIDs fails every request carrying one of these IDs.
	failIDs map[string]bool
	// release, when set, blocks every request until it is closed.
	release chan struct{}
	started chan struct{}
}

func newMemorySink() *memorySink {
	return &memorySink{
		docs:         make(map[string]map[string]any),
		notAttempted: make(map[string]int),
		reject:       make(map[string]string),
		failIDs:      make(map[string]bool),
	}
}

var errConnReset = errors.New("connection reset by peer")

func (s *memorySink) Ping(ctx context.Context) error { return s.pingErr }

func (s *memorySink) BulkUpsert(ctx context.Context, items []BulkItem) ([]ItemResult, error) {
	if s.started != nil {
		select {
		case s.started <- struct{}{}:
		default:
		}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.transportFailures > 0 {
		s.transportFailures--
		if s.permanent {
			return nil, Permanent(errors.New("mapper_parsing_exception"))
		}
		return nil, errConnReset
	}
	for _, item := range items {
		if s.failIDs[item.ID] {
			return nil, errConnReset
		}
	}

	results := make([]ItemResult, len(items))
	for i, item := range items {
		if reason, ok := s.reject[item.ID]; ok {
			results[i] = ItemResult{Status: ItemRejected, Reason: reason}
			continue
		}
		if s.notAttempted[item.ID] > 0 {
			s.notAttempted[item.ID]--
			results[i] = ItemResult{Status: ItemNotAttempted, Reason: "es_rejected_execution_exception"}
			continue
		}
		s.docs[item.ID] = item.Body
		s.sent++
		results[i] = ItemResult{Status: ItemIndexed}
	}
	return results, nil
}

func (s *memorySink) Close(ctx context.Context) error { return nil }

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func (s *memorySink) doc(id string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[id]
}

func (s *memorySink) requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
