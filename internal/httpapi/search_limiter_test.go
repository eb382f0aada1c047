package httpapi

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speedchat/internal/parts"
)

type timedSearcher struct {
	mu        sync.Mutex
	callTimes []time.Time
}

func (s *timedSearcher) Search(_ context.Context, _ string, _ int) ([]parts.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callTimes = append(s.callTimes, time.Now())
	return nil, nil
}

func (s *timedSearcher) times() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Time, len(s.callTimes))
	copy(out, s.callTimes)
	return out
}

func TestRateLimitedSearcherAppliesMinimumSpacing(t *testing.T) {
	searcher := &timedSearcher{}
	limited := newRateLimitedSearcher(searcher, 40*time.Millisecond)

	_, err := limited.Search(context.Background(), "one", 5)
	require.NoError(t, err)
	_, err = limited.Search(context.Background(), "two", 5)
	require.NoError(t, err)

	calls := searcher.times()
	require.Len(t, calls, 2)
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), 35*time.Millisecond)
}

func TestRateLimitedSearcherHonorsContextCancel(t *testing.T) {
	searcher := &timedSearcher{}
	limited := newRateLimitedSearcher(searcher, 120*time.Millisecond)

	_, err := limited.Search(context.Background(), "first", 5)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()
	_, err = limited.Search(ctx, "second", 5)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Len(t, searcher.times(), 1)
}

func TestRateLimitedSearcherPassesThroughWithoutInterval(t *testing.T) {
	searcher := &timedSearcher{}
	assert.Same(t, webSearcher(searcher), newRateLimitedSearcher(searcher, 0))
	assert.Nil(t, newRateLimitedSearcher(nil, time.Second))
}
