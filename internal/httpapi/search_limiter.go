package httpapi

import (
	"context"
	"sync"
	"time"

	"speedchat/internal/parts"
)

type webSearcher interface {
	Search(ctx context.Context, query string, count int) ([]parts.SearchResult, error)
}

// rateLimitedSearcher spaces upstream searches by at least minInterval across
// all turns sharing it.
type rateLimitedSearcher struct {
	inner       webSearcher
	minInterval time.Duration

	mu            sync.Mutex
	nextAllowedAt time.Time
}

func newRateLimitedSearcher(inner webSearcher, minInterval time.Duration) webSearcher {
	if inner == nil || minInterval <= 0 {
		return inner
	}
	return &rateLimitedSearcher{
		inner:       inner,
		minInterval: minInterval,
	}
}

func (s *rateLimitedSearcher) Search(ctx context.Context, query string, count int) ([]parts.SearchResult, error) {
	if err := s.waitTurn(ctx); err != nil {
		return nil, err
	}
	return s.inner.Search(ctx, query, count)
}

func (s *rateLimitedSearcher) waitTurn(ctx context.Context) error {
	for {
		s.mu.Lock()
		now := time.Now()
		if s.nextAllowedAt.IsZero() || !s.nextAllowedAt.After(now) {
			s.nextAllowedAt = now.Add(s.minInterval)
			s.mu.Unlock()
			return nil
		}
		wait := s.nextAllowedAt.Sub(now)
		s.mu.Unlock()

		if err := waitWithContext(ctx, wait); err != nil {
			return err
		}
	}
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
