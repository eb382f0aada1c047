package stream

import "time"

// Stats summarizes the speed of one assistant turn.
type Stats struct {
	// TTFT is the time to first token in seconds.
	TTFT float64
	// ElapsedTime is the whole turn in milliseconds.
	ElapsedTime int64
	// CompletionTokens counts output plus reasoning tokens.
	CompletionTokens int
	// TPS is completion tokens per second.
	TPS float64
}

// Timer measures a turn from its start. The first text, reasoning or tool
// delta fixes the time to first token.
type Timer struct {
	now   func() time.Time
	start time.Time
	first time.Time
}

func StartTimer(now func() time.Time) *Timer {
	if now == nil {
		now = time.Now
	}
	return &Timer{now: now, start: now()}
}

func (t *Timer) MarkToken() {
	if t.first.IsZero() {
		t.first = t.now()
	}
}

func (t *Timer) Stats(outputTokens, reasoningTokens int) Stats {
	elapsed := t.now().Sub(t.start)
	stats := Stats{
		ElapsedTime:      elapsed.Milliseconds(),
		CompletionTokens: outputTokens + reasoningTokens,
	}
	if !t.first.IsZero() {
		stats.TTFT = t.first.Sub(t.start).Seconds()
	}
	if stats.CompletionTokens > 0 && elapsed > 0 {
		stats.TPS = float64(stats.CompletionTokens) / elapsed.Seconds()
	}
	return stats
}
