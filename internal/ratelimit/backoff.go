package ratelimit

import (
	"log/slog"
	"sync"
	"time"
)

// Phase associates a session-age window with the backoff delay applied
// within it. A Window of 0 means "no upper bound" and must be the last
// entry in a phase table.
type Phase struct {
	Window time.Duration
	Delay  time.Duration
}

// DefaultPhases is the backoff schedule applied to provider rate-limit
// responses: sessions under 5 minutes old back off 3s, under 10 minutes
// back off 9s, and anything older backs off 27s.
var DefaultPhases = []Phase{
	{Window: 300 * time.Second, Delay: 3 * time.Second},
	{Window: 600 * time.Second, Delay: 9 * time.Second},
	{Window: 0, Delay: 27 * time.Second},
}

// DefaultMaxRetries is the number of consecutive provider rate-limit
// responses tolerated before the session is terminated.
const DefaultMaxRetries = 3

// DefaultRetryAfter is a one-second retry delay. [Backoff] does not use it:
// a rate-limit response with no Retry-After hint gets the phase-table delay.
const DefaultRetryAfter = 1 * time.Second

// Backoff tracks consecutive provider rate-limit responses for a single
// session and decides how long to wait before retrying, escalating the
// delay as the session ages. It is safe for concurrent use.
type Backoff struct {
	mu         sync.Mutex
	phases     []Phase
	maxRetries int
	startedAt  time.Time
	retryCount int
}

// NewBackoff creates a Backoff whose session age is measured from the
// moment of creation. A nil phases slice uses [DefaultPhases]; a zero
// maxRetries uses [DefaultMaxRetries].
func NewBackoff(phases []Phase, maxRetries int) *Backoff {
	if phases == nil {
		phases = DefaultPhases
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Backoff{
		phases:     phases,
		maxRetries: maxRetries,
		startedAt:  time.Now(),
	}
}

// Retry records a single rate-limit response and returns the delay the
// caller should wait before retrying. retryAfter overrides the phase-table
// delay when positive (the provider's own Retry-After hint takes
// precedence). ok is false once the retry budget is exhausted — callers
// must terminate the session rather than wait further.
func (b *Backoff) Retry(retryAfter time.Duration) (delay time.Duration, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.retryCount >= b.maxRetries {
		return 0, false
	}
	b.retryCount++

	delay = b.delayForAgeLocked(time.Since(b.startedAt))
	if retryAfter > 0 {
		delay = retryAfter
	}

	slog.Warn("provider rate limited, backing off",
		"retry_count", b.retryCount,
		"max_retries", b.maxRetries,
		"delay", delay)
	return delay, true
}

// delayForAgeLocked returns the phase delay for the given session age.
// Caller must hold mu.
func (b *Backoff) delayForAgeLocked(age time.Duration) time.Duration {
	for _, p := range b.phases {
		if p.Window == 0 || age < p.Window {
			return p.Delay
		}
	}
	return b.phases[len(b.phases)-1].Delay
}

// Reset clears the retry counter after a successful exchange with the
// provider, so a later rate-limit response gets the full retry budget
// again.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retryCount = 0
}

// RetryCount returns the number of consecutive rate-limit responses
// recorded since the last Reset.
func (b *Backoff) RetryCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retryCount
}
