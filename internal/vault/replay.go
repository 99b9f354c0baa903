package vault

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adk-sentryskin/shopify-sync/internal/apperr"
)

const (
	// TimestampWindow bounds the skew between a callback timestamp and now.
	TimestampWindow = 300 * time.Second
	// DuplicateWindow rejects a second completion for the same tenant.
	DuplicateWindow = 60 * time.Second
)

// CheckTimestamp accepts unix-seconds timestamps within TimestampWindow of now.
func CheckTimestamp(raw string, now time.Time) error {
	ts, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp %q", apperr.ErrReplayRejected, raw)
	}
	diff := now.Sub(time.Unix(ts, 0))
	if diff < 0 {
		diff = -diff
	}
	if diff > TimestampWindow {
		return fmt.Errorf("%w: timestamp is %s away from now", apperr.ErrReplayRejected, diff.Truncate(time.Second))
	}
	return nil
}

// ReplayGuard holds recent completions per tenant key. A key is reserved
// before the completion does any work, so concurrent callbacks for the same
// key cannot both pass.
type ReplayGuard struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

func NewReplayGuard(window time.Duration) *ReplayGuard {
	return &ReplayGuard{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// Reserve claims key at now, or rejects it when it was claimed less than
// window ago. A successful completion keeps the claim; a failed one hands it
// back with Release.
func (g *ReplayGuard) Reserve(key string, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pruneLocked(now)
	if last, ok := g.seen[key]; ok && now.Sub(last) < g.window {
		return fmt.Errorf("%w: duplicate completion for %s", apperr.ErrReplayRejected, key)
	}
	g.seen[key] = now
	return nil
}

// Release drops the claim made by Reserve(key, at). A newer claim on the same
// key is left alone.
func (g *ReplayGuard) Release(key string, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if claimed, ok := g.seen[key]; ok && claimed.Equal(at) {
		delete(g.seen, key)
	}
}

func (g *ReplayGuard) pruneLocked(now time.Time) {
	for k, at := range g.seen {
		if now.Sub(at) >= g.window {
			delete(g.seen, k)
		}
	}
}
