package credentials

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

const (
	// ErrorThreshold is the number of errors inside ErrorWindow that opens a cooldown.
	ErrorThreshold = 5
	// ErrorWindow is how far back errors are counted.
	ErrorWindow = 20 * time.Minute
	// CooldownPeriod is how long a tripped credential stays out of rotation.
	CooldownPeriod = 60 * time.Minute
)

// Governor rotates pool credentials and tracks their health. Usage counters
// come from the store; error windows and cooldowns live only in memory, so
// the governor is correct for a single orchestrator process.
type Governor struct {
	mu        sync.Mutex
	now       func() time.Time
	source    domain.CredentialStore
	logger    infra.Logger
	pool      map[string]*domain.Credential
	errors    map[string][]time.Time
	cooldowns map[string]time.Time
}

// Option customizes a Governor.
type Option func(*Governor)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(l infra.Logger) Option {
	return func(g *Governor) { g.logger = l }
}

// NewGovernor builds an empty governor. Call Reload or SetCredentials to fill the pool.
func NewGovernor(source domain.CredentialStore, opts ...Option) *Governor {
	g := &Governor{
		now:       time.Now,
		source:    source,
		logger:    infra.NopLogger(),
		pool:      make(map[string]*domain.Credential),
		errors:    make(map[string][]time.Time),
		cooldowns: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Reload replaces the pool with the store's active credentials. Error
// windows and cooldowns survive a reload.
func (g *Governor) Reload(ctx context.Context) error {
	if g.source == nil {
		return nil
	}
	creds, err := g.source.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("credentials: reload: %w", err)
	}
	g.SetCredentials(creds)
	g.logger.Debug().Int("pool_size", len(creds)).Msg("credentials: pool reloaded")
	return nil
}

// SetCredentials installs the pool. In-memory usage that is newer than the
// stored value wins so a reload never rewinds rotation.
func (g *Governor) SetCredentials(creds []domain.Credential) {
	g.mu.Lock()
	defer g.mu.Unlock()
	next := make(map[string]*domain.Credential, len(creds))
	for _, c := range creds {
		c := c
		if prev, ok := g.pool[c.ID]; ok {
			if prev.LastUsedAt.After(c.LastUsedAt) {
				c.LastUsedAt = prev.LastUsedAt
			}
			if prev.UsageCount > c.UsageCount {
				c.UsageCount = prev.UsageCount
			}
		}
		next[c.ID] = &c
	}
	g.pool = next
}

// Select returns the least recently used eligible credential, or false when
// the pool is exhausted.
func (g *Governor) Select() (domain.Credential, bool) {
	return g.SelectExcluding("")
}

// SelectExcluding is Select that never returns the credential with id exclude.
func (g *Governor) SelectExcluding(exclude string) (domain.Credential, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	var candidates []*domain.Credential
	for id, c := range g.pool {
		if id == exclude || !c.Active {
			continue
		}
		if g.inCooldownLocked(id, now) {
			continue
		}
		// One error of margin: concurrent callers may all pick a credential
		// just before it trips.
		if len(g.pruneLocked(id, now)) >= ErrorThreshold-1 {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return domain.Credential{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.LastUsedAt.Equal(b.LastUsedAt) {
			return a.LastUsedAt.Before(b.LastUsedAt)
		}
		if a.UsageCount != b.UsageCount {
			return a.UsageCount < b.UsageCount
		}
		return a.ID < b.ID
	})
	return *candidates[0], true
}

// RecordUsage bumps the credential's last-used time and usage counter.
func (g *Governor) RecordUsage(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.pool[id]; ok {
		c.LastUsedAt = g.now()
		c.UsageCount++
	}
}

// RecordError adds an error to the credential's window and opens a cooldown
// once the window holds ErrorThreshold entries. It returns the pruned count.
func (g *Governor) RecordError(id string) int {
	if id == "" {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.inCooldownLocked(id, now)
	g.errors[id] = append(g.errors[id], now)
	count := len(g.pruneLocked(id, now))
	if count >= ErrorThreshold {
		if _, cooling := g.cooldowns[id]; !cooling {
			until := now.Add(CooldownPeriod)
			g.cooldowns[id] = until
			g.logger.Warn().
				Str("credential_id", id).
				Int("errors", count).
				Time("until", until).
				Msg("credentials: cooldown opened")
		}
	}
	return count
}

// IsInCooldown reports whether the credential is cooling down. The first
// call after expiry clears both the cooldown and the error window.
func (g *Governor) IsInCooldown(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inCooldownLocked(id, g.now())
}

// ErrorCount returns the number of errors inside the trailing window.
func (g *Governor) ErrorCount(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pruneLocked(id, g.now()))
}

// Available counts credentials Select could currently return.
func (g *Governor) Available() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	n := 0
	for id, c := range g.pool {
		if c.Active && !g.inCooldownLocked(id, now) && len(g.pruneLocked(id, now)) < ErrorThreshold-1 {
			n++
		}
	}
	return n
}

// Reset drops all error windows and cooldowns.
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errors = make(map[string][]time.Time)
	g.cooldowns = make(map[string]time.Time)
}

func (g *Governor) inCooldownLocked(id string, now time.Time) bool {
	until, ok := g.cooldowns[id]
	if !ok {
		return false
	}
	if now.Before(until) {
		return true
	}
	delete(g.cooldowns, id)
	delete(g.errors, id)
	g.logger.Info().Str("credential_id", id).Msg("credentials: cooldown expired")
	return false
}

// pruneLocked drops errors older than ErrorWindow and returns what is left.
func (g *Governor) pruneLocked(id string, now time.Time) []time.Time {
	window := g.errors[id]
	if len(window) == 0 {
		return nil
	}
	horizon := now.Add(-ErrorWindow)
	kept := window[:0]
	for _, t := range window {
		if !t.Before(horizon) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(g.errors, id)
		return nil
	}
	g.errors[id] = kept
	return kept
}
