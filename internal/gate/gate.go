// Package gate turns a noisy stream of per-frame face matches into a debounced
// access decision.
//
// The gate is Unverified until a matched label is observed. Each matched
// observation of label L at time T fires an unlock when L is not yet verified
// or when the cooldown since the last unlock has elapsed. Everything else is
// debounced. Cooldown bookkeeping is either shared by all labels (Global) or
// kept per label (PerLabel). With an absence timeout, the gate falls back to
// Unverified once no known face has been seen for that long.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/types"
	"github.com/google/uuid"
)

// DefaultCooldown is the minimum time between repeated unlocks.
const DefaultCooldown = 5 * time.Second

// Granularity selects how the cooldown timestamp is shared.
type Granularity string

const (
	Global   Granularity = "global"
	PerLabel Granularity = "per-label"
)

// ParseGranularity validates a configuration value.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case Global, PerLabel:
		return Granularity(s), nil
	case "":
		return Global, nil
	}
	return "", fmt.Errorf("invalid cooldown granularity %q (use %q or %q)", s, Global, PerLabel)
}

// Event describes one unlock.
type Event struct {
	ID        uuid.UUID
	Label     string
	Distance  float64
	Embedding types.Embedding
	At        time.Time
}

// Unlocker is a side effect run after each unlock (opening the document, auditing).
type Unlocker interface {
	Unlock(ctx context.Context, ev Event) error
}

// UnlockerFunc adapts a function to Unlocker.
type UnlockerFunc func(ctx context.Context, ev Event) error

func (f UnlockerFunc) Unlock(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Snapshot is a consistent copy of the gate state.
type Snapshot struct {
	Verified   bool
	Labels     []string // sorted
	LastUnlock time.Time
	LastSeen   time.Time
}

// Config holds the gate parameters.
type Config struct {
	Cooldown       time.Duration
	Granularity    Granularity
	AbsenceTimeout time.Duration // 0 disables the reset
}

// Gate is safe for concurrent use by any number of stream loops and status readers.
type Gate struct {
	cfg Config
	log *slog.Logger

	mu          sync.RWMutex
	verified    map[string]struct{}
	lastUnlock  time.Time            // Global granularity
	labelUnlock map[string]time.Time // PerLabel granularity
	lastSeen    time.Time
	unlocks     int

	unlockers []Unlocker
}

// New returns an empty, Unverified gate.
func New(cfg Config, log *slog.Logger, unlockers ...Unlocker) *Gate {
	if cfg.Granularity == "" {
		cfg.Granularity = Global
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		cfg:         cfg,
		log:         log,
		verified:    make(map[string]struct{}),
		labelUnlock: make(map[string]time.Time),
		unlockers:   unlockers,
	}
}

// Observe feeds one match result into the gate. It returns true when the
// observation fired an unlock. Unmatched results never change state.
func (g *Gate) Observe(ctx context.Context, res types.MatchResult, at time.Time) bool {
	if !res.Matched {
		return false
	}

	g.mu.Lock()
	g.expireLocked(at)
	g.lastSeen = at

	label := res.Label
	_, known := g.verified[label]
	if known && !g.cooldownElapsedLocked(label, at) {
		g.mu.Unlock()
		return false
	}

	g.verified[label] = struct{}{}
	g.lastUnlock = at
	g.labelUnlock[label] = at
	g.unlocks++
	g.mu.Unlock()

	ev := Event{
		ID:        uuid.New(),
		Label:     label,
		Distance:  res.Distance,
		Embedding: res.Detection.Vec,
		At:        at,
	}
	g.log.Info("access granted", "label", label, "distance", res.Distance, "event", ev.ID)

	// Side effects run outside the lock so slow viewers or databases never block readers.
	for _, u := range g.unlockers {
		if err := u.Unlock(ctx, ev); err != nil {
			g.log.Error("unlock side effect failed", "label", label, "event", ev.ID, "error", err)
		}
	}
	return true
}

// cooldownElapsedLocked reports whether the cooldown since the relevant last unlock is exceeded.
func (g *Gate) cooldownElapsedLocked(label string, at time.Time) bool {
	last := g.lastUnlock
	if g.cfg.Granularity == PerLabel {
		last = g.labelUnlock[label]
	}
	return at.Sub(last) > g.cfg.Cooldown
}

// expireLocked resets the gate when the absence timeout has passed.
func (g *Gate) expireLocked(at time.Time) {
	if !g.expiredLocked(at) {
		return
	}
	g.log.Info("no known face seen, access revoked", "last_seen", g.lastSeen, "timeout", g.cfg.AbsenceTimeout)
	clear(g.verified)
	clear(g.labelUnlock)
	g.lastUnlock = time.Time{}
}

func (g *Gate) expiredLocked(at time.Time) bool {
	return g.cfg.AbsenceTimeout > 0 && len(g.verified) > 0 && at.Sub(g.lastSeen) > g.cfg.AbsenceTimeout
}

// Snapshot returns the state as of at without mutating it.
func (g *Gate) Snapshot(at time.Time) Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.expiredLocked(at) {
		return Snapshot{LastSeen: g.lastSeen}
	}
	labels := make([]string, 0, len(g.verified))
	for l := range g.verified {
		labels = append(labels, l)
	}
	slices.Sort(labels)
	return Snapshot{
		Verified:   len(labels) > 0,
		Labels:     labels,
		LastUnlock: g.lastUnlock,
		LastSeen:   g.lastSeen,
	}
}

// Verified is shorthand for Snapshot(at).Verified.
func (g *Gate) Verified(at time.Time) bool {
	return g.Snapshot(at).Verified
}

// Unlocks returns how many unlocks fired since start.
func (g *Gate) Unlocks() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.unlocks
}
