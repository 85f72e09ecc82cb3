package gate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/types"
)

var t0 = time.Date(2024, 11, 25, 9, 0, 0, 0, time.UTC)

func seen(label string) types.MatchResult {
	return types.MatchResult{Matched: true, Label: label, Distance: 0.3}
}

// recorder keeps every event it is handed.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Unlock(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestObserve_DebounceWithinCooldown(t *testing.T) {
	rec := &recorder{}
	g := New(Config{Cooldown: 5 * time.Second}, nil, rec)
	ctx := context.Background()

	if g.Verified(t0) {
		t.Fatal("A new gate must start Unverified")
	}

	if !g.Observe(ctx, seen("alice"), t0) {
		t.Error("First sighting must unlock")
	}
	for i := 1; i <= 5; i++ {
		if g.Observe(ctx, seen("alice"), t0.Add(time.Duration(i)*time.Second)) {
			t.Errorf("Sighting at +%ds must be debounced", i)
		}
	}
	if rec.count() != 1 {
		t.Fatalf("Expected exactly 1 side effect inside the window, got %d", rec.count())
	}

	if !g.Observe(ctx, seen("alice"), t0.Add(5*time.Second+time.Millisecond)) {
		t.Error("Sighting after the cooldown must unlock again")
	}
	if rec.count() != 2 {
		t.Errorf("Expected 2 side effects, got %d", rec.count())
	}
	if g.Unlocks() != 2 {
		t.Errorf("Unlocks() = %d, want 2", g.Unlocks())
	}
}

func TestObserve_ContinuousPresence(t *testing.T) {
	rec := &recorder{}
	g := New(Config{Cooldown: 5 * time.Second}, nil, rec)

	// One frame per time unit for 10 units.
	for i := 0; i < 10; i++ {
		g.Observe(context.Background(), seen("alice"), t0.Add(time.Duration(i)*time.Second))
	}
	if rec.count() != 2 {
		t.Fatalf("Expected 2 unlocks over 10s with a 5s cooldown, got %d", rec.count())
	}
	if !rec.events[0].At.Equal(t0) {
		t.Errorf("First unlock at %v, want %v", rec.events[0].At, t0)
	}
}

func TestObserve_IgnoresUnmatched(t *testing.T) {
	rec := &recorder{}
	g := New(Config{Cooldown: time.Second}, nil, rec)

	res := types.MatchResult{Matched: false, Label: types.Unrecognized}
	if g.Observe(context.Background(), res, t0) {
		t.Error("Unmatched results must not unlock")
	}
	if g.Verified(t0) || rec.count() != 0 {
		t.Error("Unmatched results must not change state")
	}
}

func TestObserve_GlobalVsPerLabelCooldown(t *testing.T) {
	ctx := context.Background()
	// bob's second sighting is 7s after his own unlock but 1s after alice's.
	tests := []struct {
		name        Granularity
		wantUnlocks int
	}{
		{Global, 3},
		{PerLabel, 4},
	}
	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			rec := &recorder{}
			g := New(Config{Cooldown: 5 * time.Second, Granularity: tt.name}, nil, rec)

			g.Observe(ctx, seen("alice"), t0)
			g.Observe(ctx, seen("bob"), t0.Add(1*time.Second))
			g.Observe(ctx, seen("alice"), t0.Add(7*time.Second))
			g.Observe(ctx, seen("bob"), t0.Add(8*time.Second))

			if rec.count() != tt.wantUnlocks {
				t.Errorf("Expected %d unlocks, got %d", tt.wantUnlocks, rec.count())
			}
		})
	}
}

func TestObserve_NewLabelAlwaysUnlocks(t *testing.T) {
	rec := &recorder{}
	g := New(Config{Cooldown: time.Hour}, nil, rec)
	g.Observe(context.Background(), seen("alice"), t0)
	if !g.Observe(context.Background(), seen("bob"), t0.Add(time.Second)) {
		t.Error("A label not yet verified must unlock regardless of cooldown")
	}
	snap := g.Snapshot(t0.Add(time.Second))
	if len(snap.Labels) != 2 || snap.Labels[0] != "alice" || snap.Labels[1] != "bob" {
		t.Errorf("Snapshot labels = %v", snap.Labels)
	}
}

func TestAbsenceTimeout(t *testing.T) {
	rec := &recorder{}
	g := New(Config{Cooldown: time.Hour, AbsenceTimeout: 30 * time.Second}, nil, rec)
	ctx := context.Background()

	g.Observe(ctx, seen("alice"), t0)
	if !g.Verified(t0.Add(30 * time.Second)) {
		t.Error("Still verified at exactly the timeout")
	}
	if g.Verified(t0.Add(31 * time.Second)) {
		t.Error("Expected Unverified after the absence timeout")
	}

	// Snapshot must not have mutated anything; the reset happens on the next observation.
	if !g.Observe(ctx, seen("alice"), t0.Add(40*time.Second)) {
		t.Error("Returning after the timeout must unlock again despite the long cooldown")
	}
	if rec.count() != 2 {
		t.Errorf("Expected 2 unlocks, got %d", rec.count())
	}
}

func TestNoAbsenceTimeoutNeverResets(t *testing.T) {
	g := New(Config{Cooldown: time.Second}, nil)
	g.Observe(context.Background(), seen("alice"), t0)
	if !g.Verified(t0.Add(24 * 365 * time.Hour)) {
		t.Error("Without an absence timeout the gate stays Verified")
	}
}

func TestUnlockerErrorsDoNotAffectState(t *testing.T) {
	failing := UnlockerFunc(func(ctx context.Context, ev Event) error { return errors.New("xdg-open missing") })
	rec := &recorder{}
	g := New(Config{Cooldown: time.Second}, nil, failing, rec)

	if !g.Observe(context.Background(), seen("alice"), t0) {
		t.Error("Expected unlock")
	}
	if rec.count() != 1 {
		t.Error("Later unlockers must still run after a failure")
	}
	ev := rec.events[0]
	if ev.Label != "alice" || ev.Distance != 0.3 || ev.ID.String() == "" {
		t.Errorf("Unexpected event %+v", ev)
	}
}

func TestConcurrentObserveAndSnapshot(t *testing.T) {
	rec := &recorder{}
	g := New(Config{Cooldown: time.Hour}, nil, rec)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				g.Observe(ctx, seen("alice"), t0.Add(time.Duration(i)*time.Millisecond))
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s := g.Snapshot(t0)
				if s.Verified != (len(s.Labels) > 0) {
					t.Error("Torn snapshot")
				}
			}
		}()
	}
	wg.Wait()

	if rec.count() != 1 {
		t.Errorf("Concurrent sightings within the cooldown must unlock once, got %d", rec.count())
	}
}

func TestParseGranularity(t *testing.T) {
	for in, want := range map[string]Granularity{"": Global, "global": Global, "per-label": PerLabel} {
		got, err := ParseGranularity(in)
		if err != nil || got != want {
			t.Errorf("ParseGranularity(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseGranularity("station"); err == nil {
		t.Error("Expected error for unknown granularity")
	}
}
