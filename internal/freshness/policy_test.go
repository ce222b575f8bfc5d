package freshness

import (
	"testing"
	"time"
)

func TestDecide_Boundaries(t *testing.T) {
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	maxAge := 15 * time.Minute

	tests := []struct {
		name string
		age  time.Duration
		want Decision
	}{
		{"just synced", 0, Fresh},
		{"one ns before max age", maxAge - 1, Fresh},
		{"exactly max age", maxAge, Stale},
		{"between", 20 * time.Minute, Stale},
		{"one ns before twice max age", 2*maxAge - 1, Stale},
		{"exactly twice max age", 2 * maxAge, Expired},
		{"days old", 72 * time.Hour, Expired},
		{"future timestamp", -time.Hour, Fresh},
	}
	for _, tt := range tests {
		got := Decide(now.Add(-tt.age), now, maxAge)
		if got != tt.want {
			t.Errorf("%s: Decide(age=%v) = %v, want %v", tt.name, tt.age, got, tt.want)
		}
	}
}

func TestDecide_NeverSyncedIsExpired(t *testing.T) {
	if got := Decide(time.Time{}, time.Now(), time.Hour); got != Expired {
		t.Errorf("zero lastSyncAt = %v, want expired", got)
	}
}

func TestDecide_NonPositiveMaxAge(t *testing.T) {
	now := time.Now()
	for _, m := range []time.Duration{0, -time.Minute} {
		if got := Decide(now, now, m); got != Expired {
			t.Errorf("maxAge=%v: got %v, want expired", m, got)
		}
	}
}

// Every input yields exactly one of the three decisions.
func TestDecide_Total(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ages := []time.Duration{-time.Hour, 0, time.Nanosecond, time.Second, time.Minute, time.Hour, 1000 * time.Hour}
	maxAges := []time.Duration{-1, 0, 1, time.Second, time.Hour, 48 * time.Hour}
	for _, a := range ages {
		for _, m := range maxAges {
			switch Decide(now.Add(-a), now, m) {
			case Fresh, Stale, Expired:
			default:
				t.Errorf("Decide(age=%v, maxAge=%v) returned an unknown decision", a, m)
			}
		}
	}
}

func TestPolicy_Cutoff(t *testing.T) {
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	p := Policy{MaxAge: 6 * time.Hour, Retention: Days(30)}
	want := time.Date(2026, 9, 19, 0, 0, 0, 0, time.UTC)
	if got := p.Cutoff(now); !got.Equal(want) {
		t.Errorf("Cutoff = %v, want %v", got, want)
	}
	if got := (Policy{}).Cutoff(now); !got.IsZero() {
		t.Errorf("zero retention Cutoff = %v, want zero", got)
	}
}

func TestDecision_String(t *testing.T) {
	for d, want := range map[Decision]string{Fresh: "fresh", Stale: "stale", Expired: "expired", Decision(9): "unknown"} {
		if got := d.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", d, got, want)
		}
	}
}
