package queue

import (
	"sort"
	"testing"
	"time"

	"github.com/you/relayq/internal/domain"
)

func TestScore_HigherPriorityPopsFirst(t *testing.T) {
	now := time.Now().UTC()

	// Lower score pops first from a min-sorted set.
	if Score(10, now) >= Score(5, now) {
		t.Error("priority 10 must score below priority 5")
	}
	if Score(domain.MaxPriority, now) >= Score(domain.MinPriority, now) {
		t.Error("max priority must score below min priority")
	}
}

func TestScore_PriorityDominatesAge(t *testing.T) {
	old := time.Now().UTC().Add(-24 * time.Hour)
	fresh := time.Now().UTC()

	// A fresh high-priority job still beats a day-old lower-priority one.
	if Score(10, fresh) >= Score(5, old) {
		t.Error("priority band must dominate enqueue age")
	}
}

func TestScore_FIFOWithinPriority(t *testing.T) {
	base := time.Now().UTC()
	first := Score(10, base)
	second := Score(10, base.Add(time.Millisecond))

	if first >= second {
		t.Errorf("earlier enqueue must score lower: %f vs %f", first, second)
	}
}

func TestScore_OrdersMixedBatch(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	type entry struct {
		id       string
		priority int
		at       time.Time
	}
	entries := []entry{
		{"a", 5, base},
		{"b", 10, base.Add(2 * time.Second)},
		{"c", 1, base.Add(time.Second)},
		{"d", 10, base.Add(3 * time.Second)},
	}

	sort.Slice(entries, func(i, j int) bool {
		return Score(entries[i].priority, entries[i].at) < Score(entries[j].priority, entries[j].at)
	})

	got := make([]string, len(entries))
	for i, e := range entries {
		got[i] = e.id
	}
	want := []string{"b", "d", "a", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", got, want)
		}
	}
}

func TestScore_ClampsOutOfRangePriority(t *testing.T) {
	now := time.Now().UTC()

	if Score(-3, now) != Score(domain.MinPriority, now) {
		t.Error("priority below range must clamp to min")
	}
	if Score(99, now) != Score(domain.MaxPriority, now) {
		t.Error("priority above range must clamp to max")
	}
}
