package view

import (
	"errors"
	"testing"
	"time"
)

func TestSliceOf(t *testing.T) {
	base := time.Unix(7200, 0).UTC() // exactly two hours after epoch

	t.Run("hour buckets", func(t *testing.T) {
		if got := SliceOf(base, time.Hour); got != 2 {
			t.Errorf("expected slice 2, got %d", got)
		}
		if got := SliceOf(base.Add(59*time.Minute), time.Hour); got != 2 {
			t.Errorf("expected slice 2 within the hour, got %d", got)
		}
		if got := SliceOf(base.Add(time.Hour), time.Hour); got != 3 {
			t.Errorf("expected slice 3 at next hour, got %d", got)
		}
	})

	t.Run("minute buckets", func(t *testing.T) {
		if got := SliceOf(base, time.Minute); got != 120 {
			t.Errorf("expected slice 120, got %d", got)
		}
	})

	t.Run("sub-second width clamps to one second", func(t *testing.T) {
		if got := SliceOf(base, time.Millisecond); got != 7200 {
			t.Errorf("expected per-second slicing, got %d", got)
		}
	})

	t.Run("monotonic in time", func(t *testing.T) {
		prev := SliceOf(base, time.Hour)
		for i := 1; i < 48; i++ {
			cur := SliceOf(base.Add(time.Duration(i)*30*time.Minute), time.Hour)
			if cur < prev {
				t.Fatalf("slice decreased at step %d", i)
			}
			prev = cur
		}
	})
}

func TestCursor(t *testing.T) {
	var zero Cursor
	if !zero.IsZero() {
		t.Error("zero cursor should report IsZero")
	}

	e := Entry{
		ID:         "id-1",
		Queue:      "q",
		Slice:      42,
		EnqueuedAt: time.Unix(1000, 0),
	}
	c := After(e)
	if c.IsZero() {
		t.Error("cursor after an entry should not be zero")
	}
	if c.Slice != e.Slice || c.ID != e.ID || !c.EnqueuedAt.Equal(e.EnqueuedAt) {
		t.Errorf("cursor does not match entry: %+v", c)
	}
}

func TestEntryValidate(t *testing.T) {
	now := time.Now()
	valid := Entry{
		ID:           "id-1",
		Queue:        "q",
		ContentKey:   "key",
		EnqueuedAt:   now,
		NextDelivery: now,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid entry rejected: %v", err)
	}

	cases := []struct {
		name    string
		corrupt func(*Entry)
	}{
		{"missing id", func(e *Entry) { e.ID = "" }},
		{"missing queue", func(e *Entry) { e.Queue = "" }},
		{"missing content key", func(e *Entry) { e.ContentKey = "" }},
		{"missing enqueued at", func(e *Entry) { e.EnqueuedAt = time.Time{} }},
		{"missing next delivery", func(e *Entry) { e.NextDelivery = time.Time{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := valid
			tc.corrupt(&e)
			if err := e.Validate(); !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("expected ErrInvalidEntry, got %v", err)
			}
		})
	}
}
