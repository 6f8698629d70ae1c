package recurrence

import (
	"testing"
	"time"

	"touchbase/internal/checkin"
)

func TestNextDueOffsets(t *testing.T) {
	t.Parallel()
	anchor := time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)
	tests := []struct {
		freq checkin.Frequency
		want time.Time
	}{
		{checkin.Daily, time.Date(2024, 3, 2, 15, 30, 0, 0, time.UTC)},
		{checkin.Weekly, time.Date(2024, 3, 8, 15, 30, 0, 0, time.UTC)},
		{checkin.Monthly, time.Date(2024, 4, 1, 15, 30, 0, 0, time.UTC)},
		{checkin.Quarterly, time.Date(2024, 6, 1, 15, 30, 0, 0, time.UTC)},
		{checkin.Yearly, time.Date(2025, 3, 1, 15, 30, 0, 0, time.UTC)},
		{checkin.Frequency("Fortnightly"), time.Date(2024, 4, 1, 15, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.freq), func(t *testing.T) {
			got := NextDue(tt.freq, anchor)
			if !got.Equal(tt.want) {
				t.Fatalf("NextDue(%s) = %v, want %v", tt.freq, got, tt.want)
			}
			if !got.After(anchor) {
				t.Fatalf("NextDue(%s) = %v is not after anchor", tt.freq, got)
			}
		})
	}
}

func TestNextDueWeeklyExample(t *testing.T) {
	t.Parallel()
	got := NextDue(checkin.Weekly, time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local))
	if got.Format("2006-01-02") != "2024-03-08" {
		t.Fatalf("got %s, want 2024-03-08", got.Format("2006-01-02"))
	}
}

func TestNextDueAlwaysAfterAnchor(t *testing.T) {
	t.Parallel()
	freqs := []checkin.Frequency{checkin.Daily, checkin.Weekly, checkin.Monthly, checkin.Quarterly, checkin.Yearly, ""}
	start := time.Date(2023, 12, 28, 0, 0, 0, 0, time.UTC)
	for day := 0; day < 400; day += 3 {
		d := start.AddDate(0, 0, day)
		for _, f := range freqs {
			if got := NextDue(f, d); !got.After(d) {
				t.Fatalf("NextDue(%q, %v) = %v, not after anchor", f, d, got)
			}
		}
	}
}

func TestNextDueMonthEndNormalizes(t *testing.T) {
	t.Parallel()
	got := NextDue(checkin.Monthly, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC))
	want := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNextDueFromNilAnchorUsesNow(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)
	if got := NextDueFrom(checkin.Daily, nil, now); !got.Equal(now.AddDate(0, 0, 1)) {
		t.Fatalf("got %v", got)
	}
	anchor := now.AddDate(0, 0, -3)
	if got := NextDueFrom(checkin.Daily, &anchor, now); !got.Equal(anchor.AddDate(0, 0, 1)) {
		t.Fatalf("got %v", got)
	}
}

func TestKnownAndUpcoming(t *testing.T) {
	t.Parallel()
	if Known("Hourly") {
		t.Fatal("Hourly should not be known")
	}
	if !Known(checkin.Quarterly) {
		t.Fatal("Quarterly should be known")
	}
	anchor := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	got := Upcoming(checkin.Quarterly, anchor, 3)
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	if got[2].Format("2006-01-02") != "2024-10-15" {
		t.Fatalf("third occurrence = %s", got[2].Format("2006-01-02"))
	}
	if Upcoming(checkin.Daily, anchor, 0) != nil {
		t.Fatal("n=0 should return nil")
	}
}
