package session

import (
	"testing"
	"time"
	_ "time/tzdata"
)

func fixedWindow() Window {
	return Window{
		Days:     map[time.Weekday]bool{time.Monday: true, time.Tuesday: true, time.Wednesday: true, time.Thursday: true, time.Friday: true},
		Open:     9*time.Hour + 30*time.Minute,
		Close:    16 * time.Hour,
		Location: time.FixedZone("ET", -5*3600),
	}
}

func TestContains(t *testing.T) {
	w := fixedWindow()
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"monday open", time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC), true},
		{"monday before open", time.Date(2025, 3, 10, 14, 29, 59, 0, time.UTC), false},
		{"friday last minute", time.Date(2025, 3, 14, 20, 59, 0, 0, time.UTC), true},
		{"friday close", time.Date(2025, 3, 14, 21, 0, 0, 0, time.UTC), false},
		{"saturday midday", time.Date(2025, 3, 15, 17, 0, 0, 0, time.UTC), false},
		// 01:00 UTC Tuesday is still Monday evening in ET.
		{"local weekday", time.Date(2025, 3, 11, 1, 0, 0, 0, time.UTC), false},
		{"sunday night utc is sunday local", time.Date(2025, 3, 16, 15, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		if got := w.Contains(tt.at); got != tt.want {
			t.Errorf("%s: Contains(%s) = %v, want %v", tt.name, tt.at, got, tt.want)
		}
	}
}

func TestContains_DSTTransition(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatal(err)
	}
	w := Window{
		Days:     map[time.Weekday]bool{time.Sunday: true, time.Monday: true},
		Open:     9*time.Hour + 30*time.Minute,
		Close:    16 * time.Hour,
		Location: loc,
	}
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		// 2025-03-09 clocks spring forward at 02:00 local.
		{"spring forward 10:00", time.Date(2025, 3, 9, 10, 0, 0, 0, loc), true},
		{"spring forward 09:15", time.Date(2025, 3, 9, 9, 15, 0, 0, loc), false},
		{"spring forward 15:30", time.Date(2025, 3, 9, 15, 30, 0, 0, loc), true},
		// 2025-11-02 clocks fall back at 02:00 local.
		{"fall back 09:45", time.Date(2025, 11, 2, 9, 45, 0, 0, loc), true},
		{"fall back 15:30", time.Date(2025, 11, 2, 15, 30, 0, 0, loc), true},
		{"fall back 16:00", time.Date(2025, 11, 2, 16, 0, 0, 0, loc), false},
	}
	for _, tt := range tests {
		if got := w.Contains(tt.at); got != tt.want {
			t.Errorf("%s: Contains(%s) = %v, want %v", tt.name, tt.at, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	w, err := Parse([]string{"mon-wed", "fri"}, "08:00", "12:30", "UTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for d, want := range map[time.Weekday]bool{
		time.Monday: true, time.Tuesday: true, time.Wednesday: true,
		time.Thursday: false, time.Friday: true, time.Saturday: false,
	} {
		if w.Days[d] != want {
			t.Errorf("%s: expected %v", d, want)
		}
	}
	if w.Open != 8*time.Hour || w.Close != 12*time.Hour+30*time.Minute {
		t.Errorf("unexpected hours: %v-%v", w.Open, w.Close)
	}
	if got := w.String(); got != "mon,tue,wed,fri 08:00-12:30 UTC" {
		t.Errorf("unexpected String(): %s", got)
	}

	// Ranges may wrap around the weekend.
	w, err = Parse([]string{"sun-tue"}, "00:00", "23:59", "UTC")
	if err != nil {
		t.Fatal(err)
	}
	if !w.Days[time.Sunday] || !w.Days[time.Tuesday] || w.Days[time.Wednesday] {
		t.Errorf("unexpected wrapped range: %v", w.Days)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name              string
		days              []string
		open, close, zone string
	}{
		{"bad day", []string{"funday"}, "09:00", "10:00", "UTC"},
		{"no days", nil, "09:00", "10:00", "UTC"},
		{"bad clock", []string{"mon"}, "9am", "10:00", "UTC"},
		{"inverted", []string{"mon"}, "10:00", "09:00", "UTC"},
		{"bad zone", []string{"mon"}, "09:00", "10:00", "Mars/Olympus"},
	}
	for _, tt := range tests {
		if _, err := Parse(tt.days, tt.open, tt.close, tt.zone); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}
