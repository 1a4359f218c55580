package calendar

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func london(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	return loc
}

func TestCalculator_Next(t *testing.T) {
	loc := london(t)
	calc, err := New(time.Sunday, loc)
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{
			name: "wednesday yields sunday four days later",
			now:  time.Date(2026, 10, 14, 9, 30, 0, 0, loc),
			want: time.Date(2026, 10, 18, 0, 0, 0, 0, loc),
		},
		{
			name: "saturday evening yields next day",
			now:  time.Date(2026, 10, 17, 23, 59, 0, 0, loc),
			want: time.Date(2026, 10, 18, 0, 0, 0, 0, loc),
		},
		{
			name: "sunday yields following sunday",
			now:  time.Date(2026, 10, 18, 8, 0, 0, 0, loc),
			want: time.Date(2026, 10, 25, 0, 0, 0, 0, loc),
		},
		{
			name: "sunday just after midnight yields following sunday",
			now:  time.Date(2026, 10, 18, 0, 0, 0, 0, loc),
			want: time.Date(2026, 10, 25, 0, 0, 0, 0, loc),
		},
		{
			name: "utc saturday that is already sunday in london",
			now:  time.Date(2026, 7, 18, 23, 30, 0, 0, time.UTC),
			want: time.Date(2026, 7, 26, 0, 0, 0, 0, loc),
		},
		{
			name: "across clocks going forward",
			now:  time.Date(2026, 3, 25, 12, 0, 0, 0, loc),
			want: time.Date(2026, 3, 29, 0, 0, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.Next(tt.now)
			require.True(t, got.Equal(tt.want), "want %v, got %v", tt.want, got)
			require.Equal(t, time.Sunday, got.Weekday())
		})
	}
}

func TestCalculator_NextIsWithinAWeek(t *testing.T) {
	loc := london(t)
	calc, err := New(time.Thursday, loc)
	require.NoError(t, err)

	start := time.Date(2026, 1, 1, 15, 0, 0, 0, loc)
	for i := 0; i < 60; i++ {
		now := start.AddDate(0, 0, i)
		got := calc.Next(now)
		require.Equal(t, time.Thursday, got.Weekday())
		require.True(t, got.After(now))
		require.True(t, got.Before(now.AddDate(0, 0, 8)))
	}
}

func TestCalculator_ReminderAt(t *testing.T) {
	loc := london(t)
	calc, err := New(time.Sunday, loc)
	require.NoError(t, err)

	got := calc.ReminderAt(time.Date(2026, 3, 29, 0, 0, 0, 0, loc))
	require.Equal(t, time.Date(2026, 3, 28, 19, 0, 0, 0, loc), got)

	got = calc.ReminderAt(time.Date(2026, 11, 1, 0, 0, 0, 0, loc))
	require.Equal(t, time.Date(2026, 10, 31, 19, 0, 0, 0, loc), got)
}

func TestCalculator_StartsAndEndsAt(t *testing.T) {
	loc := london(t)
	calc, err := New(time.Sunday, loc, WithStart(11*time.Hour), WithDuration(90*time.Minute))
	require.NoError(t, err)

	date := time.Date(2026, 10, 18, 0, 0, 0, 0, loc)
	require.Equal(t, time.Date(2026, 10, 18, 11, 0, 0, 0, loc), calc.StartsAt(date))
	require.Equal(t, time.Date(2026, 10, 18, 12, 30, 0, 0, loc), calc.EndsAt(date))
}

func TestParseWeekday(t *testing.T) {
	for in, want := range map[string]time.Weekday{
		"sunday":    time.Sunday,
		" Sun ":     time.Sunday,
		"WEDNESDAY": time.Wednesday,
		"sat":       time.Saturday,
	} {
		got, err := ParseWeekday(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseWeekday("someday")
	require.Error(t, err)
}

func TestParseClock(t *testing.T) {
	got, err := ParseClock("11:00")
	require.NoError(t, err)
	require.Equal(t, 11*time.Hour, got)

	got, err = ParseClock("19:45")
	require.NoError(t, err)
	require.Equal(t, 19*time.Hour+45*time.Minute, got)

	_, err = ParseClock("25:00")
	require.Error(t, err)
}

func TestFormatLong(t *testing.T) {
	d := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "18 October 2026", FormatLong(d, language.BritishEnglish))
	require.Equal(t, "October 18, 2026", FormatLong(d, language.AmericanEnglish))
}

func TestFormatClock(t *testing.T) {
	require.Equal(t, "11 a.m.", FormatClock(time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)))
	require.Equal(t, "12 p.m.", FormatClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)))
	require.Equal(t, "7:30 p.m.", FormatClock(time.Date(2026, 1, 1, 19, 30, 0, 0, time.UTC)))
	require.Equal(t, "12 a.m.", FormatClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestCalculator_OnReadsCivilDate(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	calc, err := New(time.Sunday, ny)
	require.NoError(t, err)

	stored := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, 10, 18, 0, 0, 0, 0, ny), calc.On(stored))
	require.Equal(t, time.Date(2026, 10, 17, 19, 0, 0, 0, ny), calc.ReminderAt(stored))
}
