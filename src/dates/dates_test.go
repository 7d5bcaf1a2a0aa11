package dates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Thursday.
var anchor = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

func fixedResolver() *Resolver {
	return &Resolver{Now: func() time.Time { return anchor }, Location: time.UTC}
}

func TestResolveDay(t *testing.T) {
	r := fixedResolver()
	cases := map[string]string{
		"schedule it tomorrow":          "2026-10-16",
		"what about today?":             "2026-10-15",
		"the day after tomorrow please": "2026-10-17",
		"yesterday's meetings":          "2026-10-14",
		"on 2026-12-01 at noon":         "2026-12-01",
		"in 3 days":                     "2026-10-18",
		"this friday":                   "2026-10-16",
		"next thursday":                 "2026-10-22",
		"monday":                        "2026-10-19",
	}
	for input, want := range cases {
		got, ok := r.ResolveDay(input)
		require.True(t, ok, input)
		assert.Equal(t, want, got.Format(DayLayout), input)
	}

	_, ok := r.ResolveDay("no date here")
	assert.False(t, ok)
}

func TestResolveRange(t *testing.T) {
	r := fixedResolver()

	next, ok := r.ResolveRange("list meetings next week")
	require.True(t, ok)
	assert.Equal(t, "2026-10-22..2026-10-29", next.String())
	assert.Equal(t, 7, next.Days())

	tomorrow, ok := r.ResolveRange("meetings scheduled tomorrow")
	require.True(t, ok)
	assert.Equal(t, "2026-10-16..2026-10-17", tomorrow.String())
	assert.Equal(t, 1, tomorrow.Days())

	week, ok := r.ResolveRange("anything this week?")
	require.True(t, ok)
	assert.Equal(t, "2026-10-15", week.From.Format(DayLayout))
}

func TestParseClock(t *testing.T) {
	cases := map[string]string{
		"at 14:30":           "14:30:00",
		"2pm works":          "14:00:00",
		"around 2:15 pm":     "14:15:00",
		"12am sharp":         "00:00:00",
		"12 pm lunch":        "12:00:00",
		"09:05:10":           "09:05:10",
		"tomorrow at 10 am.": "10:00:00",
	}
	for input, want := range cases {
		got, ok := ParseClock(input)
		require.True(t, ok, input)
		assert.Equal(t, want, got, input)
	}

	for _, input := range []string{"in 3 days", "2026-10-16", "room 42", "25:00", "13pm", "0am", "14:30 pm", "00:15 am"} {
		_, ok := ParseClock(input)
		assert.False(t, ok, input)
	}
}

func TestNormalizeClock(t *testing.T) {
	got, ok := NormalizeClock("9:30")
	require.True(t, ok)
	assert.Equal(t, "09:30:00", got)

	got, ok = NormalizeClock("18:00:00")
	require.True(t, ok)
	assert.Equal(t, "18:00:00", got)

	_, ok = NormalizeClock("")
	assert.False(t, ok)
}
