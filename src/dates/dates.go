// Package dates resolves the relative day and time expressions users type
// ("tomorrow", "next week", "friday", "2pm") into calendar values.
package dates

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DayLayout is the wire format for calendar days.
	DayLayout = "2006-01-02"
	// ClockLayout is the wire format for wall-clock times.
	ClockLayout = "15:04:05"
)

// Range is a half-open interval of days: From is included, To is not.
type Range struct {
	From time.Time
	To   time.Time
}

// Days returns the number of calendar days covered by the range.
func (r Range) Days() int {
	return int(r.To.Sub(r.From).Hours() / 24)
}

func (r Range) String() string {
	return r.From.Format(DayLayout) + ".." + r.To.Format(DayLayout)
}

// Resolver turns relative expressions into dates anchored at Now in Location.
type Resolver struct {
	Now      func() time.Time
	Location *time.Location
}

// NewResolver returns a resolver using the wall clock in loc (time.Local when nil).
func NewResolver(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	return &Resolver{Now: time.Now, Location: loc}
}

var (
	isoDayRe  = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	clockRe   = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?(?::(\d{2}))?\s*(am|pm)?\b`)
	inDaysRe  = regexp.MustCompile(`(?i)\bin (\d{1,2}) days?\b`)
	weekdayRe = regexp.MustCompile(`(?i)\b(next |this |on )?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Today returns midnight of the current day.
func (r *Resolver) Today() time.Time {
	now := r.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, r.loc())
}

// ResolveDay finds the first day expression in text.
func (r *Resolver) ResolveDay(text string) (time.Time, bool) {
	lower := strings.ToLower(text)
	today := r.Today()

	if m := isoDayRe.FindStringSubmatch(lower); m != nil {
		if d, err := time.ParseInLocation(DayLayout, m[0], r.loc()); err == nil {
			return d, true
		}
	}

	switch {
	case strings.Contains(lower, "day after tomorrow"):
		return today.AddDate(0, 0, 2), true
	case strings.Contains(lower, "tomorrow"):
		return today.AddDate(0, 0, 1), true
	case strings.Contains(lower, "yesterday"):
		return today.AddDate(0, 0, -1), true
	case strings.Contains(lower, "today"), strings.Contains(lower, "tonight"):
		return today, true
	}

	if m := inDaysRe.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		return today.AddDate(0, 0, n), true
	}

	if m := weekdayRe.FindStringSubmatch(lower); m != nil {
		target := weekdays[m[2]]
		ahead := (int(target) - int(today.Weekday()) + 7) % 7
		if strings.TrimSpace(m[1]) == "next" && ahead == 0 {
			ahead = 7
		}
		return today.AddDate(0, 0, ahead), true
	}

	return time.Time{}, false
}

// ResolveRange finds a day or week expression in text.
func (r *Resolver) ResolveRange(text string) (Range, bool) {
	lower := strings.ToLower(text)
	today := r.Today()

	switch {
	case strings.Contains(lower, "next week"):
		return Range{From: today.AddDate(0, 0, 7), To: today.AddDate(0, 0, 14)}, true
	case strings.Contains(lower, "this week"):
		return Range{From: today, To: today.AddDate(0, 0, 7)}, true
	}

	if day, ok := r.ResolveDay(lower); ok {
		return Range{From: day, To: day.AddDate(0, 0, 1)}, true
	}
	return Range{}, false
}

// ParseDay parses a strict YYYY-MM-DD value in the resolver's location.
func (r *Resolver) ParseDay(value string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, strings.TrimSpace(value), r.loc())
}

// ParseClock extracts a wall-clock time and normalises it to HH:MM:SS.
// Bare numbers without a minute part or am/pm marker are not treated as times.
func ParseClock(text string) (string, bool) {
	for _, m := range clockRe.FindAllStringSubmatch(text, -1) {
		hourStr, minStr, secStr, meridiem := m[1], m[2], m[3], strings.ToLower(m[4])
		if minStr == "" && meridiem == "" {
			continue
		}
		hour, _ := strconv.Atoi(hourStr)
		minute, sec := 0, 0
		if minStr != "" {
			minute, _ = strconv.Atoi(minStr)
		}
		if secStr != "" {
			sec, _ = strconv.Atoi(secStr)
		}
		if meridiem != "" && (hour < 1 || hour > 12) {
			continue
		}
		switch meridiem {
		case "am":
			if hour == 12 {
				hour = 0
			}
		case "pm":
			if hour < 12 {
				hour += 12
			}
		}
		if hour > 23 || minute > 59 || sec > 59 {
			continue
		}
		return time.Date(0, 1, 1, hour, minute, sec, 0, time.UTC).Format(ClockLayout), true
	}
	return "", false
}

// NormalizeClock accepts HH:MM or HH:MM:SS (or an am/pm form) and returns HH:MM:SS.
func NormalizeClock(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	for _, layout := range []string{ClockLayout, "15:04"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(ClockLayout), true
		}
	}
	return ParseClock(value)
}

func (r *Resolver) now() time.Time {
	if r.Now == nil {
		return time.Now().In(r.loc())
	}
	return r.Now().In(r.loc())
}

func (r *Resolver) loc() *time.Location {
	if r.Location == nil {
		return time.Local
	}
	return r.Location
}
