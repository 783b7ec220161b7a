package domain

import "time"

// PeriodKind identifies the calendar period a window covers.
type PeriodKind string

const (
	PeriodWeek  PeriodKind = "week"
	PeriodMonth PeriodKind = "month"
	PeriodYear  PeriodKind = "year"
)

// Granularity is the bucket size stored totals are grouped by.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityMonth Granularity = "month"
)

// Window is the slice of stored data selected for one chart.
// From is inclusive and To exclusive; both are midnight UTC dates.
type Window struct {
	Kind               PeriodKind
	Year               int
	SubPeriod          int // Sunday-based week number, month number, or 0 for years.
	UsesPreviousPeriod bool
	From               time.Time
	To                 time.Time
	Granularity        Granularity
}

// Label renders the series label for a bucket of this window.
func (w Window) Label(bucket time.Time) string {
	if w.Granularity == GranularityMonth {
		return bucket.Format("Jan")
	}
	return bucket.Format(DateLayout)
}

// SelectWindow computes the window for kind as seen on today.
func SelectWindow(kind PeriodKind, today time.Time) Window {
	switch kind {
	case PeriodMonth:
		return MonthWindow(today)
	case PeriodYear:
		return YearWindow(today)
	default:
		return WeekWindow(today)
	}
}

// WeekWindow returns the Sunday-starting week containing today. On a Sunday the new week has only
// just begun, so the previous week is returned instead. The week is clipped to its calendar year.
func WeekWindow(today time.Time) Window {
	today = DateOf(today)
	ref := today
	previous := today.Weekday() == time.Sunday
	if previous {
		ref = today.AddDate(0, 0, -7)
	}

	from := ref.AddDate(0, 0, -int(ref.Weekday()))
	to := from.AddDate(0, 0, 7)
	yearStart := time.Date(ref.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	yearEnd := yearStart.AddDate(1, 0, 0)
	if from.Before(yearStart) {
		from = yearStart
	}
	if to.After(yearEnd) {
		to = yearEnd
	}

	return Window{
		Kind:               PeriodWeek,
		Year:               ref.Year(),
		SubPeriod:          SundayWeek(ref),
		UsesPreviousPeriod: previous,
		From:               from,
		To:                 to,
		Granularity:        GranularityDay,
	}
}

// MonthWindow returns the current month, or the previous month on the 1st.
func MonthWindow(today time.Time) Window {
	today = DateOf(today)
	from := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	previous := today.Day() == 1
	if previous {
		from = from.AddDate(0, -1, 0)
	}

	return Window{
		Kind:               PeriodMonth,
		Year:               from.Year(),
		SubPeriod:          int(from.Month()),
		UsesPreviousPeriod: previous,
		From:               from,
		To:                 from.AddDate(0, 1, 0),
		Granularity:        GranularityDay,
	}
}

// YearWindow returns the current year, or the previous year on January 1.
func YearWindow(today time.Time) Window {
	today = DateOf(today)
	year := today.Year()
	previous := today.YearDay() == 1
	if previous {
		year--
	}
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)

	return Window{
		Kind:               PeriodYear,
		Year:               year,
		UsesPreviousPeriod: previous,
		From:               from,
		To:                 from.AddDate(1, 0, 0),
		Granularity:        GranularityMonth,
	}
}

// SundayWeek numbers weeks starting on Sunday. Days before the first Sunday of the year are week 0.
func SundayWeek(day time.Time) int {
	day = DateOf(day)
	jan1 := time.Date(day.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	firstSunday := (7 - int(jan1.Weekday())) % 7
	yday := day.YearDay() - 1
	if yday < firstSunday {
		return 0
	}
	return (yday-firstSunday)/7 + 1
}
