package dispatcher

import (
	"strconv"
	"strings"
	"time"
)

// dueSchedule describes when an automated task falls due relative to the
// triggering moment.
type dueSchedule struct {
	SameDay       bool
	Hours         int
	Minutes       int
	Days          int
	DueTime       string // "HH:MM" in the sales timezone, only for later days
	BusinessHours bool
}

// businessCalendar is the tenant's sales week. Days is a bitmask with
// Sunday as bit 6 down to Saturday as bit 0; zero means every day.
type businessCalendar struct {
	Location *time.Location
	Start    int
	End      int
	Days     int
}

func parseClock(s string) (hour, minute int, ok bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

func (c businessCalendar) isBusinessDay(weekday int) bool {
	return c.Days>>(6-weekday)&1 == 1
}

// dueDate computes the UTC due time of a task. Being due exactly at the
// end of the business day is within business hours.
func dueDate(now time.Time, s dueSchedule, cal businessCalendar) time.Time {
	loc := cal.Location
	if loc == nil {
		loc = time.UTC
	}

	var due time.Time
	if s.SameDay {
		due = now.Add(time.Duration(s.Hours)*time.Hour + time.Duration(s.Minutes)*time.Minute)
	} else {
		local := now.AddDate(0, 0, s.Days).In(loc)
		hour, minute, ok := parseClock(s.DueTime)
		if !ok {
			hour, minute = cal.End, 0
		}
		due = time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	}

	if !s.BusinessHours {
		return due.UTC()
	}

	local := due.In(loc)
	hour, minute := local.Hour(), local.Minute()
	weekday := int(local.Weekday())
	dayOffset := 0

	if hour < cal.Start {
		hour, minute = cal.Start, 0
	} else if hour > cal.End || (hour == cal.End && minute > 0) {
		hour, minute = cal.Start+s.Hours, s.Minutes
		weekday = (weekday + 1) % 7
		dayOffset = 1
	}

	if cal.Days != 0 && !cal.isBusinessDay(weekday) {
		for i := 1; i < 7; i++ {
			if cal.isBusinessDay((weekday + i) % 7) {
				dayOffset += i
				break
			}
		}
	}

	if dayOffset != 0 && s.SameDay {
		hour, minute = cal.Start, 0
	}

	due = time.Date(local.Year(), local.Month(), local.Day()+dayOffset, hour, minute, local.Second(), 0, loc)
	return due.UTC()
}
