package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"zapflow/models"
)

// NextSendTime computes when the next sequence step of a campaign should
// fire, starting from the previous send time. A positive per-step delay
// overrides the campaign cadence. The result is clipped to the campaign's
// business-hours window and, when weekend sending is disabled, rolled
// forward to the next weekday. Deterministic: identical inputs always
// produce the identical timestamp.
func NextSendTime(campaign *models.Campaign, stepDelayMinutes int, from time.Time) time.Time {
	var next time.Time
	if stepDelayMinutes > 0 {
		next = from.Add(time.Duration(stepDelayMinutes) * time.Minute)
	} else {
		next = applyCadence(campaign, from)
	}
	return ClipToSendWindow(campaign, next)
}

// ClipToSendWindow snaps a timestamp into the campaign's business-hours
// window and, when weekend sending is disabled, rolls forward day by day
// (re-snapping to the window start) until the weekday is Monday-Friday.
func ClipToSendWindow(campaign *models.Campaign, t time.Time) time.Time {
	t = clipToBusinessHours(t, campaign.BusinessHoursStart, campaign.BusinessHoursEnd)

	if !campaign.SendOnWeekends {
		for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
			t = atClock(t.AddDate(0, 0, 1), campaign.BusinessHoursStart)
		}
	}

	return t
}

func applyCadence(campaign *models.Campaign, from time.Time) time.Time {
	switch campaign.CadenceType {
	case models.CadenceImmediate:
		return from
	case models.CadenceDaily:
		return from.AddDate(0, 0, 1)
	case models.CadenceEvery2Days:
		return from.AddDate(0, 0, 2)
	case models.CadenceWeekly:
		return from.AddDate(0, 0, 7)
	case models.CadenceBiweekly:
		return from.AddDate(0, 0, 14)
	case models.CadenceMonthly:
		return from.AddDate(0, 1, 0)
	case models.CadenceQuarterly:
		return from.AddDate(0, 3, 0)
	case models.CadenceSemiannual:
		return from.AddDate(0, 6, 0)
	case models.CadenceAnnual:
		return from.AddDate(1, 0, 0)
	case models.CadenceCustom:
		return from.
			AddDate(0, 0, campaign.CadenceDays).
			Add(time.Duration(campaign.CadenceHours)*time.Hour +
				time.Duration(campaign.CadenceMinutes)*time.Minute)
	default:
		// Unknown cadence behaves like daily rather than firing immediately
		return from.AddDate(0, 0, 1)
	}
}

// clipToBusinessHours snaps a timestamp into the [start, end] send window.
// Before the window it moves to the same day's window start; after the
// window it rolls to the next day's window start.
func clipToBusinessHours(t time.Time, start, end string) time.Time {
	startH, startM, err := parseClock(start)
	if err != nil {
		return t
	}
	endH, endM, err := parseClock(end)
	if err != nil {
		return t
	}

	windowStart := time.Date(t.Year(), t.Month(), t.Day(), startH, startM, 0, 0, t.Location())
	windowEnd := time.Date(t.Year(), t.Month(), t.Day(), endH, endM, 0, 0, t.Location())

	if t.Before(windowStart) {
		return windowStart
	}
	if t.After(windowEnd) {
		return windowStart.AddDate(0, 0, 1)
	}
	return t
}

// atClock returns the given day at the "HH:MM" wall-clock time.
func atClock(day time.Time, clock string) time.Time {
	h, m, err := parseClock(clock)
	if err != nil {
		return day
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
}

func parseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("clock %q out of range", s)
	}
	return hour, minute, nil
}
