package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Epoch values at or above this are taken as milliseconds.
const millisThreshold = 1e12

var errNoDue = errors.New("task has no due timestamp")

// parseDue accepts an ISO-8601 string or a numeric epoch in seconds or
// milliseconds, either as a JSON number or a numeric string.
func parseDue(v any) (time.Time, error) {
	switch d := v.(type) {
	case nil:
		return time.Time{}, errNoDue
	case time.Time:
		if d.IsZero() {
			return time.Time{}, errNoDue
		}
		return d, nil
	case json.Number:
		f, err := d.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("parse due %q: %w", d, err)
		}
		return fromEpoch(f), nil
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return time.Time{}, errNoDue
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f), nil
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, nil
		}
		t, err := cast.ToTimeE(s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse due %q: %w", s, err)
		}
		return t, nil
	}

	f, err := cast.ToFloat64E(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse due %v: unsupported type %T", v, v)
	}
	return fromEpoch(f), nil
}

func fromEpoch(f float64) time.Time {
	if math.Abs(f) >= millisThreshold {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

// daysLeft is the number of started days until due, never negative.
func daysLeft(due, now time.Time) int {
	d := due.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}
