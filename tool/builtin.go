package tool

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// NewDateTime builds a date/time tool: current time, formatting,
// parsing, duration arithmetic, date diffs, and timezone conversion.
func NewDateTime() *Tool {
	return New("datetime", "Date and time operations: current time, formatting, parsing, calculations, timezone conversion").
		AddParameter("operation", StringParam("current_time, format_date, parse_date, add_duration, date_diff, convert_timezone, day_of_week"), true).
		AddParameter("date", StringParam("Date string (2006-01-02 or 2006-01-02 15:04:05)"), false).
		AddParameter("format", StringParam("Output format: RFC3339, RFC1123, Unix, or a custom Go layout"), false).
		AddParameter("timezone", StringParam("IANA timezone, e.g. America/New_York"), false).
		AddParameter("duration", StringParam("Duration to add, e.g. 24h, 30m, 7d"), false).
		AddParameter("date2", StringParam("Second date for date_diff"), false).
		WithFunc(dateTimeFunc)
}

func dateTimeFunc(ctx context.Context, _ *RunContext, args map[string]interface{}) (string, ContextPatch, error) {
	op, _ := args["operation"].(string)
	date, _ := args["date"].(string)
	format, _ := args["format"].(string)
	tz, _ := args["timezone"].(string)
	duration, _ := args["duration"].(string)
	date2, _ := args["date2"].(string)

	switch op {
	case "current_time":
		loc, err := location(tz)
		if err != nil {
			return "", ContextPatch{}, err
		}
		now := time.Now().In(loc)
		return fmt.Sprintf("Current time in %s: %s (unix %d)", loc, formatTime(now, format), now.Unix()), ContextPatch{}, nil

	case "format_date":
		t, err := parseDateTime(date)
		if err != nil {
			return "", ContextPatch{}, err
		}
		if tz != "" {
			loc, err := location(tz)
			if err != nil {
				return "", ContextPatch{}, err
			}
			t = t.In(loc)
		}
		return formatTime(t, format), ContextPatch{}, nil

	case "parse_date":
		t, err := parseDateTime(date)
		if err != nil {
			return "", ContextPatch{}, err
		}
		_, week := t.ISOWeek()
		return fmt.Sprintf("date=%s time=%s weekday=%s week=%d unix=%d",
			t.Format("2006-01-02"), t.Format("15:04:05"), t.Weekday(), week, t.Unix()), ContextPatch{}, nil

	case "add_duration":
		t, err := parseDateTime(date)
		if err != nil {
			return "", ContextPatch{}, err
		}
		d, err := parseDuration(duration)
		if err != nil {
			return "", ContextPatch{}, err
		}
		return t.Add(d).Format(time.RFC3339), ContextPatch{}, nil

	case "date_diff":
		t1, err := parseDateTime(date)
		if err != nil {
			return "", ContextPatch{}, fmt.Errorf("invalid date: %w", err)
		}
		t2, err := parseDateTime(date2)
		if err != nil {
			return "", ContextPatch{}, fmt.Errorf("invalid date2: %w", err)
		}
		diff := t2.Sub(t1)
		return fmt.Sprintf("%d days, %d hours, %d minutes", int(diff.Hours()/24), int(diff.Hours())%24, int(diff.Minutes())%60), ContextPatch{}, nil

	case "convert_timezone":
		t, err := parseDateTime(date)
		if err != nil {
			return "", ContextPatch{}, err
		}
		loc, err := location(tz)
		if err != nil {
			return "", ContextPatch{}, err
		}
		return t.In(loc).Format(time.RFC3339), ContextPatch{}, nil

	case "day_of_week":
		t, err := parseDateTime(date)
		if err != nil {
			return "", ContextPatch{}, err
		}
		return t.Weekday().String(), ContextPatch{}, nil

	default:
		return "", ContextPatch{}, fmt.Errorf("unknown operation: %s", op)
	}
}

func parseDateTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "2006/01/02", time.RFC1123} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", s)
}

func location(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %s", tz)
	}
	return loc, nil
}

func formatTime(t time.Time, format string) string {
	switch strings.ToLower(format) {
	case "", "rfc3339":
		return t.Format(time.RFC3339)
	case "rfc1123":
		return t.Format(time.RFC1123)
	case "unix":
		return fmt.Sprintf("%d", t.Unix())
	default:
		return t.Format(format)
	}
}

func parseDuration(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		var days int
		if _, err := fmt.Sscanf(strings.TrimSuffix(s, "d"), "%d", &days); err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %s (use 24h, 30m, 7d)", s)
	}
	return d, nil
}

// The expression-evaluation tool this package used to export as
// NewCalculator moved to tool/builtin.Calculator, which pairs govaluate
// evaluation with gonum/stat descriptive statistics.
