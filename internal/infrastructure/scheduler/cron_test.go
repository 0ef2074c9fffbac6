package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseCronExpression_Valid(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"every minute", "* * * * *"},
		{"every 5 minutes", "*/5 * * * *"},
		{"daily at midnight", "0 0 * * *"},
		{"daily at 18:30 (IST window)", "30 18 * * *"},
		{"sundays only", "0 0 * * 0"},
		{"list of hours", "0 9,12,18 * * *"},
		{"range of weekdays", "0 8 * * 1-5"},
		{"stepped range", "0 0-12/3 * * *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce, err := ParseCronExpression(tt.expr)
			assert.NoError(t, err)
			assert.Equal(t, tt.expr, ce.String())
		})
	}
}

func TestParseCronExpression_Invalid(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"empty", ""},
		{"too few fields", "* * *"},
		{"too many fields", "* * * * * *"},
		{"minute out of range", "60 * * * *"},
		{"hour out of range", "0 24 * * *"},
		{"weekday out of range", "0 0 * * 7"},
		{"garbage value", "abc * * * *"},
		{"zero step", "*/0 * * * *"},
		{"negative value", "-5 * * * *"},
		{"reversed range", "10-5 * * * *"},
		{"range start out of range", "70-80 * * * *"},
		{"range end out of range", "5-99 * * * *"},
		{"list value out of range", "70,80 * * * *"},
		{"garbage range bounds", "a-b * * * *"},
		{"garbage step start", "abc/5 * * * *"},
		{"step start out of range", "61/5 * * * *"},
		{"reversed stepped range", "12-0/3 * * * *"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCronExpression(tt.expr)
			assert.Error(t, err)
		})
	}
}

func TestCronExpression_Next(t *testing.T) {
	// Wednesday 2026-01-07 10:17:42 UTC.
	ref := time.Date(2026, 1, 7, 10, 17, 42, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{
			"every minute fires next minute",
			"* * * * *",
			time.Date(2026, 1, 7, 10, 18, 0, 0, time.UTC),
		},
		{
			"every 5 minutes rounds up",
			"*/5 * * * *",
			time.Date(2026, 1, 7, 10, 20, 0, 0, time.UTC),
		},
		{
			"daily midnight waits for tomorrow",
			"0 0 * * *",
			time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC),
		},
		{
			"later same day",
			"30 18 * * *",
			time.Date(2026, 1, 7, 18, 30, 0, 0, time.UTC),
		},
		{
			"sunday skips the rest of the week",
			"0 0 * * 0",
			time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC),
		},
		{
			"specific day of month",
			"0 12 15 * *",
			time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := MustParseCronExpression(tt.expr)
			assert.Equal(t, tt.want, ce.Next(ref))
		})
	}
}

func TestCronExpression_NextFromExactMatch(t *testing.T) {
	// When the reference time itself matches, Next must return the
	// following occurrence, not the reference.
	ref := time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC)
	ce := MustParseCronExpression("0 * * * *")

	next := ce.Next(ref)
	assert.Equal(t, time.Date(2026, 1, 7, 11, 0, 0, 0, time.UTC), next)
}

func TestCronPresets_Parse(t *testing.T) {
	for _, preset := range []string{EveryMinute, Every30Minutes, EveryHour, EveryDayMidnight, EverySunday} {
		_, err := ParseCronExpression(preset)
		assert.NoError(t, err, preset)
	}
}
