package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateTimeParseDate(t *testing.T) {
	dt := NewDateTime()
	out, _, err := dt.Func(context.Background(), &RunContext{}, map[string]interface{}{
		"operation": "parse_date",
		"date":      "2026-07-31",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "weekday=Friday")
}

func TestDateTimeDayOfWeek(t *testing.T) {
	dt := NewDateTime()
	out, _, err := dt.Func(context.Background(), &RunContext{}, map[string]interface{}{
		"operation": "day_of_week",
		"date":      "2026-12-25",
	})
	require.NoError(t, err)
	assert.Equal(t, "Friday", out)
}
