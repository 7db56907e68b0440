package builtin

import (
	"context"
	"testing"

	"github.com/nguyenthanhtuan/agentrun/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculatorEvaluate(t *testing.T) {
	c := Calculator()
	out, _, err := c.Func(context.Background(), &tool.RunContext{}, map[string]interface{}{
		"operation":  "evaluate",
		"expression": "sqrt(16) + 2*3",
	})
	require.NoError(t, err)
	assert.Equal(t, "10.000000", out)
}

func TestCalculatorStatisticsMean(t *testing.T) {
	c := Calculator()
	out, _, err := c.Func(context.Background(), &tool.RunContext{}, map[string]interface{}{
		"operation": "statistics",
		"stat_type": "mean",
		"numbers":   []interface{}{1.0, 2.0, 3.0, 4.0},
	})
	require.NoError(t, err)
	assert.Equal(t, "2.500000", out)
}

func TestCalculatorRejectsUnknownOperation(t *testing.T) {
	c := Calculator()
	_, _, err := c.Func(context.Background(), &tool.RunContext{}, map[string]interface{}{"operation": "nope"})
	assert.Error(t, err)
}
