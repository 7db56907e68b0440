package main

import (
	"testing"

	"github.com/nguyenthanhtuan/agentrun/optimize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSearchSpaceFloatParam(t *testing.T) {
	space, err := parseSearchSpace([]string{"temperature:float:0:1:0.1"})
	require.NoError(t, err)
	require.Len(t, space.Parameters, 1)
	p := space.Parameters[0]
	assert.Equal(t, "temperature", p.Name)
	assert.Equal(t, optimize.ParamFloat, p.Type)
	assert.Equal(t, 0.0, p.Min)
	assert.Equal(t, 1.0, p.Max)
	assert.Equal(t, 0.1, p.Step)
}

func TestParseSearchSpaceCategoricalParam(t *testing.T) {
	space, err := parseSearchSpace([]string{"model:categorical:gpt-4o-mini|gpt-4o"})
	require.NoError(t, err)
	require.Len(t, space.Parameters, 1)
	p := space.Parameters[0]
	assert.Equal(t, optimize.ParamCategorical, p.Type)
	assert.Equal(t, []interface{}{"gpt-4o-mini", "gpt-4o"}, p.Values)
}

func TestParseSearchSpaceRejectsUnknownType(t *testing.T) {
	_, err := parseSearchSpace([]string{"x:weird:1:2"})
	assert.Error(t, err)
}

func TestParseSearchSpaceRejectsMissingBounds(t *testing.T) {
	_, err := parseSearchSpace([]string{"x:float:1"})
	assert.Error(t, err)
}

func TestParseSearchSpaceBoolParam(t *testing.T) {
	space, err := parseSearchSpace([]string{"stream:bool"})
	require.NoError(t, err)
	require.Len(t, space.Parameters, 1)
	assert.Equal(t, optimize.ParamBool, space.Parameters[0].Type)
}

func TestNormalizeStrategyAcceptsGridAlias(t *testing.T) {
	assert.Equal(t, optimize.StrategyGrid, normalizeStrategy("grid"))
	assert.Equal(t, optimize.StrategyGrid, normalizeStrategy("grid_search"))
	assert.Equal(t, optimize.StrategyBayesian, normalizeStrategy("bayesian"))
}
