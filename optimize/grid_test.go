package optimize

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCartesianProductCoversEveryCombination(t *testing.T) {
	params := []Parameter{
		{Name: "a", Type: ParamCategorical, Values: []interface{}{"x", "y"}},
		{Name: "b", Type: ParamCategorical, Values: []interface{}{1, 2, 3}},
	}
	cfgs := cartesianProduct(params)
	assert.Len(t, cfgs, 6)

	seen := make(map[string]bool, len(cfgs))
	for _, cfg := range cfgs {
		seen[fmt.Sprintf("%v-%v", cfg["a"], cfg["b"])] = true
	}
	assert.Len(t, seen, 6)
}

func TestCartesianProductEmptyParamsReturnsNil(t *testing.T) {
	assert.Nil(t, cartesianProduct(nil))
}
