// Package builtin provides a small catalog of ready-made tools eval
// suites and the agentctl CLI can reference by name: expression
// evaluation via govaluate and descriptive statistics via gonum/stat.
package builtin

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/nguyenthanhtuan/agentrun/tool"
	"gonum.org/v1/gonum/stat"
)

// Calculator returns a tool exposing expression evaluation ("evaluate")
// and descriptive statistics ("statistics": mean, stdev, variance,
// median, min, max, sum) over an array of numbers.
func Calculator() *tool.Tool {
	t := tool.New("calculator", "Evaluate a math expression or compute statistics over a list of numbers").
		AddParameter("operation", tool.EnumParam("which calculation to perform", "evaluate", "statistics"), true).
		AddParameter("expression", tool.StringParam("expression for the evaluate operation, e.g. sqrt(16) + 2*3"), false).
		AddParameter("stat_type", tool.EnumParam("statistic for the statistics operation", "mean", "median", "stdev", "variance", "min", "max", "sum"), false).
		AddParameter("numbers", tool.ArrayParam("numbers for the statistics operation", "number"), false)

	return t.WithFunc(func(_ context.Context, _ *tool.RunContext, args map[string]interface{}) (string, tool.ContextPatch, error) {
		op, _ := args["operation"].(string)
		switch op {
		case "evaluate":
			expr, _ := args["expression"].(string)
			out, err := evaluateExpression(expr)
			return out, tool.ContextPatch{}, err
		case "statistics":
			statType, _ := args["stat_type"].(string)
			out, err := computeStatistic(toFloatSlice(args["numbers"]), statType)
			return out, tool.ContextPatch{}, err
		default:
			return "", tool.ContextPatch{}, fmt.Errorf("calculator: unknown operation %q", op)
		}
	})
}

func evaluateExpression(expression string) (string, error) {
	if strings.TrimSpace(expression) == "" {
		return "", fmt.Errorf("calculator: expression is required")
	}

	expr, err := govaluate.NewEvaluableExpressionWithFunctions(expression, map[string]govaluate.ExpressionFunction{
		"sqrt":  func(a ...interface{}) (interface{}, error) { return math.Sqrt(a[0].(float64)), nil },
		"pow":   func(a ...interface{}) (interface{}, error) { return math.Pow(a[0].(float64), a[1].(float64)), nil },
		"sin":   func(a ...interface{}) (interface{}, error) { return math.Sin(a[0].(float64)), nil },
		"cos":   func(a ...interface{}) (interface{}, error) { return math.Cos(a[0].(float64)), nil },
		"log":   func(a ...interface{}) (interface{}, error) { return math.Log10(a[0].(float64)), nil },
		"ln":    func(a ...interface{}) (interface{}, error) { return math.Log(a[0].(float64)), nil },
		"abs":   func(a ...interface{}) (interface{}, error) { return math.Abs(a[0].(float64)), nil },
		"ceil":  func(a ...interface{}) (interface{}, error) { return math.Ceil(a[0].(float64)), nil },
		"floor": func(a ...interface{}) (interface{}, error) { return math.Floor(a[0].(float64)), nil },
		"round": func(a ...interface{}) (interface{}, error) { return math.Round(a[0].(float64)), nil },
	})
	if err != nil {
		return "", fmt.Errorf("calculator: invalid expression: %w", err)
	}

	result, err := expr.Evaluate(nil)
	if err != nil {
		return "", fmt.Errorf("calculator: evaluation failed: %w", err)
	}

	switch v := result.(type) {
	case float64:
		return fmt.Sprintf("%.6f", v), nil
	case int:
		return fmt.Sprintf("%.6f", float64(v)), nil
	default:
		return "", fmt.Errorf("calculator: unexpected result type %T", result)
	}
}

func computeStatistic(numbers []float64, statType string) (string, error) {
	if len(numbers) == 0 {
		return "", fmt.Errorf("calculator: numbers is required")
	}

	var result float64
	switch statType {
	case "mean":
		result = stat.Mean(numbers, nil)
	case "median":
		result = median(numbers)
	case "stdev":
		result = stat.StdDev(numbers, nil)
	case "variance":
		result = stat.Variance(numbers, nil)
	case "min":
		result = numbers[0]
		for _, n := range numbers {
			if n < result {
				result = n
			}
		}
	case "max":
		result = numbers[0]
		for _, n := range numbers {
			if n > result {
				result = n
			}
		}
	case "sum":
		for _, n := range numbers {
			result += n
		}
	default:
		return "", fmt.Errorf("calculator: unknown stat_type %q", statType)
	}

	return fmt.Sprintf("%.6f", result), nil
}

func median(numbers []float64) float64 {
	sorted := append([]float64(nil), numbers...)
	for i := range sorted {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[i] > sorted[j] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

func toFloatSlice(v interface{}) []float64 {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(raw))
	for _, item := range raw {
		if f, ok := item.(float64); ok {
			out = append(out, f)
		}
	}
	return out
}
