package eval

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlSuite mirrors the on-disk suite file shape, so LoadSuite can
// unmarshal directly without a separate DTO-to-domain field-by-field
// mapping beyond millisecond-to-Duration conversion.
type yamlSuite struct {
	Name                string         `yaml:"name"`
	Description         string         `yaml:"description"`
	DefaultModel        string         `yaml:"default_model"`
	DefaultInstructions string         `yaml:"default_instructions"`
	DefaultTimeoutMS    int            `yaml:"default_timeout_ms"`
	Parallelism         int            `yaml:"parallelism"`
	RetryFailed         int            `yaml:"retry_failed"`
	TestCases           []yamlTestCase `yaml:"test_cases"`
}

type yamlTestCase struct {
	ID          string                 `yaml:"id"`
	Name        string                 `yaml:"name"`
	Input       string                 `yaml:"input"`
	Expected    interface{}            `yaml:"expected"`
	EvalType    string                 `yaml:"eval_type"`
	EvalConfig  map[string]interface{} `yaml:"eval_config"`
	Tags        []string               `yaml:"tags"`
	AgentConfig map[string]interface{} `yaml:"agent_config"`
	Tools       []string               `yaml:"tools"`
	TimeoutMS   int                    `yaml:"timeout_ms"`
}

// LoadSuite reads and validates one suite file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("eval: reading suite %s: %w", path, err)
	}

	var y yamlSuite
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("eval: parsing suite %s: %w", path, err)
	}

	s := &Suite{
		Name:                y.Name,
		Description:         y.Description,
		DefaultModel:        y.DefaultModel,
		DefaultInstructions: y.DefaultInstructions,
		DefaultTimeout:      time.Duration(y.DefaultTimeoutMS) * time.Millisecond,
		Parallelism:         y.Parallelism,
		RetryFailed:         y.RetryFailed,
	}
	s.TestCases = make([]TestCase, 0, len(y.TestCases))
	for _, tc := range y.TestCases {
		s.TestCases = append(s.TestCases, TestCase{
			ID:          tc.ID,
			Name:        tc.Name,
			Input:       tc.Input,
			Expected:    tc.Expected,
			EvalType:    tc.EvalType,
			EvalConfig:  tc.EvalConfig,
			Tags:        tc.Tags,
			AgentConfig: tc.AgentConfig,
			Tools:       tc.Tools,
			Timeout:     time.Duration(tc.TimeoutMS) * time.Millisecond,
		})
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadSuitesFromDir loads every .yaml/.yml file directly under dir.
func LoadSuitesFromDir(dir string) ([]*Suite, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("eval: reading suite directory %s: %w", dir, err)
	}

	var suites []*Suite
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		s, err := LoadSuite(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		suites = append(suites, s)
	}
	return suites, nil
}
