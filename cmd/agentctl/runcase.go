package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nguyenthanhtuan/agentrun/agent"
	"github.com/nguyenthanhtuan/agentrun/eval"
	"github.com/nguyenthanhtuan/agentrun/message"
	"github.com/nguyenthanhtuan/agentrun/modelcfg"
	"github.com/nguyenthanhtuan/agentrun/provider"
	"github.com/nguyenthanhtuan/agentrun/runner"
	"github.com/nguyenthanhtuan/agentrun/structured"
	"github.com/nguyenthanhtuan/agentrun/tool"
	"github.com/nguyenthanhtuan/agentrun/tool/builtin"
)

// buildCaseRunFunc returns the eval.CaseRunFunc every suite run (plain
// eval or an optimizer trial) drives a case through: resolve the model
// and tools a TestCase.AgentConfig names, build an agent.Agent, run it
// through a runner.Runner wired to reg, and translate the runner.Result
// into an eval.Outcome the registered evaluators can score.
func buildCaseRunFunc(reg *provider.Registry, overrides map[string]interface{}) eval.CaseRunFunc {
	run := runner.New(reg)

	return func(ctx context.Context, tc eval.TestCase, deps map[string]interface{}) (eval.Outcome, message.Usage, error) {
		cfg := mergeAgentConfig(tc.AgentConfig, overrides)

		modelSpec, _ := cfg["model"].(string)
		if modelSpec == "" {
			return eval.Outcome{}, message.Usage{}, fmt.Errorf("agentctl: case %q has no model configured", tc.ID)
		}
		model, err := modelcfg.Parse(modelSpec)
		if err != nil {
			return eval.Outcome{}, message.Usage{}, fmt.Errorf("agentctl: case %q: %w", tc.ID, err)
		}

		opts := agentOptionsFromConfig(cfg)

		tools, err := resolveTools(tc.Tools)
		if err != nil {
			return eval.Outcome{}, message.Usage{}, fmt.Errorf("agentctl: case %q: %w", tc.ID, err)
		}
		if len(tools) > 0 {
			opts = append(opts, agent.WithTools(tools...))
		}

		a, err := agent.New(model, opts...)
		if err != nil {
			return eval.Outcome{}, message.Usage{}, fmt.Errorf("agentctl: case %q: %w", tc.ID, err)
		}

		res, err := run.Run(ctx, a, tc.Input, runner.Options{})
		if err != nil {
			return eval.Outcome{}, message.Usage{}, err
		}

		return eval.Outcome{Output: res.Output, ToolCalls: toolCallsFromMessages(res.NewMessages)}, res.Usage, nil
	}
}

// mergeAgentConfig layers optimizer-trial overrides (if any) on top of a
// case's own agent_config, so a trial can tune temperature/model without
// every suite case needing to restate its baseline configuration.
func mergeAgentConfig(base, overrides map[string]interface{}) map[string]interface{} {
	cfg := make(map[string]interface{}, len(base)+len(overrides))
	for k, v := range base {
		cfg[k] = v
	}
	for k, v := range overrides {
		cfg[k] = v
	}
	return cfg
}

func agentOptionsFromConfig(cfg map[string]interface{}) []agent.Option {
	var opts []agent.Option
	if system, ok := cfg["system"].(string); ok && system != "" {
		opts = append(opts, agent.WithSystem(system))
	}
	if t, ok := asFloat(cfg["temperature"]); ok {
		opts = append(opts, agent.WithTemperature(t))
	}
	if p, ok := asFloat(cfg["top_p"]); ok {
		opts = append(opts, agent.WithTopP(p))
	}
	if n, ok := asFloat(cfg["max_tokens"]); ok {
		opts = append(opts, agent.WithMaxTokens(int(n)))
	}
	if n, ok := asFloat(cfg["max_iterations"]); ok {
		opts = append(opts, agent.WithMaxIterations(int(n)))
	}
	if s, ok := cfg["end_strategy"].(string); ok && s != "" {
		opts = append(opts, agent.WithEndStrategy(agent.EndStrategy(s)))
	}
	return opts
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func resolveTools(names []string) ([]*tool.Tool, error) {
	tools := make([]*tool.Tool, 0, len(names))
	for _, name := range names {
		t, ok := builtin.ByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown tool %q", name)
		}
		tools = append(tools, t)
	}
	return tools, nil
}

// registerLLMJudge wires the llm_judge eval kind to a real judge agent:
// the judge model scores the output against the case's criteria and must
// answer with a {score, reason} object, enforced through the structured
// output pipeline. judgeSpec is the model the judge runs on, typically
// the suite's default model.
func registerLLMJudge(registry *eval.Registry, reg *provider.Registry, judgeSpec string) {
	run := runner.New(reg)

	registry.Register("llm_judge", eval.LLMJudge(func(ctx context.Context, output, criteria string) (float64, string, error) {
		if judgeSpec == "" {
			return 0, "", fmt.Errorf("agentctl: llm_judge needs a judge model (set the suite's default_model or --model)")
		}
		model, err := modelcfg.Parse(judgeSpec)
		if err != nil {
			return 0, "", err
		}

		a, err := agent.New(model,
			agent.WithSystem("You grade answers. Score how well the answer satisfies the criteria, from 0.0 (not at all) to 1.0 (fully)."),
			agent.WithOutput(judgeSchema(), structured.ModeAuto))
		if err != nil {
			return 0, "", err
		}

		prompt := fmt.Sprintf("Criteria:\n%s\n\nAnswer to grade:\n%s", criteria, output)
		res, err := run.Run(ctx, a, prompt, runner.Options{})
		if err != nil {
			return 0, "", err
		}

		var verdict struct {
			Score  float64 `json:"score"`
			Reason string  `json:"reason"`
		}
		if err := json.Unmarshal([]byte(res.Output), &verdict); err != nil {
			return 0, "", fmt.Errorf("agentctl: judge returned unparseable verdict: %w", err)
		}
		return verdict.Score, verdict.Reason, nil
	}))
}

func judgeSchema() structured.Schema {
	return structured.Schema{
		Name: "judge_verdict",
		Raw: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"score", "reason"},
			"properties": map[string]interface{}{
				"score":  map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
				"reason": map[string]interface{}{"type": "string"},
			},
		},
	}
}

// toolCallsFromMessages extracts every tool call issued during a run,
// decoding each ToolCallPart's raw JSON arguments into the decoded map
// eval.Outcome.ToolCalls and the tool_usage evaluator expect.
func toolCallsFromMessages(msgs []message.Message) []tool.Call {
	var calls []tool.Call
	for _, m := range msgs {
		for _, tc := range m.ToolCalls() {
			var args map[string]interface{}
			_ = json.Unmarshal([]byte(tc.Arguments), &args)
			calls = append(calls, tool.Call{ID: tc.ID, Name: tc.Name, Arguments: args})
		}
	}
	return calls
}
