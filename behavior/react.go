package behavior

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nguyenthanhtuan/agentrun/agent"
	"github.com/nguyenthanhtuan/agentrun/message"
	"github.com/nguyenthanhtuan/agentrun/telemetry"
	"github.com/nguyenthanhtuan/agentrun/tool"
)

// reactStateKey is the RunContext.State key ReAct stores its private data
// under. Unexported so callers can't collide with it accidentally.
const reactStateKey = "behavior.react"

// reactPhase is the ReAct state machine's current phase.
type reactPhase string

const (
	phasePlanning reactPhase = "planning"
	phaseActing   reactPhase = "acting"
	phaseDone     reactPhase = "done"
)

// Plan is the structured plan recorded by the synthetic plan tool.
type Plan struct {
	Question   string   `json:"question"`
	KnownFacts []string `json:"known_facts,omitempty"`
	ToLookUp   []string `json:"to_look_up,omitempty"`
	Actions    []string `json:"actions,omitempty"`
}

// Todo is one item tracked by add_todo/complete_todo/list_todos.
type Todo struct {
	ID       int    `json:"id"`
	Item     string `json:"item"`
	Priority string `json:"priority,omitempty"`
	Done     bool   `json:"done"`
}

type toolCallRecord struct {
	Name string
	Args string
}

func argsKey(args map[string]interface{}) string {
	b, _ := json.Marshal(args)
	return string(b)
}

// reactData is ReAct's behaviour-private state for one run.
type reactData struct {
	Phase       reactPhase
	Plan        *Plan
	Todos       []Todo
	Notes       []string
	FinalAnswer string
	haveFinal   bool
	nextTodoID  int
	history     []toolCallRecord
}

// ReAct forces an explicit plan -> track todos -> act/observe ->
// final_answer workflow via six synthetic tools whose side effects are
// writes into behaviour-private run state. Duplicate (byte-identical)
// tool calls are logged as a possible loop, never auto-suppressed.
type ReAct struct {
	Logger telemetry.Logger
}

var _ agent.Behavior = ReAct{}

func (r ReAct) Name() string { return "react" }

func (r ReAct) logger() telemetry.Logger {
	if r.Logger == nil {
		return telemetry.NoopLogger{}
	}
	return r.Logger
}

func (r ReAct) data(rc *agent.RunContext) *reactData {
	d, ok := rc.State[reactStateKey].(*reactData)
	if !ok {
		d = &reactData{Phase: phasePlanning}
		rc.State[reactStateKey] = d
	}
	return d
}

const reactSystemSuffix = `
You must follow this workflow:
1. Call plan(question) to record what you know, what you need to look up, and the actions you intend to take.
2. Use add_todo/complete_todo/list_todos to track the steps of your plan.
3. Use note(content) to record intermediate observations worth remembering.
4. Call the tools you need to gather information, one action at a time.
5. When you have enough information, call final_answer(answer) with the complete answer. Do not stop before calling final_answer.`

func (r ReAct) PrepareSystem(base string) string {
	if strings.TrimSpace(base) == "" {
		return strings.TrimSpace(reactSystemSuffix)
	}
	return base + "\n" + reactSystemSuffix
}

func (r ReAct) GetTools(rc *agent.RunContext, callerTools []*tool.Tool) []*tool.Tool {
	d := r.data(rc)
	synthetic := []*tool.Tool{
		r.planTool(rc, d),
		r.addTodoTool(rc, d),
		r.completeTodoTool(rc, d),
		r.listTodosTool(rc, d),
		r.noteTool(rc, d),
		r.finalAnswerTool(rc, d),
	}
	return append(synthetic, callerTools...)
}

func (r ReAct) planTool(rc *agent.RunContext, d *reactData) *tool.Tool {
	return tool.New("plan", "Record a structured plan: known facts, facts to look up, and intended actions.").
		AddParameter("question", tool.StringParam("The question or task being planned for"), true).
		AddParameter("known_facts", tool.ArrayParam("Facts already known", "string"), false).
		AddParameter("to_look_up", tool.ArrayParam("Facts that must be looked up", "string"), false).
		AddParameter("actions", tool.ArrayParam("Actions intended to take", "string"), false).
		WithFunc(func(ctx context.Context, _ *tool.RunContext, args map[string]interface{}) (string, tool.ContextPatch, error) {
			p := &Plan{Question: stringArg(args, "question")}
			p.KnownFacts = stringSliceArg(args, "known_facts")
			p.ToLookUp = stringSliceArg(args, "to_look_up")
			p.Actions = stringSliceArg(args, "actions")
			d.Plan = p
			if d.Phase == phasePlanning {
				d.Phase = phaseActing
			}
			return "plan recorded", tool.ContextPatch{}, nil
		})
}

func (r ReAct) addTodoTool(rc *agent.RunContext, d *reactData) *tool.Tool {
	return tool.New("add_todo", "Add an item to the todo list.").
		AddParameter("item", tool.StringParam("The todo text"), true).
		AddParameter("priority", tool.StringParam("low, medium, or high"), false).
		WithFunc(func(ctx context.Context, _ *tool.RunContext, args map[string]interface{}) (string, tool.ContextPatch, error) {
			d.nextTodoID++
			t := Todo{ID: d.nextTodoID, Item: stringArg(args, "item"), Priority: stringArg(args, "priority")}
			d.Todos = append(d.Todos, t)
			return fmt.Sprintf("added todo #%d", t.ID), tool.ContextPatch{}, nil
		})
}

func (r ReAct) completeTodoTool(rc *agent.RunContext, d *reactData) *tool.Tool {
	return tool.New("complete_todo", "Mark a todo item complete by id or text.").
		AddParameter("id", tool.NumberParam("Todo id"), false).
		AddParameter("item", tool.StringParam("Todo text to match if id is not given"), false).
		WithFunc(func(ctx context.Context, _ *tool.RunContext, args map[string]interface{}) (string, tool.ContextPatch, error) {
			id, hasID := numberArg(args, "id")
			item := stringArg(args, "item")
			for i := range d.Todos {
				if (hasID && d.Todos[i].ID == id) || (!hasID && d.Todos[i].Item == item) {
					d.Todos[i].Done = true
					return fmt.Sprintf("completed todo #%d", d.Todos[i].ID), tool.ContextPatch{}, nil
				}
			}
			return "", tool.ContextPatch{}, fmt.Errorf("no matching todo found")
		})
}

func (r ReAct) listTodosTool(rc *agent.RunContext, d *reactData) *tool.Tool {
	return tool.New("list_todos", "List all todos and their completion state.").
		WithFunc(func(ctx context.Context, _ *tool.RunContext, args map[string]interface{}) (string, tool.ContextPatch, error) {
			b, err := json.Marshal(d.Todos)
			if err != nil {
				return "", tool.ContextPatch{}, err
			}
			return string(b), tool.ContextPatch{}, nil
		})
}

func (r ReAct) noteTool(rc *agent.RunContext, d *reactData) *tool.Tool {
	return tool.New("note", "Record an intermediate observation worth remembering.").
		AddParameter("content", tool.StringParam("The note text"), true).
		WithFunc(func(ctx context.Context, _ *tool.RunContext, args map[string]interface{}) (string, tool.ContextPatch, error) {
			d.Notes = append(d.Notes, stringArg(args, "content"))
			return "noted", tool.ContextPatch{}, nil
		})
}

func (r ReAct) finalAnswerTool(rc *agent.RunContext, d *reactData) *tool.Tool {
	return tool.New("final_answer", "Record the final answer and end the run.").
		AddParameter("answer", tool.StringParam("The complete final answer"), true).
		WithFunc(func(ctx context.Context, _ *tool.RunContext, args map[string]interface{}) (string, tool.ContextPatch, error) {
			d.FinalAnswer = stringArg(args, "answer")
			d.haveFinal = true
			d.Phase = phaseDone
			return "final answer recorded", tool.ContextPatch{}, nil
		})
}

func (r ReAct) OnModelResponse(ctx context.Context, rc *agent.RunContext, resp message.Message) (bool, string, error) {
	d := r.data(rc)
	if len(resp.ToolCalls()) > 0 {
		for _, tc := range resp.ToolCalls() {
			if tc.Name == "final_answer" {
				var args map[string]interface{}
				json.Unmarshal([]byte(tc.Arguments), &args)
				answer := stringArg(args, "answer")
				d.FinalAnswer = answer
				d.haveFinal = true
				d.Phase = phaseDone
				return false, answer, nil
			}
		}
		return true, "", nil
	}

	if toolName, _, ok := parseTextAction(resp.Text()); ok && toolName != "" {
		r.logger().Debug(ctx, "react: parsed text-form action", telemetry.F("tool", toolName))
	}

	if d.haveFinal {
		return false, d.FinalAnswer, nil
	}
	return false, resp.Text(), nil
}

func (r ReAct) OnToolResult(ctx context.Context, rc *agent.RunContext, call tool.Call, result tool.Result) {
	d := r.data(rc)
	rec := toolCallRecord{Name: call.Name, Args: argsKey(call.Arguments)}
	for _, prior := range d.history {
		if prior == rec {
			r.logger().Warn(ctx, "react: repeated tool call detected, possible loop",
				telemetry.F("tool", call.Name), telemetry.F("arguments", rec.Args))
			break
		}
	}
	d.history = append(d.history, rec)
}

func stringArg(args map[string]interface{}, key string) string {
	s, _ := args[key].(string)
	return s
}

func numberArg(args map[string]interface{}, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

func stringSliceArg(args map[string]interface{}, key string) []string {
	raw, ok := args[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
