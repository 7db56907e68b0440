// Package behavior provides the two concrete agent.Behavior strategies:
// Basic, a plain tool-calling loop, and ReAct, which forces an explicit
// plan/act/observe/answer workflow through six synthetic tools.
package behavior

import (
	"context"

	"github.com/nguyenthanhtuan/agentrun/agent"
	"github.com/nguyenthanhtuan/agentrun/message"
	"github.com/nguyenthanhtuan/agentrun/tool"
)

// Basic is the default behaviour: continue looping while the model keeps
// emitting tool calls, stop and return its text otherwise.
type Basic struct{}

var _ agent.Behavior = Basic{}

func (Basic) Name() string { return "basic" }

func (Basic) GetTools(rc *agent.RunContext, callerTools []*tool.Tool) []*tool.Tool {
	return callerTools
}

func (Basic) PrepareSystem(base string) string { return base }

func (Basic) OnModelResponse(ctx context.Context, rc *agent.RunContext, resp message.Message) (bool, string, error) {
	if len(resp.ToolCalls()) > 0 {
		return true, "", nil
	}
	return false, resp.Text(), nil
}

func (Basic) OnToolResult(ctx context.Context, rc *agent.RunContext, call tool.Call, result tool.Result) {
}
