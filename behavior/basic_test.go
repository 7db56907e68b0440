package behavior

import (
	"context"
	"testing"

	"github.com/nguyenthanhtuan/agentrun/agent"
	"github.com/nguyenthanhtuan/agentrun/message"
	"github.com/nguyenthanhtuan/agentrun/modelcfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicGetToolsPassesThrough(t *testing.T) {
	a, err := agent.New(modelcfg.Model{}, agent.WithBehavior(Basic{}))
	require.NoError(t, err)
	rc := agent.NewRunContext(a, "hi")
	assert.Nil(t, Basic{}.GetTools(rc, nil))
}

func TestBasicPrepareSystemIsIdentity(t *testing.T) {
	assert.Equal(t, "base prompt", Basic{}.PrepareSystem("base prompt"))
}

func TestBasicOnModelResponse(t *testing.T) {
	a, err := agent.New(modelcfg.Model{}, agent.WithBehavior(Basic{}))
	require.NoError(t, err)
	rc := agent.NewRunContext(a, "hi")

	cont, final, err := Basic{}.OnModelResponse(context.Background(), rc, message.Assistant("hello"))
	require.NoError(t, err)
	assert.False(t, cont)
	assert.Equal(t, "hello", final)
}
