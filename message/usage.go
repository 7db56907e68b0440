package message

// Usage accumulates token and request counters across one or more model
// calls within a run. Every mutating method returns a new value rather than
// mutating in place, so a RunContext can hand out copies without callers
// needing a mutex to read a consistent snapshot mid-run.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Requests         int
	ToolCalls        int
}

// Add returns the element-wise sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		Requests:         u.Requests + other.Requests,
		ToolCalls:        u.ToolCalls + other.ToolCalls,
	}
}

// AddTokens returns u with the given prompt/completion counts added and
// Requests incremented by one.
func (u Usage) AddTokens(prompt, completion int) Usage {
	u.PromptTokens += prompt
	u.CompletionTokens += completion
	u.TotalTokens += prompt + completion
	return u.IncRequests()
}

// IncRequests returns u with Requests incremented by one.
func (u Usage) IncRequests() Usage {
	u.Requests++
	return u
}

// IncToolCalls returns u with ToolCalls incremented by n.
func (u Usage) IncToolCalls(n int) Usage {
	u.ToolCalls += n
	return u
}

// ExceedsLimit reports whether u has exceeded any configured, non-zero
// ceiling in limit. A zero field in limit means "no limit" for that
// dimension.
func (u Usage) ExceedsLimit(limit Usage) bool {
	if limit.TotalTokens > 0 && u.TotalTokens > limit.TotalTokens {
		return true
	}
	if limit.Requests > 0 && u.Requests > limit.Requests {
		return true
	}
	if limit.ToolCalls > 0 && u.ToolCalls > limit.ToolCalls {
		return true
	}
	return false
}
