package builtin

import "github.com/nguyenthanhtuan/agentrun/tool"

// ByName returns the catalog tool registered under name, for callers (the
// agentctl CLI, suite loaders) that reference built-in tools by string
// rather than importing their constructors directly.
func ByName(name string) (*tool.Tool, bool) {
	switch name {
	case "calculator":
		return Calculator(), true
	case "datetime":
		return tool.NewDateTime(), true
	default:
		return nil, false
	}
}
