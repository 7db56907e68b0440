package behavior

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// actionRegex recognizes a plain-text "ACTION: tool(args)" line, the
// fallback ReAct uses for models that answer in free text instead of
// emitting a native tool call.
var actionRegex = regexp.MustCompile(`(?i)ACTION:\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*(?:\((.*)\))?\s*$`)

// parseTextAction looks for a trailing ACTION line in text and, if found,
// returns the tool name and parsed arguments.
func parseTextAction(text string) (toolName string, args map[string]interface{}, ok bool) {
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		m := actionRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		toolName = m[1]
		argsStr := ""
		if len(m) > 2 {
			argsStr = strings.TrimSpace(m[2])
		}
		parsed, err := parseActionArgs(argsStr)
		if err != nil {
			return toolName, nil, true
		}
		return toolName, parsed, true
	}
	return "", nil, false
}

// parseActionArgs parses a JSON object or a key=value argument list into a
// map.
func parseActionArgs(argsStr string) (map[string]interface{}, error) {
	if argsStr == "" {
		return map[string]interface{}{}, nil
	}
	if strings.HasPrefix(argsStr, "{") {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(argsStr), &args); err == nil {
			return args, nil
		}
	}

	args := make(map[string]interface{})
	kvRegex := regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_]*)\s*=\s*(?:"([^"]*)"|'([^']*)'|([^,]+))`)
	matches := kvRegex.FindAllStringSubmatch(argsStr, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("could not parse arguments: %s", argsStr)
	}
	for _, match := range matches {
		key := match[1]
		var value string
		switch {
		case match[2] != "":
			value = match[2]
		case match[3] != "":
			value = match[3]
		default:
			value = strings.TrimSpace(match[4])
		}

		var parsedValue interface{} = value
		if num, err := parseNumber(value); err == nil {
			parsedValue = num
		} else if value == "true" {
			parsedValue = true
		} else if value == "false" {
			parsedValue = false
		}
		args[key] = parsedValue
	}
	return args, nil
}

func parseNumber(s string) (interface{}, error) {
	var f float64
	if n, err := fmt.Sscanf(s, "%f", &f); err == nil && n == 1 {
		if f == float64(int(f)) {
			return int(f), nil
		}
		return f, nil
	}
	return nil, fmt.Errorf("not a number: %s", s)
}
