// Package adapter translates between the public chat APIs and the
// upstream event stream: request mapping in, delta conversion out.
package adapter

import (
	"encoding/json"

	"github.com/poemonsense/warp-proxy-go/internal/utils"
)

// mcpGatewayTool is the envelope tool name the agent emits when it wants
// to call a client-declared tool indirectly.
const mcpGatewayTool = "call_mcp_tool"

// UnwrapToolCall rewrites a call_mcp_tool envelope into the direct tool
// call it wraps: {"name": "...", "args": {...}} becomes a call of "name"
// with "args" as the argument object. Any other tool name, and any
// envelope that cannot be decoded safely, passes through unchanged.
func UnwrapToolCall(name, argsJSON string) (string, string) {
	if name != mcpGatewayTool {
		return name, argsJSON
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal([]byte(argsJSON), &envelope); err != nil {
		utils.Warn("[MCP Gateway] Unparseable %s arguments, passing through: %v", mcpGatewayTool, err)
		return name, argsJSON
	}

	actualName, _ := envelope["name"].(string)
	if actualName == "" {
		utils.Warn("[MCP Gateway] %s missing 'name' field, passing through", mcpGatewayTool)
		return name, argsJSON
	}

	args := envelope["args"]
	switch v := args.(type) {
	case nil:
		args = map[string]interface{}{}
	case []interface{}:
		// A bare list of parameter names becomes an empty-valued object
		// for the client to fill in.
		obj := make(map[string]interface{}, len(v))
		for _, item := range v {
			if key, ok := item.(string); ok {
				obj[key] = ""
			}
		}
		args = obj
	}

	actualArgs, err := json.Marshal(args)
	if err != nil {
		return name, argsJSON
	}

	utils.Info("[MCP Gateway] Unwrapped %s -> %s", mcpGatewayTool, actualName)
	return actualName, string(actualArgs)
}
