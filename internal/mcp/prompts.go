// ABOUTME: MCP prompt templates that steer agents toward the device tools
// ABOUTME: prompts/get renders a template with its arguments; unknown names are invalid params

package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
)

var promptCatalog = []MCPPromptInfo{
	{
		Name:        "device_overview",
		Description: "Summarize the caller's devices and their current state",
		Arguments: []MCPPromptArgument{
			{Name: "focus", Description: "Optional room, device type or name to concentrate on"},
		},
	},
	{
		Name:        "control_device_assistant",
		Description: "Carry out a natural-language device request safely",
		Arguments: []MCPPromptArgument{
			{Name: "request", Description: "What the user wants done, e.g. turn off the hallway lamp", Required: true},
			{Name: "deviceId", Description: "Device to act on when already known"},
		},
	},
}

type getPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

func (d *Dispatcher) handlePromptsGet(req *JSONRPCRequest) *JSONRPCResponse {
	var params getPromptParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewError(req.ID, JSONRPCInvalidParams, "invalid params")
		}
	}

	var info *MCPPromptInfo
	for i := range promptCatalog {
		if promptCatalog[i].Name == params.Name {
			info = &promptCatalog[i]
			break
		}
	}
	if info == nil {
		return NewError(req.ID, JSONRPCInvalidParams, "unknown prompt: "+params.Name)
	}
	for _, arg := range info.Arguments {
		if arg.Required && strings.TrimSpace(params.Arguments[arg.Name]) == "" {
			return NewError(req.ID, JSONRPCInvalidParams, fmt.Sprintf("argument %q is required", arg.Name))
		}
	}

	return NewResult(req.ID, MCPGetPromptResult{
		Description: info.Description,
		Messages: []MCPPromptMessage{{
			Role:    "user",
			Content: MCPContent{Type: "text", Text: renderPrompt(info.Name, params.Arguments)},
		}},
	})
}

func renderPrompt(name string, args map[string]string) string {
	var b strings.Builder
	switch name {
	case "device_overview":
		b.WriteString("Call list_devices to fetch my eWeLink devices. ")
		b.WriteString("For each online device call get_device_status and summarize what it is doing. ")
		b.WriteString("Mention offline devices separately.")
		if focus := strings.TrimSpace(args["focus"]); focus != "" {
			fmt.Fprintf(&b, " Concentrate on: %s.", focus)
		}
	case "control_device_assistant":
		fmt.Fprintf(&b, "I want to: %s.\n", strings.TrimSpace(args["request"]))
		if id := strings.TrimSpace(args["deviceId"]); id != "" {
			fmt.Fprintf(&b, "The device id is %s. ", id)
		} else {
			b.WriteString("Use list_devices to find the device that matches. ")
		}
		b.WriteString("Check it with get_device_status, then call control_device with the parameters needed ")
		b.WriteString("and confirm the new state. Ask before acting if more than one device matches.")
	}
	return b.String()
}
