// internal/engine/schema.go
package engine

import (
	"encoding/json"

	"github.com/user/munch/internal/types"
	"github.com/user/munch/pkg/llm"
)

// emptyObjectSchema is the function parameter schema for tools that declare
// none; the model API requires a schema for every function.
var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// functionSchemas converts the discovered tool catalog into model-callable
// function definitions, carrying name, description, and input schema
// verbatim.
func functionSchemas(catalog []types.ToolInfo) []llm.Tool {
	out := make([]llm.Tool, 0, len(catalog))
	for _, t := range catalog {
		desc := t.Description
		if desc == "" {
			desc = "Remote food ordering tool: " + t.Name
		}
		params := t.InputSchema
		if len(params) == 0 {
			params = emptyObjectSchema
		}
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.Function{
				Name:        t.Name,
				Description: desc,
				Parameters:  params,
			},
		})
	}
	return out
}
