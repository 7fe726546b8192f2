package search

import (
	"context"
	"fmt"
)

// ToolParameters is the JSON Schema for web_search arguments.
const ToolParameters = `{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "minLength": 1,
      "description": "The search query."
    },
    "max_results": {
      "type": "integer",
      "minimum": 1,
      "maximum": 10,
      "default": 5,
      "description": "Maximum number of results to return (1-10)."
    }
  },
  "required": ["query"],
  "additionalProperties": false
}`

// ToolResult is the web_search tool output.
type ToolResult struct {
	Query      string   `json:"query"`
	MaxResults int      `json:"max_results"`
	Results    []Result `json:"results"`
	Note       string   `json:"note,omitempty"`
}

// ToolHandler returns the web_search implementation. Arguments have
// already been validated against ToolParameters. With no provider
// configured the tool succeeds with an empty result set and a note, so
// the model can tell the user search is unavailable.
func ToolHandler(mgr *Manager) func(ctx context.Context, args map[string]any) (any, error) {
	return func(ctx context.Context, args map[string]any) (any, error) {
		query, _ := args["query"].(string)
		maxResults := DefaultCount
		if n, ok := args["max_results"].(float64); ok && n > 0 {
			maxResults = int(n)
		}

		out := ToolResult{
			Query:      query,
			MaxResults: maxResults,
			Results:    []Result{},
		}
		if !mgr.Configured() {
			out.Note = "web search is not configured on this server"
			return out, nil
		}

		results, err := mgr.Search(ctx, query, Options{Count: maxResults})
		if err != nil {
			return nil, fmt.Errorf("web_search: %w", err)
		}
		out.Results = results
		return out, nil
	}
}
