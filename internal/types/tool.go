package types

// ToolDefinition describes a tool to the model (JSON schema format)
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}
