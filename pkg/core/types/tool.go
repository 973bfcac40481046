package types

// Tool declares a callable function exposed to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ToolInvocationRequest is a backend request to execute a named external
// action. A session may have several outstanding at once; the ID pairs the
// request to its result.
type ToolInvocationRequest struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolInvocationResult answers a ToolInvocationRequest.
type ToolInvocationResult struct {
	ID      string         `json:"id"`
	Output  map[string]any `json:"output,omitempty"`
	IsError bool           `json:"is_error,omitempty"`
}

// ErrorResult builds a result reporting executor failure for an invocation.
// The session manager submits these on the executor's behalf when a
// caller-defined timeout elapses.
func ErrorResult(invocationID, message string) ToolInvocationResult {
	return ToolInvocationResult{
		ID:      invocationID,
		Output:  map[string]any{"error": message},
		IsError: true,
	}
}
