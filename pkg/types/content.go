// Package types defines the value types shared across the agent core:
// conversation content, tool call records, tool registrations, and the
// abort signal threaded through every suspending operation.
package types

// Role identifies who authored a Content entry in the conversation history.
type Role string

const (
	RoleUser     Role = "user"
	RoleModel    Role = "model"
	RoleFunction Role = "function"
)

// PartKind discriminates the tagged variants of Part.
type PartKind string

const (
	PartText             PartKind = "text"
	PartFunctionCall     PartKind = "function_call"
	PartFunctionResponse PartKind = "function_response"
)

// Part is a single element of a Content. Exactly one of the kind-specific
// fields is populated, selected by Kind. Parts are modeled as a tagged
// struct rather than an interface because they must marshal directly
// to and from provider wire formats (Gemini parts, Anthropic content
// blocks, OpenAI tool_calls) without a type-switch at every boundary.
type Part struct {
	Kind PartKind `json:"kind"`

	// Text holds the content for PartText.
	Text string `json:"text,omitempty"`

	// FunctionCall holds the content for PartFunctionCall.
	FunctionCall *FunctionCall `json:"function_call,omitempty"`

	// FunctionResponse holds the content for PartFunctionResponse.
	FunctionResponse *FunctionResponse `json:"function_response,omitempty"`
}

// FunctionCall is a model request to invoke a named tool.
type FunctionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// FunctionResponse is the paired result of a FunctionCall.
type FunctionResponse struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
	Error    *ToolError     `json:"error,omitempty"`
}

// ToolError is the structured error shape surfaced to the LLM so it can
// reason over what went wrong instead of receiving an opaque failure.
type ToolError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

// TextPart constructs a Part carrying plain text.
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// FunctionCallPart constructs a Part carrying a FunctionCall.
func FunctionCallPart(id, name string, args map[string]any) Part {
	return Part{Kind: PartFunctionCall, FunctionCall: &FunctionCall{ID: id, Name: name, Args: args}}
}

// FunctionResponsePart constructs a Part carrying a FunctionResponse.
func FunctionResponsePart(id, name string, response map[string]any, toolErr *ToolError) Part {
	return Part{Kind: PartFunctionResponse, FunctionResponse: &FunctionResponse{
		ID: id, Name: name, Response: response, Error: toolErr,
	}}
}

// Content is one entry in the conversation history: a role plus an
// ordered list of parts. Parts of different kinds may interleave within
// a single model Content (e.g. text followed by one or more function
// calls in the same turn).
type Content struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// FunctionCalls returns every FunctionCall part in this Content, in order.
func (c Content) FunctionCalls() []*FunctionCall {
	var calls []*FunctionCall
	for _, p := range c.Parts {
		if p.Kind == PartFunctionCall && p.FunctionCall != nil {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns every FunctionResponse part in this Content, in order.
func (c Content) FunctionResponses() []*FunctionResponse {
	var responses []*FunctionResponse
	for _, p := range c.Parts {
		if p.Kind == PartFunctionResponse && p.FunctionResponse != nil {
			responses = append(responses, p.FunctionResponse)
		}
	}
	return responses
}

// Text concatenates every text part in this Content.
func (c Content) Text() string {
	var out string
	for _, p := range c.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}
