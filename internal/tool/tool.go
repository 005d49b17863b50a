// Package tool defines the descriptor and result types shared by the
// store, the indexer, the feature managers and the gateway.
package tool

import "fmt"

// InternalPrefix marks provider ids reserved for in-process features.
const InternalPrefix = "internal:"

// Descriptor identifies a tool: name, description, input schema and
// provenance. Name is globally unique within the live catalog.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
	ProviderID  string         `json:"providerId,omitempty"`
	Category    string         `json:"category,omitempty"`
	Keywords    []string       `json:"keywords,omitempty"`
	UsageCount  int64          `json:"usageCount,omitempty"`
}

// IsInternal reports whether the descriptor belongs to a first-party
// feature manager.
func (d Descriptor) IsInternal() bool {
	return len(d.ProviderID) >= len(InternalPrefix) && d.ProviderID[:len(InternalPrefix)] == InternalPrefix
}

// Public strips internal fields for the wire representation of list_tools.
func (d Descriptor) Public() Descriptor {
	return Descriptor{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: d.InputSchema,
	}
}

// ContentBlock is one piece of content in a tool result.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Result is the structured outcome of a tool call.
type Result struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// TextResult builds a single-text-block success result.
func TextResult(format string, args ...any) *Result {
	return &Result{Content: []ContentBlock{{Type: "text", Text: fmt.Sprintf(format, args...)}}}
}

// ErrorResult builds the failure shape: a single text block plus isError.
func ErrorResult(format string, args ...any) *Result {
	return &Result{
		Content: []ContentBlock{{Type: "text", Text: fmt.Sprintf(format, args...)}},
		IsError: true,
	}
}
