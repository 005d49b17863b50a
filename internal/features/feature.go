// Package features hosts the first-party feature managers and the
// coordinator that wires them behind the internal:* provider namespace.
package features

import (
	"context"

	"metatool/internal/tool"
)

// Manager is the uniform capability every feature implements: a tool
// catalog slice plus a handler for calls routed to it.
type Manager interface {
	// ProviderID returns the internal:<feature> namespace id.
	ProviderID() string
	// Definitions enumerates the manager's tool descriptors.
	Definitions() []tool.Descriptor
	// Handle executes one tool call. Unknown names return NotFound.
	Handle(ctx context.Context, name string, args map[string]any) (*tool.Result, error)
}
