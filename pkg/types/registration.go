package types

// ToolRegistration captures everything the registry knows about a tool
// beyond the tool's own implementation: its declared capabilities, search
// tags, ordering priority, and enabled state. Tool name is the registry
// key; names are unique.
type ToolRegistration struct {
	Name         string
	Description  string
	Capabilities map[Capability]bool
	Tags         map[string]bool
	Priority     int
	Enabled      bool
	Metadata     map[string]any
}

// HasCapability reports whether this registration declares cap.
func (r ToolRegistration) HasCapability(cap Capability) bool {
	return r.Capabilities[cap]
}
