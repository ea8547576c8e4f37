package tool

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Din829/DbRheo-CLI/pkg/registry"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

// ToolRegistry wraps registry.BaseRegistry[Tool] with capability/tag/
// priority search, the same way the teacher's DatabaseRegistry wraps
// BaseRegistry with domain-specific lookups (pkg/databases/registry.go).
type ToolRegistry struct {
	*registry.BaseRegistry[Tool]
	mu            sync.RWMutex
	registrations map[string]types.ToolRegistration
}

// NewToolRegistry constructs an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		BaseRegistry:  registry.NewBaseRegistry[Tool](),
		registrations: make(map[string]types.ToolRegistration),
	}
}

// RegisterTool registers t under reg.Name, recording its registration
// metadata (capabilities, tags, priority) for later search. Re-registering
// an existing name atomically replaces both the tool and its metadata,
// per spec §4.F — unlike the generic BaseRegistry.Register, which treats a
// duplicate name as caller error.
func (r *ToolRegistry) RegisterTool(t Tool, reg types.ToolRegistration) error {
	if t == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	if reg.Name == "" {
		reg.Name = t.Name()
	}
	if !validToolName(reg.Name) {
		return fmt.Errorf("tool name %q must match [a-z][a-z0-9_]{0,63}", reg.Name)
	}
	if err := r.Set(reg.Name, t); err != nil {
		return err
	}
	r.mu.Lock()
	r.registrations[reg.Name] = reg
	r.mu.Unlock()
	return nil
}

// Unregister removes a tool and its registration metadata by name.
func (r *ToolRegistry) Unregister(name string) error {
	r.mu.Lock()
	delete(r.registrations, name)
	r.mu.Unlock()
	return r.Remove(name)
}

// GetTool retrieves a tool by name.
func (r *ToolRegistry) GetTool(name string) (Tool, error) {
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("tool %q not found", name)
	}
	return t, nil
}

// Registration returns the registration metadata for name, if registered.
func (r *ToolRegistry) Registration(name string) (types.ToolRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.registrations[name]
	return reg, ok
}

// ListRegistrations returns every registration ordered by priority desc,
// then name asc, per spec §4.F's list() ordering.
func (r *ToolRegistry) ListRegistrations() []types.ToolRegistration {
	r.mu.RLock()
	regs := make([]types.ToolRegistration, 0, len(r.registrations))
	for _, reg := range r.registrations {
		regs = append(regs, reg)
	}
	r.mu.RUnlock()
	sortByPriorityThenName(regs)
	return regs
}

// ByCapabilities returns enabled tools whose capability set intersects
// (matchAll=false) or fully contains (matchAll=true) caps, ordered by
// descending priority.
func (r *ToolRegistry) ByCapabilities(caps []types.Capability, matchAll bool) []Tool {
	var matches []types.ToolRegistration
	r.mu.RLock()
	for _, reg := range r.registrations {
		if !reg.Enabled {
			continue
		}
		if matchAll {
			all := true
			for _, c := range caps {
				if !reg.HasCapability(c) {
					all = false
					break
				}
			}
			if all {
				matches = append(matches, reg)
			}
		} else {
			for _, c := range caps {
				if reg.HasCapability(c) {
					matches = append(matches, reg)
					break
				}
			}
		}
	}
	r.mu.RUnlock()
	sortByPriorityDesc(matches)

	tools := make([]Tool, 0, len(matches))
	for _, reg := range matches {
		if t, ok := r.Get(reg.Name); ok {
			tools = append(tools, t)
		}
	}
	return tools
}

// Search performs a substring match over name, description, and tags,
// optionally narrowed to tools carrying at least one of capabilities.
// Results sort by (capability intersection size desc, priority desc,
// name asc), per spec §4.F.
func (r *ToolRegistry) Search(query string, capabilities []types.Capability) []Tool {
	query = strings.ToLower(strings.TrimSpace(query))

	type scored struct {
		reg          types.ToolRegistration
		tool         Tool
		intersection int
	}
	var results []scored

	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, reg := range r.registrations {
		if !reg.Enabled {
			continue
		}
		if len(capabilities) > 0 {
			n := 0
			for _, c := range capabilities {
				if reg.HasCapability(c) {
					n++
				}
			}
			if n == 0 {
				continue
			}
		}
		t, ok := r.Get(name)
		if !ok {
			continue
		}
		if query != "" && !matchesQuery(query, reg, t) {
			continue
		}
		intersection := 0
		for _, c := range capabilities {
			if reg.HasCapability(c) {
				intersection++
			}
		}
		results = append(results, scored{reg: reg, tool: t, intersection: intersection})
	}

	for i := 1; i < len(results); i++ {
		for j := i; j > 0; j-- {
			a, b := results[j], results[j-1]
			swap := false
			switch {
			case a.intersection != b.intersection:
				swap = a.intersection > b.intersection
			case a.reg.Priority != b.reg.Priority:
				swap = a.reg.Priority > b.reg.Priority
			default:
				swap = a.reg.Name < b.reg.Name
			}
			if !swap {
				break
			}
			results[j], results[j-1] = results[j-1], results[j]
		}
	}

	tools := make([]Tool, 0, len(results))
	for _, r := range results {
		tools = append(tools, r.tool)
	}
	return tools
}

func matchesQuery(query string, reg types.ToolRegistration, t Tool) bool {
	if strings.Contains(strings.ToLower(t.Name()), query) {
		return true
	}
	if strings.Contains(strings.ToLower(t.Description()), query) {
		return true
	}
	for tag := range reg.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			return true
		}
	}
	return false
}

func validToolName(name string) bool {
	if len(name) == 0 || len(name) > 64 {
		return false
	}
	if name[0] < 'a' || name[0] > 'z' {
		return false
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' {
			continue
		}
		return false
	}
	return true
}

// ByCapability returns every enabled, registered tool with the given
// capability, ordered by descending priority.
func (r *ToolRegistry) ByCapability(cap types.Capability) []Tool {
	var matches []types.ToolRegistration
	r.mu.RLock()
	for _, reg := range r.registrations {
		if reg.Enabled && reg.HasCapability(cap) {
			matches = append(matches, reg)
		}
	}
	r.mu.RUnlock()
	sortByPriorityDesc(matches)

	tools := make([]Tool, 0, len(matches))
	for _, reg := range matches {
		if t, ok := r.Get(reg.Name); ok {
			tools = append(tools, t)
		}
	}
	return tools
}

// ByTag returns every enabled tool carrying tag.
func (r *ToolRegistry) ByTag(tag string) []Tool {
	var tools []Tool
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, reg := range r.registrations {
		if !reg.Enabled {
			continue
		}
		for t := range reg.Tags {
			if t == tag {
				if tl, ok := r.Get(name); ok {
					tools = append(tools, tl)
				}
				break
			}
		}
	}
	return tools
}

// Definitions returns the LLM-facing Definition for every enabled tool,
// sorted by descending priority, for building a model request's tool list.
func (r *ToolRegistry) Definitions() []Definition {
	var regs []types.ToolRegistration
	r.mu.RLock()
	for _, reg := range r.registrations {
		if reg.Enabled {
			regs = append(regs, reg)
		}
	}
	r.mu.RUnlock()
	sortByPriorityDesc(regs)

	defs := make([]Definition, 0, len(regs))
	for _, reg := range regs {
		if t, ok := r.Get(reg.Name); ok {
			defs = append(defs, ToDefinition(t))
		}
	}
	return defs
}

func sortByPriorityDesc(regs []types.ToolRegistration) {
	for i := 1; i < len(regs); i++ {
		for j := i; j > 0 && regs[j].Priority > regs[j-1].Priority; j-- {
			regs[j], regs[j-1] = regs[j-1], regs[j]
		}
	}
}

// sortByPriorityThenName orders by priority desc, then name asc, per
// spec §4.F's list() ordering.
func sortByPriorityThenName(regs []types.ToolRegistration) {
	for i := 1; i < len(regs); i++ {
		for j := i; j > 0; j-- {
			a, b := regs[j], regs[j-1]
			less := a.Priority > b.Priority || (a.Priority == b.Priority && a.Name < b.Name)
			if !less {
				break
			}
			regs[j], regs[j-1] = regs[j-1], regs[j]
		}
	}
}
