// Package exporter defines the outbound campaign-tool interface and a
// registry keyed by tool name.
package exporter

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/DavidSuperwave/leadengine/internal/leads"
)

// Exporter pushes leads into an outbound campaign tool.
type Exporter interface {
	// PushLeads adds rows to the named campaign and returns how many
	// the tool accepted.
	PushLeads(ctx context.Context, campaignID string, rows []leads.Lead) (int, error)
}

// Registry maps tool names to exporters.
type Registry struct {
	tools map[string]Exporter
}

// NewRegistry builds a registry from the provided tools. Nil entries
// are skipped so unconfigured tools simply stay unknown.
func NewRegistry(tools map[string]Exporter) *Registry {
	reg := &Registry{tools: make(map[string]Exporter, len(tools))}
	for name, tool := range tools {
		if tool == nil {
			continue
		}
		reg.tools[strings.ToLower(name)] = tool
	}
	return reg
}

// Lookup returns the exporter registered under name.
func (r *Registry) Lookup(name string) (Exporter, error) {
	tool, ok := r.tools[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown export tool %q (have %s)", name, strings.Join(r.Names(), ", "))
	}
	return tool, nil
}

// Names lists the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
