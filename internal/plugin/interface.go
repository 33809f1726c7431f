package plugin

import (
	"context"

	"github.com/go-chi/chi/v5"
)

// ProtocolPlugin is a protocol surface mounted by the core server
type ProtocolPlugin interface {
	// Info returns metadata about the plugin
	Info() PluginInfo

	Shutdown(ctx context.Context) error

	// RegisterRoutes mounts the plugin's handlers at the router root
	RegisterRoutes(router chi.Router)

	// GetFlowDefinitions describes the flows for the looking glass
	GetFlowDefinitions() []FlowDefinition
}

// PluginInfo contains metadata about a protocol plugin
type PluginInfo struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Specs       []string `json:"specs"`
}

// FlowDefinition describes a protocol flow for visualization
type FlowDefinition struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Steps       []FlowStep `json:"steps"`
}

// FlowStep represents a single step in a protocol flow
type FlowStep struct {
	Order       int               `json:"order"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	From        string            `json:"from"`
	To          string            `json:"to"`
	Type        string            `json:"type"` // request, response, redirect, internal
	Parameters  map[string]string `json:"parameters,omitempty"`
	Security    []string          `json:"security,omitempty"`
}
