// Package openid2 is the HTTP surface of the identity provider: the OpenID
// endpoint, the trust decision page, login, identity pages and discovery
// documents.
package openid2

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/eldarion/identeco/internal/lookingglass"
	"github.com/eldarion/identeco/internal/plugin"
	"github.com/eldarion/identeco/internal/provider"
	"github.com/eldarion/identeco/internal/session"
	"github.com/eldarion/identeco/internal/users"
)

// Route paths relative to the base URL
const (
	PathXRDS     = "/xrds.xml"
	PathEndpoint = "/endpoint/"
	PathDecide   = "/decide/"
	PathLogin    = "/login"
	PathLogout   = "/logout"
)

// Config wires the plugin
type Config struct {
	// BaseURL is the absolute URL the routes are mounted under, without a trailing slash
	BaseURL  string
	Provider *provider.Provider
	Sessions *session.Manager
	Users    *users.Directory
	// LookingGlass is optional
	LookingGlass *lookingglass.Engine
	// ExtraEndpoints are advertised in XRDS documents after the local endpoint
	ExtraEndpoints []string
	Debug          bool
}

// Plugin serves the OpenID provider routes
type Plugin struct {
	baseURL        string
	provider       *provider.Provider
	sessions       *session.Manager
	users          *users.Directory
	lookingGlass   *lookingglass.Engine
	extraEndpoints []string
	debug          bool
	pages          map[string]*template.Template
}

// NewPlugin creates the plugin and parses its templates
func NewPlugin(cfg Config) (*Plugin, error) {
	if cfg.Provider == nil || cfg.Sessions == nil || cfg.Users == nil {
		return nil, fmt.Errorf("openid2: provider, sessions and users are required")
	}
	pages, err := loadPages()
	if err != nil {
		return nil, fmt.Errorf("openid2: parse templates: %w", err)
	}
	return &Plugin{
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		provider:       cfg.Provider,
		sessions:       cfg.Sessions,
		users:          cfg.Users,
		lookingGlass:   cfg.LookingGlass,
		extraEndpoints: cfg.ExtraEndpoints,
		debug:          cfg.Debug,
		pages:          pages,
	}, nil
}

// EndpointURL returns the absolute OP endpoint URL for baseURL
func EndpointURL(baseURL string) string {
	return strings.TrimSuffix(baseURL, "/") + PathEndpoint
}

// IdentityURL returns the absolute identity page URL of username under baseURL
func IdentityURL(baseURL, username string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + username + "/"
}

// Info returns the plugin information
func (p *Plugin) Info() plugin.PluginInfo {
	return plugin.PluginInfo{
		ID:          "openid2",
		Name:        "OpenID 2.0",
		Version:     "1.0.0",
		Description: "OpenID Authentication 2.0 identity provider with simple registration",
		Specs:       []string{"OpenID Authentication 2.0", "OpenID Simple Registration 1.1", "Yadis 1.0"},
	}
}

// Shutdown shuts down the plugin
func (p *Plugin) Shutdown(ctx context.Context) error {
	return nil
}

// RegisterRoutes registers the plugin's HTTP routes
func (p *Plugin) RegisterRoutes(router chi.Router) {
	// Discovery
	router.Get(PathXRDS, p.handleProviderXRDS)

	// Protocol endpoint, indirect requests arrive by GET or POST
	router.Get(PathEndpoint, p.handleEndpoint)
	router.Post(PathEndpoint, p.handleEndpoint)

	// Trust decision
	router.Get(PathDecide, p.handleDecide)
	router.Post(PathDecide, p.handleDecideSubmit)

	router.Get(PathLogin, p.handleLogin)
	router.Post(PathLogin, p.handleLoginSubmit)
	router.Post(PathLogout, p.handleLogout)

	// Identity pages
	router.Get("/{username}/", p.handleIdentity)
	router.Get("/{username}/xrds.xml", p.handleIdentityXRDS)
}

// GetFlowDefinitions returns the protocol's flow definitions
func (p *Plugin) GetFlowDefinitions() []plugin.FlowDefinition {
	return []plugin.FlowDefinition{
		{
			ID:          "checkid_setup",
			Name:        "Interactive Authentication",
			Description: "The relying party redirects the user to the endpoint. Trusted realms are answered at once; otherwise the user signs in and decides.",
			Steps: []plugin.FlowStep{
				{Order: 1, Name: "Discovery", From: "Relying Party", To: "Provider", Type: "request",
					Description: "The relying party fetches the XRDS document to find the endpoint.",
					Parameters:  map[string]string{"endpoint": PathXRDS}},
				{Order: 2, Name: "Authentication Request", From: "Relying Party", To: "Provider", Type: "redirect",
					Description: "checkid_setup with realm and return_to.",
					Parameters:  map[string]string{"openid.mode": "checkid_setup", "openid.realm": "trust root", "openid.return_to": "assertion URL"},
					Security:    []string{"return_to must match the realm"}},
				{Order: 3, Name: "Trust Decision", From: "User", To: "Provider", Type: "internal",
					Description: "The user allows or denies the realm, optionally remembering the choice.",
					Parameters:  map[string]string{"endpoint": PathDecide},
					Security:    []string{"Only approvals are remembered"}},
				{Order: 4, Name: "Assertion", From: "Provider", To: "Relying Party", Type: "redirect",
					Description: "Signed id_res, or cancel. Responses too long for a URL are POSTed by an auto-submitting form.",
					Security:    []string{"response_nonce prevents replay", "signed covers return_to"}},
			},
		},
		{
			ID:          "checkid_immediate",
			Name:        "Immediate Authentication",
			Description: "The relying party needs an answer without user interaction.",
			Steps: []plugin.FlowStep{
				{Order: 1, Name: "Authentication Request", From: "Relying Party", To: "Provider", Type: "redirect",
					Parameters: map[string]string{"openid.mode": "checkid_immediate"}},
				{Order: 2, Name: "Answer", From: "Provider", To: "Relying Party", Type: "redirect",
					Description: "A positive assertion for trusted realms, setup_needed otherwise. The user is never prompted."},
			},
		},
		{
			ID:          "associate",
			Name:        "Association",
			Description: "The relying party negotiates a shared MAC key, optionally protected by Diffie-Hellman.",
			Steps: []plugin.FlowStep{
				{Order: 1, Name: "Associate Request", From: "Relying Party", To: "Provider", Type: "request",
					Parameters: map[string]string{"openid.assoc_type": "HMAC-SHA1 or HMAC-SHA256", "openid.session_type": "no-encryption, DH-SHA1 or DH-SHA256"}},
				{Order: 2, Name: "Associate Response", From: "Provider", To: "Relying Party", Type: "response",
					Description: "Key-value form carrying the handle, lifetime and the MAC key in clear or encrypted form.",
					Security:    []string{"no-encryption is only safe over TLS"}},
			},
		},
		{
			ID:          "check_authentication",
			Name:        "Direct Verification",
			Description: "A stateless relying party asks the provider to verify an assertion.",
			Steps: []plugin.FlowStep{
				{Order: 1, Name: "Verification Request", From: "Relying Party", To: "Provider", Type: "request",
					Parameters: map[string]string{"openid.mode": "check_authentication"}},
				{Order: 2, Name: "Verification Response", From: "Provider", To: "Relying Party", Type: "response",
					Description: "is_valid, true at most once per assertion.",
					Security:    []string{"The response nonce is recorded", "The private association is invalidated"}},
			},
		},
	}
}
