// Package provider decides how each checkid request is answered: silently
// approved for trusted relying parties, refused in immediate mode, or parked
// until the user makes an explicit choice.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/eldarion/identeco/internal/openid"
	"github.com/eldarion/identeco/internal/session"
	"github.com/eldarion/identeco/internal/store"
)

// ErrNoPendingRequest is returned when a decision arrives for a session with
// no parked request, typically because the session expired
var ErrNoPendingRequest = errors.New("no pending OpenID request for this session")

// ErrLoginRequired is returned when a decision is attempted anonymously
var ErrLoginRequired = errors.New("a signed-in user is required")

// Engine is the OpenID protocol engine
type Engine interface {
	DecodeRequest(args map[string]string) (openid.Request, error)
	HandleRequest(ctx context.Context, req openid.Request) (*openid.Response, error)
	EncodeResponse(ctx context.Context, resp *openid.Response) (*openid.WebResponse, error)
}

// ProfileSource supplies SREG data for a user
type ProfileSource interface {
	Profile(ctx context.Context, userID string) (map[string]string, error)
}

// User is the signed-in user; nil means anonymous
type User struct {
	ID       string
	Username string
}

// State is where a request ended up after HandleRequest
type State int

const (
	// StateEmpty means the request carried no OpenID arguments
	StateEmpty State = iota
	// StateAnsweredImmediate means a checkid request was answered without asking the user
	StateAnsweredImmediate
	// StateNeedsDecision means a checkid_setup request was parked for the user
	StateNeedsDecision
	// StateAnsweredOther means a non-checkid request was answered by the engine
	StateAnsweredOther
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAnsweredImmediate:
		return "answered_immediate"
	case StateNeedsDecision:
		return "needs_decision"
	case StateAnsweredOther:
		return "answered_other"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome is the result of handling a request
type Outcome struct {
	State State
	// Response is set for the answered states
	Response *openid.Response
	// Request is set for checkid requests
	Request *openid.CheckIDRequest
}

// Decision is a user's explicit answer on the trust page
type Decision struct {
	Allow    bool
	Remember bool
}

// Config wires a Provider
type Config struct {
	Engine    Engine
	Trust     store.TrustRegistry
	Pending   session.PendingStore
	Profiles  ProfileSource
	Allowlist *Allowlist
	// IdentityURL returns the identity page URI of a username
	IdentityURL func(username string) string
}

// Provider runs the checkid state machine
type Provider struct {
	engine      Engine
	trust       store.TrustRegistry
	pending     session.PendingStore
	profiles    ProfileSource
	allowlist   *Allowlist
	identityURL func(string) string
}

// New creates a Provider
func New(cfg Config) *Provider {
	return &Provider{
		engine:      cfg.Engine,
		trust:       cfg.Trust,
		pending:     cfg.Pending,
		profiles:    cfg.Profiles,
		allowlist:   cfg.Allowlist,
		identityURL: cfg.IdentityURL,
	}
}

// IdentityURL returns the identity URI asserted for user
func (p *Provider) IdentityURL(user *User) string {
	return p.identityURL(user.Username)
}

// HandleRequest decodes and classifies an endpoint request. Decoding
// failures are returned as the engine's *openid.ProtocolError. A
// checkid_setup request that cannot be answered silently is parked under
// sessionKey.
func (p *Provider) HandleRequest(ctx context.Context, args map[string]string, user *User, sessionKey string) (*Outcome, error) {
	req, err := p.engine.DecodeRequest(args)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return &Outcome{State: StateEmpty}, nil
	}

	checkid, ok := req.(*openid.CheckIDRequest)
	if !ok {
		resp, err := p.engine.HandleRequest(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Outcome{State: StateAnsweredOther, Response: resp}, nil
	}

	// the user cannot vouch for someone else's identifier
	if user != nil && !p.canAssert(checkid, user) {
		return p.answered(ctx, checkid, user, false)
	}

	trusted, err := p.isTrusted(ctx, checkid, user)
	if err != nil {
		return nil, err
	}
	if trusted {
		return p.answered(ctx, checkid, user, true)
	}
	if checkid.Immediate {
		return p.answered(ctx, checkid, user, false)
	}

	if sessionKey == "" {
		return nil, errors.New("provider: a session key is required to park a request")
	}
	if err := p.pending.Put(ctx, sessionKey, checkid); err != nil {
		return nil, err
	}
	return &Outcome{State: StateNeedsDecision, Request: checkid}, nil
}

// Pending returns the request parked for the session
func (p *Provider) Pending(ctx context.Context, sessionKey string) (*openid.CheckIDRequest, error) {
	if sessionKey == "" {
		return nil, ErrNoPendingRequest
	}
	req, found, err := p.pending.Get(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoPendingRequest
	}
	return req, nil
}

// Resume re-evaluates a parked request once the user is signed in. It is
// answered at once if the relying party became trusted in the meantime or
// the user cannot assert the requested identifier; otherwise it still needs
// a decision.
func (p *Provider) Resume(ctx context.Context, sessionKey string, user *User) (*Outcome, error) {
	if user == nil {
		return nil, ErrLoginRequired
	}
	req, err := p.Pending(ctx, sessionKey)
	if err != nil {
		return nil, err
	}

	allow := false
	if p.canAssert(req, user) {
		trusted, err := p.isTrusted(ctx, req, user)
		if err != nil {
			return nil, err
		}
		if !trusted {
			return &Outcome{State: StateNeedsDecision, Request: req}, nil
		}
		allow = true
	}

	out, err := p.answered(ctx, req, user, allow)
	if err != nil {
		return nil, err
	}
	if err := p.pending.Delete(ctx, sessionKey); err != nil {
		return nil, err
	}
	return out, nil
}

// Decide applies the user's choice to the parked request. An allow with
// Remember records the relying party as always trusted; denials are never
// stored.
func (p *Provider) Decide(ctx context.Context, sessionKey string, user *User, d Decision) (*openid.Response, error) {
	if user == nil {
		return nil, ErrLoginRequired
	}
	req, err := p.Pending(ctx, sessionKey)
	if err != nil {
		return nil, err
	}

	allow := d.Allow && p.canAssert(req, user)
	if allow && d.Remember {
		if err := p.trust.SetTrust(ctx, user.ID, req.TrustRoot, true); err != nil {
			return nil, err
		}
	}

	resp, err := p.answer(ctx, req, user, allow)
	if err != nil {
		return nil, err
	}
	if err := p.pending.Delete(ctx, sessionKey); err != nil {
		return nil, err
	}
	return resp, nil
}

// TransferPending moves a parked request to a new session key, for example
// after the session ID is rotated on login
func (p *Provider) TransferPending(ctx context.Context, from, to string) error {
	if from == "" || from == to {
		return nil
	}
	req, found, err := p.pending.Get(ctx, from)
	if err != nil || !found {
		return err
	}
	if err := p.pending.Put(ctx, to, req); err != nil {
		return err
	}
	return p.pending.Delete(ctx, from)
}

// Encode hands a response to the engine's encoder
func (p *Provider) Encode(ctx context.Context, resp *openid.Response) (*openid.WebResponse, error) {
	return p.engine.EncodeResponse(ctx, resp)
}

// isTrusted reports whether the request would be approved without asking
func (p *Provider) isTrusted(ctx context.Context, req *openid.CheckIDRequest, user *User) (bool, error) {
	if user == nil {
		return false, nil
	}
	if p.allowlist.Trusts(req.TrustRoot) {
		return true, nil
	}
	always, found, err := p.trust.GetTrust(ctx, user.ID, req.TrustRoot)
	if err != nil {
		return false, err
	}
	return found && always, nil
}

// canAssert reports whether the user owns the identifier the request names
func (p *Provider) canAssert(req *openid.CheckIDRequest, user *User) bool {
	if req.IDSelect() {
		return true
	}
	own := strings.TrimSuffix(p.identityURL(user.Username), "/")
	return strings.TrimSuffix(req.Identity, "/") == own
}

func (p *Provider) answered(ctx context.Context, req *openid.CheckIDRequest, user *User, allow bool) (*Outcome, error) {
	resp, err := p.answer(ctx, req, user, allow)
	if err != nil {
		return nil, err
	}
	return &Outcome{State: StateAnsweredImmediate, Response: resp, Request: req}, nil
}

// answer builds the protocol answer, attaching SREG data to approvals
func (p *Provider) answer(ctx context.Context, req *openid.CheckIDRequest, user *User, allow bool) (*openid.Response, error) {
	if !allow {
		return req.Answer(false, "")
	}

	resp, err := req.Answer(true, p.identityURL(user.Username))
	if err != nil {
		return nil, err
	}

	sreg := openid.SRegRequestFrom(req)
	if sreg == nil {
		return resp, nil
	}
	data := map[string]string{"nickname": user.Username}
	if p.profiles != nil {
		profile, err := p.profiles.Profile(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		for k, v := range profile {
			data[k] = v
		}
	}
	openid.AddSRegResponse(resp, sreg, data)
	return resp, nil
}
