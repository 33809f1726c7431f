package openid2

import (
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/eldarion/identeco/internal/lookingglass"
	"github.com/eldarion/identeco/internal/openid"
	"github.com/eldarion/identeco/internal/provider"
	"github.com/eldarion/identeco/internal/store"
	"github.com/eldarion/identeco/pkg/models"
)

const (
	lookingGlassHeader = "X-Looking-Glass-Session"
	lookingGlassQuery  = "lg_session"
)

// getSessionFromRequest extracts the looking glass session ID from request headers or query params
func getSessionFromRequest(r *http.Request) string {
	if sessionID := r.Header.Get(lookingGlassHeader); sessionID != "" {
		return sessionID
	}
	return r.URL.Query().Get(lookingGlassQuery)
}

func (p *Plugin) events(r *http.Request) *lookingglass.EventBroadcaster {
	return p.lookingGlass.NewEventBroadcaster(getSessionFromRequest(r))
}

// withSession carries the looking glass session across a redirect
func withSession(path string, r *http.Request, extra url.Values) string {
	q := url.Values{}
	for k, v := range extra {
		q[k] = v
	}
	if id := getSessionFromRequest(r); id != "" {
		q.Set(lookingGlassQuery, id)
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// requestArgs flattens query (GET) or form (POST) arguments
func requestArgs(r *http.Request) (map[string]string, error) {
	values := r.URL.Query()
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		values = r.PostForm
	}
	args := make(map[string]string, len(values))
	for k := range values {
		args[k] = values.Get(k)
	}
	return args, nil
}

// currentUser returns the signed-in user of the session, or nil
func (p *Plugin) currentUser(sess *models.Session) *provider.User {
	if sess == nil || !sess.Authenticated() {
		return nil
	}
	u, ok := p.users.Get(sess.UserID)
	if !ok {
		return nil
	}
	return &provider.User{ID: u.ID, Username: u.Username}
}

// safeNext accepts only local absolute paths
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}
	return next
}

func (p *Plugin) endpoints() []string {
	return append([]string{EndpointURL(p.baseURL)}, p.extraEndpoints...)
}

// Endpoint - GET/POST
func (p *Plugin) handleEndpoint(w http.ResponseWriter, r *http.Request) {
	sess, err := p.sessions.Start(w, r)
	if err != nil {
		p.renderFailure(w, r, err)
		return
	}
	args, err := requestArgs(r)
	if err != nil {
		p.renderError(w, http.StatusBadRequest, "Malformed request body", "")
		return
	}

	lg := p.events(r)
	out, err := p.provider.HandleRequest(r.Context(), args, p.currentUser(sess), sess.ID)
	if err != nil {
		lg.Emit(lookingglass.EventTypeSecurityWarning, "Request Rejected", map[string]interface{}{
			"error": err.Error(),
			"mode":  args["openid.mode"],
		}, lookingglass.ModeAnnotations("error")...)
		p.renderFailure(w, r, err)
		return
	}

	switch out.State {
	case provider.StateEmpty:
		w.Header().Set("X-XRDS-Location", p.baseURL+PathXRDS)
		p.render(w, http.StatusOK, "empty", emptyPage{
			Endpoint: EndpointURL(p.baseURL),
			XRDSURL:  p.baseURL + PathXRDS,
		})

	case provider.StateNeedsDecision:
		lg.EmitRequest(out.Request.Mode(), args)
		lg.EmitFlowStep(2, "Trust Decision Required", "Provider", "User", map[string]interface{}{
			"trust_root": out.Request.TrustRoot,
		})
		p.logDecision(out.Request, "needs decision")
		http.Redirect(w, r, withSession(PathDecide, r, nil), http.StatusFound)

	case provider.StateAnsweredImmediate:
		lg.EmitRequest(out.Request.Mode(), args)
		outcome := "deny"
		if out.Response.IsPositive() {
			outcome = "allow"
		}
		lg.EmitTrustDecision(out.Request.TrustRoot, outcome, false)
		p.logDecision(out.Request, outcome)
		p.writeResponse(w, r, out.Response)

	default:
		lg.EmitRequest(out.Response.Request.Mode(), args)
		p.writeResponse(w, r, out.Response)
	}
}

// Decide - GET
func (p *Plugin) handleDecide(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Load(r)
	user := p.currentUser(sess)
	if user == nil {
		p.redirectToLogin(w, r, PathDecide)
		return
	}

	out, err := p.provider.Resume(r.Context(), sess.ID, user)
	if err != nil {
		p.renderFailure(w, r, err)
		return
	}
	if out.State != provider.StateNeedsDecision {
		outcome := "deny"
		if out.Response.IsPositive() {
			outcome = "allow"
		}
		p.events(r).EmitTrustDecision(out.Request.TrustRoot, outcome, false)
		p.logDecision(out.Request, outcome)
		p.writeResponse(w, r, out.Response)
		return
	}
	p.renderDecide(w, r, sess, user, out.Request)
}

func (p *Plugin) renderDecide(w http.ResponseWriter, r *http.Request, sess *models.Session, user *provider.User, req *openid.CheckIDRequest) {
	identity := req.Identity
	if req.IDSelect() {
		identity = p.provider.IdentityURL(user)
	}
	page := decidePage{
		Action:       withSession(PathDecide, r, nil),
		LogoutAction: PathLogout,
		CSRF:         p.sessions.CSRFToken(sess),
		TrustRoot:    req.TrustRoot,
		Sane:         req.TrustRootIsSane(),
		Username:     user.Username,
		Identity:     identity,
	}
	if sreg := openid.SRegRequestFrom(req); sreg != nil && sreg.WereFieldsRequested() {
		page.SReg = &sregView{Required: sreg.Required, Optional: sreg.Optional, PolicyURL: sreg.PolicyURL}
	}
	p.render(w, http.StatusOK, "decide", page)
}

// Decide - POST
func (p *Plugin) handleDecideSubmit(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Load(r)
	user := p.currentUser(sess)
	if user == nil {
		p.redirectToLogin(w, r, PathDecide)
		return
	}
	if err := r.ParseForm(); err != nil {
		p.renderError(w, http.StatusBadRequest, "Malformed request body", "")
		return
	}
	if !p.sessions.VerifyCSRF(sess, r.PostForm.Get("csrf_token")) {
		p.renderError(w, http.StatusForbidden, "The form has expired. Return to the site you were signing in to and try again.", "")
		return
	}

	pending, err := p.provider.Pending(r.Context(), sess.ID)
	if err != nil {
		p.renderFailure(w, r, err)
		return
	}
	if r.PostForm.Get("trust_root") != pending.TrustRoot {
		p.renderError(w, http.StatusBadRequest, "The decision does not match the pending request.", "")
		return
	}

	d := provider.Decision{
		Allow:    r.PostForm.Get("allow") != "",
		Remember: r.PostForm.Get("always_trust") != "",
	}
	resp, err := p.provider.Decide(r.Context(), sess.ID, user, d)
	if err != nil {
		p.renderFailure(w, r, err)
		return
	}

	outcome := "deny"
	if resp.IsPositive() {
		outcome = "allow"
	}
	p.events(r).EmitTrustDecision(pending.TrustRoot, outcome, d.Allow && d.Remember && resp.IsPositive())
	p.logDecision(pending, outcome)
	p.writeResponse(w, r, resp)
}

func (p *Plugin) redirectToLogin(w http.ResponseWriter, r *http.Request, next string) {
	http.Redirect(w, r, PathLogin+"?"+url.Values{"next": {withSession(next, r, nil)}}.Encode(), http.StatusFound)
}

// Login - GET
func (p *Plugin) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess, err := p.sessions.Start(w, r)
	if err != nil {
		p.renderFailure(w, r, err)
		return
	}
	p.render(w, http.StatusOK, "login", loginPage{
		Action:   PathLogin,
		CSRF:     p.sessions.CSRFToken(sess),
		Next:     safeNext(r.URL.Query().Get("next")),
		Username: sess.Username,
	})
}

// Login - POST
func (p *Plugin) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		p.renderError(w, http.StatusBadRequest, "Malformed request body", "")
		return
	}
	next := safeNext(r.PostForm.Get("next"))
	username := strings.TrimSpace(r.PostForm.Get("username"))

	sess := p.sessions.Load(r)
	if !p.sessions.VerifyCSRF(sess, r.PostForm.Get("csrf_token")) {
		fresh, err := p.sessions.Start(w, r)
		if err != nil {
			p.renderFailure(w, r, err)
			return
		}
		p.render(w, http.StatusForbidden, "login", loginPage{
			Action: PathLogin, CSRF: p.sessions.CSRFToken(fresh), Next: next, Username: username,
			Error: "Your session expired. Please sign in again.",
		})
		return
	}

	user, err := p.users.Authenticate(username, r.PostForm.Get("password"))
	if err != nil {
		p.render(w, http.StatusUnauthorized, "login", loginPage{
			Action: PathLogin, CSRF: p.sessions.CSRFToken(sess), Next: next, Username: username,
			Error: "Invalid username or password.",
		})
		return
	}

	rotated, err := p.sessions.Rotate(w, user)
	if err != nil {
		p.renderFailure(w, r, err)
		return
	}
	if err := p.provider.TransferPending(r.Context(), sess.ID, rotated.ID); err != nil {
		p.renderFailure(w, r, err)
		return
	}
	if p.debug {
		log.Printf("[OpenID] %s signed in", user.Username)
	}

	if next == "" {
		next = "/" + user.Username + "/"
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

// Logout - POST
func (p *Plugin) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := p.sessions.Load(r)
	if err := r.ParseForm(); err != nil || !p.sessions.VerifyCSRF(sess, r.PostForm.Get("csrf_token")) {
		p.renderError(w, http.StatusForbidden, "The form has expired.", "")
		return
	}
	if _, err := p.sessions.Rotate(w, nil); err != nil {
		p.renderFailure(w, r, err)
		return
	}
	http.Redirect(w, r, PathLogin, http.StatusSeeOther)
}

// wantsXRDS reports whether a Yadis client asked for the XRDS document
func wantsXRDS(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), openid.ContentTypeXRDS)
}

// Identity page - GET
func (p *Plugin) handleIdentity(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if _, ok := p.users.Lookup(username); !ok {
		p.renderError(w, http.StatusNotFound, "No such identity", "")
		return
	}
	if wantsXRDS(r) {
		p.handleIdentityXRDS(w, r)
		return
	}

	identity := IdentityURL(p.baseURL, username)
	w.Header().Set("X-XRDS-Location", identity+"xrds.xml")
	p.render(w, http.StatusOK, "identity", identityPage{
		Username: username,
		Endpoint: EndpointURL(p.baseURL),
		Identity: identity,
		XRDSURL:  identity + "xrds.xml",
	})
}

// Provider XRDS - GET
func (p *Plugin) handleProviderXRDS(w http.ResponseWriter, r *http.Request) {
	p.writeXRDS(w, openid.NewProviderXRDS(p.endpoints()))
}

// Identity XRDS - GET
func (p *Plugin) handleIdentityXRDS(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if _, ok := p.users.Lookup(username); !ok {
		http.NotFound(w, r)
		return
	}
	p.writeXRDS(w, openid.NewIdentityXRDS(p.endpoints(), IdentityURL(p.baseURL, username)))
}

func (p *Plugin) writeXRDS(w http.ResponseWriter, doc *openid.XRDS) {
	body, err := doc.Marshal()
	if err != nil {
		log.Printf("[OpenID] marshal xrds: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", openid.ContentTypeXRDS)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// writeResponse encodes a protocol response onto the wire
func (p *Plugin) writeResponse(w http.ResponseWriter, r *http.Request, resp *openid.Response) {
	wr, err := p.provider.Encode(r.Context(), resp)
	if err != nil {
		p.renderFailure(w, r, err)
		return
	}

	lg := p.events(r)
	delivery := "kv"
	switch {
	case wr.Code == http.StatusFound:
		delivery = "redirect"
	case resp.Indirect():
		delivery = "form"
	}
	lg.EmitResponse(resp.Mode(), wr.Code, delivery)
	if resp.IsPositive() && resp.Indirect() {
		lg.Emit(lookingglass.EventTypeAssertionIssued, "Positive Assertion Signed", map[string]interface{}{
			"identity":  resp.Fields.Get("identity"),
			"return_to": resp.Fields.Get("return_to"),
		}, lookingglass.FieldAnnotations("response_nonce")...)
	}
	if resp.Request.Mode() == openid.ModeAssociate && resp.Fields.Get("assoc_handle") != "" {
		lg.Emit(lookingglass.EventTypeAssociationCreated, "Association Established", map[string]interface{}{
			"assoc_type":   resp.Fields.Get("assoc_type"),
			"session_type": resp.Fields.Get("session_type"),
			"expires_in":   resp.Fields.Get("expires_in"),
		}, lookingglass.ModeAnnotations(openid.ModeAssociate)...)
	}

	for k, v := range wr.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(wr.Code)
	w.Write(wr.Body)
}

func (p *Plugin) renderError(w http.ResponseWriter, status int, message, payload string) {
	p.render(w, status, "error", errorPage{Error: message, Payload: payload})
}

// renderFailure maps provider, engine and store errors to HTTP responses
func (p *Plugin) renderFailure(w http.ResponseWriter, r *http.Request, err error) {
	var protoErr *openid.ProtocolError
	var encErr *openid.EncodingError

	switch {
	case errors.As(err, &protoErr):
		if protoErr.Direct {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusBadRequest)
			w.Write(protoErr.KVForm())
			return
		}
		p.renderError(w, http.StatusBadRequest, protoErr.Text, "")
	case errors.As(err, &encErr):
		p.renderError(w, http.StatusBadRequest, encErr.Reason, string(encErr.KVForm()))
	case errors.Is(err, provider.ErrNoPendingRequest):
		p.renderError(w, http.StatusBadRequest, "There is no pending OpenID request for this session. Return to the site you were signing in to and try again.", "")
	case errors.Is(err, store.ErrUnavailable):
		log.Printf("[OpenID] %s %s: %v", r.Method, r.URL.Path, err)
		p.renderError(w, http.StatusServiceUnavailable, "The identity provider is temporarily unavailable. Please try again later.", "")
	default:
		log.Printf("[OpenID] %s %s: %v", r.Method, r.URL.Path, err)
		p.renderError(w, http.StatusInternalServerError, "Internal error", "")
	}
}

func (p *Plugin) logDecision(req *openid.CheckIDRequest, outcome string) {
	if p.debug {
		log.Printf("[OpenID] %s for %s: %s", req.Mode(), req.TrustRoot, outcome)
	}
}
