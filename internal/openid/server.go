package openid

import (
	"context"
	"encoding/base64"
	"net/url"
	"strconv"
	"time"

	"github.com/eldarion/identeco/internal/clock"
	"github.com/eldarion/identeco/internal/store"
)

// DefaultAssociationLifetime is how long negotiated and private associations live
const DefaultAssociationLifetime = 14 * 24 * time.Hour

// Store is the persistence the engine needs
type Store interface {
	store.AssociationStore
	store.NonceStore
}

// Server decodes, answers and encodes OpenID requests for one endpoint
type Server struct {
	store     Store
	endpoint  string
	clock     clock.Clock
	signatory *Signatory
}

// Option configures a Server
type Option func(*Server)

// WithClock overrides the time source
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
		s.signatory.clock = c
	}
}

// WithAssociationLifetime overrides DefaultAssociationLifetime
func WithAssociationLifetime(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.signatory.lifetime = d
		}
	}
}

// NewServer creates an engine answering at endpoint
func NewServer(st Store, endpoint string, opts ...Option) *Server {
	s := &Server{
		store:    st,
		endpoint: endpoint,
		clock:    clock.System{},
	}
	s.signatory = &Signatory{store: st, clock: s.clock, lifetime: DefaultAssociationLifetime}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DecodeRequest parses request arguments. It returns nil with a nil error
// when no OpenID arguments are present and a *ProtocolError when they do not
// form a valid request.
func (s *Server) DecodeRequest(args map[string]string) (Request, error) {
	msg, err := ParseArgs(args)
	if err != nil || msg == nil {
		return nil, err
	}

	var req Request
	switch mode := msg.Get("mode"); mode {
	case ModeCheckIDSetup, ModeCheckIDImmediate:
		r, err := s.decodeCheckID(msg, mode == ModeCheckIDImmediate)
		if err != nil {
			return nil, err
		}
		req = r
	case ModeAssociate:
		r, err := decodeAssociate(msg)
		if err != nil {
			return nil, err
		}
		req = r
	case ModeCheckAuth:
		r, err := decodeCheckAuth(msg)
		if err != nil {
			return nil, err
		}
		req = r
	case "":
		return nil, protocolErrorf(msg, "no mode value in message")
	default:
		return nil, protocolErrorf(msg, "unrecognized mode %q", mode)
	}
	return req, nil
}

func (s *Server) decodeCheckID(msg *Message, immediate bool) (*CheckIDRequest, error) {
	r := &CheckIDRequest{
		Immediate:   immediate,
		Identity:    msg.Get("identity"),
		ClaimedID:   msg.Get("claimed_id"),
		ReturnTo:    msg.Get("return_to"),
		AssocHandle: msg.Get("assoc_handle"),
		Endpoint:    s.endpoint,
		Message:     msg,
	}

	if msg.IsOpenID1() {
		if r.ReturnTo == "" {
			return nil, protocolErrorf(msg, "missing required field return_to")
		}
		if r.Identity == "" {
			return nil, protocolErrorf(msg, "missing required field identity")
		}
		r.ClaimedID = r.Identity
		r.TrustRoot = msg.Get("trust_root")
	} else {
		if (r.Identity == "") != (r.ClaimedID == "") {
			return nil, protocolErrorf(msg, "claimed_id and identity must be sent together")
		}
		if r.Identity == "" {
			return nil, protocolErrorf(msg, "requests without an identifier are not supported")
		}
		r.TrustRoot = msg.Get("realm")
		if r.ReturnTo == "" && r.TrustRoot == "" {
			return nil, protocolErrorf(msg, "one of return_to or realm is required")
		}
	}
	if r.TrustRoot == "" {
		r.TrustRoot = r.ReturnTo
	}

	if r.ReturnTo != "" {
		u, err := url.Parse(r.ReturnTo)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return nil, protocolErrorf(msg, "return_to %q does not look like a valid URL", r.ReturnTo)
		}
	}

	tr, err := ParseTrustRoot(r.TrustRoot)
	if err != nil {
		e := protocolErrorf(msg, "%v", err)
		e.ReturnTo = r.ReturnTo
		return nil, e
	}
	if r.ReturnTo != "" && !tr.Validate(r.ReturnTo) {
		e := protocolErrorf(msg, "return_to %q does not match trust root %q", r.ReturnTo, r.TrustRoot)
		e.ReturnTo = r.ReturnTo
		return nil, e
	}
	return r, nil
}

func directError(msg *Message, format string, args ...interface{}) *ProtocolError {
	e := protocolErrorf(msg, format, args...)
	e.Direct = true
	return e
}

func decodeAssociate(msg *Message) (*AssociateRequest, error) {
	r := &AssociateRequest{
		AssocType:   msg.Get("assoc_type"),
		SessionType: msg.Get("session_type"),
		Message:     msg,
	}
	if r.AssocType == "" {
		r.AssocType = AssocHMACSHA1
	}
	if r.SessionType == "" {
		if !msg.IsOpenID1() {
			return nil, directError(msg, "session_type missing from request")
		}
		r.SessionType = SessionNoEncryption
	}

	if _, dh := sessionHash(r.SessionType); !dh {
		return r, nil
	}

	pub := msg.Get("dh_consumer_public")
	if pub == "" {
		return nil, directError(msg, "dh_consumer_public missing from request")
	}
	var err error
	if r.ConsumerPublic, err = ParseBtwoc(pub); err != nil {
		return nil, directError(msg, "invalid dh_consumer_public: %v", err)
	}
	if v := msg.Get("dh_modulus"); v != "" {
		if r.Modulus, err = ParseBtwoc(v); err != nil {
			return nil, directError(msg, "invalid dh_modulus: %v", err)
		}
	}
	if v := msg.Get("dh_gen"); v != "" {
		if r.Generator, err = ParseBtwoc(v); err != nil {
			return nil, directError(msg, "invalid dh_gen: %v", err)
		}
	}
	return r, nil
}

func decodeCheckAuth(msg *Message) (*CheckAuthRequest, error) {
	r := &CheckAuthRequest{
		AssocHandle:      msg.Get("assoc_handle"),
		InvalidateHandle: msg.Get("invalidate_handle"),
		Message:          msg,
	}
	if r.AssocHandle == "" || msg.Get("sig") == "" || msg.Get("signed") == "" {
		return nil, directError(msg, "check_authentication requires assoc_handle, sig and signed")
	}
	r.Signed = msg.Copy()
	r.Signed.Set("mode", "id_res")
	return r, nil
}

// HandleRequest answers associate and check_authentication requests.
// Checkid requests return ErrCheckIDNotHandled.
func (s *Server) HandleRequest(ctx context.Context, req Request) (*Response, error) {
	switch r := req.(type) {
	case *AssociateRequest:
		return s.associate(ctx, r)
	case *CheckAuthRequest:
		return s.checkAuth(ctx, r)
	case *CheckIDRequest:
		return nil, ErrCheckIDNotHandled
	default:
		return nil, &ProtocolError{Text: "unsupported request", Direct: true}
	}
}

func (s *Server) associate(ctx context.Context, r *AssociateRequest) (*Response, error) {
	fields := NewMessage(r.Namespace())
	resp := &Response{Request: r, Fields: fields}

	_, _, known := assocHash(r.AssocType)
	if !known || !sessionMatches(r.AssocType, r.SessionType) {
		fields.Set("mode", "error")
		fields.Set("error", "unsupported association or session type")
		if !r.Message.IsOpenID1() {
			fields.Set("error_code", "unsupported-type")
			fields.Set("assoc_type", AssocHMACSHA256)
			fields.Set("session_type", SessionDHSHA256)
		}
		return resp, nil
	}

	assoc, err := s.signatory.Create(ctx, r.AssocType, false)
	if err != nil {
		return nil, err
	}

	fields.Set("assoc_type", assoc.Type)
	fields.Set("assoc_handle", assoc.Handle)
	fields.Set("expires_in", strconv.FormatInt(int64(assoc.ExpiresIn(s.clock.Now())/time.Second), 10))
	if !r.Message.IsOpenID1() || r.SessionType != SessionNoEncryption {
		fields.Set("session_type", r.SessionType)
	}

	h, dh := sessionHash(r.SessionType)
	if !dh {
		fields.Set("mac_key", base64.StdEncoding.EncodeToString(assoc.Secret))
		return resp, nil
	}

	kx, err := NewDiffieHellman(r.Modulus, r.Generator)
	if err != nil {
		return nil, directError(r.Message, "invalid dh parameters: %v", err)
	}
	enc, err := kx.XORSecret(r.ConsumerPublic, assoc.Secret, h)
	if err != nil {
		return nil, directError(r.Message, "key exchange failed: %v", err)
	}
	fields.Set("dh_server_public", encodeBtwoc(kx.Public))
	fields.Set("enc_mac_key", base64.StdEncoding.EncodeToString(enc))
	return resp, nil
}

func (s *Server) checkAuth(ctx context.Context, r *CheckAuthRequest) (*Response, error) {
	valid, err := s.signatory.Verify(ctx, r.AssocHandle, r.Signed)
	if err != nil {
		return nil, err
	}

	if valid && !r.Message.IsOpenID1() {
		ts, salt, err := SplitNonce(r.Signed.Get("response_nonce"))
		if err != nil {
			valid = false
		} else if valid, err = s.store.UseNonce(ctx, s.endpoint, ts, salt); err != nil {
			return nil, err
		}
	}

	// a private association verifies at most one assertion
	if err := s.signatory.Invalidate(ctx, r.AssocHandle, true); err != nil {
		return nil, err
	}

	fields := NewMessage(r.Namespace())
	fields.Set("is_valid", strconv.FormatBool(valid))
	if r.InvalidateHandle != "" {
		shared, err := s.signatory.Get(ctx, r.InvalidateHandle, false)
		if err != nil {
			return nil, err
		}
		if shared == nil {
			fields.Set("invalidate_handle", r.InvalidateHandle)
		}
	}
	return &Response{Request: r, Fields: fields}, nil
}

// EncodeResponse signs assertions and renders the response for HTTP.
// Indirect responses redirect to return_to, or POST through a form when the
// URL would exceed URLLimit; direct responses are key-value form.
func (s *Server) EncodeResponse(ctx context.Context, resp *Response) (*WebResponse, error) {
	fields := resp.Fields.Copy()

	if resp.NeedsSigning() {
		req := resp.Request.(*CheckIDRequest)
		if !fields.IsOpenID1() && fields.Get("response_nonce") == "" {
			nonce, err := MakeNonce(s.clock.Now())
			if err != nil {
				return nil, err
			}
			fields.Set("response_nonce", nonce)
		}
		if err := s.signatory.Sign(ctx, fields, req.AssocHandle); err != nil {
			return nil, err
		}
	}

	if !resp.Indirect() {
		return kvResponse(fields), nil
	}

	req := resp.Request.(*CheckIDRequest)
	if req.ReturnTo == "" {
		return nil, &EncodingError{Response: resp, Reason: "request has no return_to"}
	}
	location, err := fields.ToURL(req.ReturnTo)
	if err != nil {
		return nil, &EncodingError{Response: resp, Reason: err.Error()}
	}
	if !fields.IsOpenID1() && len(location) > URLLimit {
		return formResponse(req.ReturnTo, fields)
	}
	return redirectResponse(location), nil
}
