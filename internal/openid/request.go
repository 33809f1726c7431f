package openid

import (
	"errors"
	"math/big"
)

// Request modes
const (
	ModeCheckIDSetup     = "checkid_setup"
	ModeCheckIDImmediate = "checkid_immediate"
	ModeAssociate        = "associate"
	ModeCheckAuth        = "check_authentication"
)

// Request is a decoded OpenID request
type Request interface {
	Mode() string
	Namespace() string
}

// CheckIDRequest asks the provider to assert an identity to a relying party.
// It survives a JSON round trip so it can be parked while the user decides.
type CheckIDRequest struct {
	Immediate   bool     `json:"immediate"`
	Identity    string   `json:"identity"`
	ClaimedID   string   `json:"claimed_id"`
	TrustRoot   string   `json:"trust_root"`
	ReturnTo    string   `json:"return_to,omitempty"`
	AssocHandle string   `json:"assoc_handle,omitempty"`
	Endpoint    string   `json:"op_endpoint"`
	Message     *Message `json:"message"`
}

func (r *CheckIDRequest) Mode() string {
	if r.Immediate {
		return ModeCheckIDImmediate
	}
	return ModeCheckIDSetup
}

func (r *CheckIDRequest) Namespace() string {
	if r.Message == nil {
		return NS11
	}
	return r.Message.Namespace()
}

// IDSelect reports whether the relying party lets the provider pick the identifier
func (r *CheckIDRequest) IDSelect() bool {
	return r.Identity == IdentifierSelect
}

// TrustRootIsSane reports whether the realm is safe to present without a warning
func (r *CheckIDRequest) TrustRootIsSane() bool {
	tr, err := ParseTrustRoot(r.TrustRoot)
	return err == nil && tr.IsSane()
}

// ErrIdentityRequired is returned when an identifier_select request is
// approved without choosing an identity
var ErrIdentityRequired = errors.New("openid: identifier_select requests need an identity to answer")

// Answer builds the response to this request. A positive answer to an
// identifier_select request asserts identity; other requests echo the
// identifier they asked for. A negative answer in immediate mode tells the
// relying party that setup is required; in setup mode it cancels.
func (r *CheckIDRequest) Answer(allow bool, identity string) (*Response, error) {
	ns := r.Namespace()
	fields := NewMessage(ns)
	resp := &Response{Request: r, Fields: fields}

	if !allow {
		switch {
		case !r.Immediate:
			fields.Set("mode", "cancel")
		case ns == NS2:
			fields.Set("mode", "setup_needed")
		default:
			setupURL, err := r.SetupURL()
			if err != nil {
				return nil, err
			}
			fields.Set("mode", "id_res")
			fields.Set("user_setup_url", setupURL)
		}
		return resp, nil
	}

	fields.Set("mode", "id_res")
	if ns == NS2 {
		fields.Set("op_endpoint", r.Endpoint)
	}
	if r.IDSelect() {
		if identity == "" {
			return nil, ErrIdentityRequired
		}
		fields.Set("identity", identity)
		if ns == NS2 {
			fields.Set("claimed_id", identity)
		}
	} else {
		fields.Set("identity", r.Identity)
		if ns == NS2 {
			fields.Set("claimed_id", r.ClaimedID)
		}
	}
	if r.ReturnTo != "" {
		fields.Set("return_to", r.ReturnTo)
	}
	return resp, nil
}

// SetupURL returns the endpoint URL that restarts this request in setup mode
func (r *CheckIDRequest) SetupURL() (string, error) {
	m := r.Message.Copy()
	m.Set("mode", ModeCheckIDSetup)
	return m.ToURL(r.Endpoint)
}

// AssociateRequest negotiates a shared association
type AssociateRequest struct {
	AssocType      string
	SessionType    string
	Modulus        *big.Int
	Generator      *big.Int
	ConsumerPublic *big.Int
	Message        *Message
}

func (r *AssociateRequest) Mode() string      { return ModeAssociate }
func (r *AssociateRequest) Namespace() string { return r.Message.Namespace() }

// CheckAuthRequest asks the provider to verify a signature it made with a
// private association
type CheckAuthRequest struct {
	AssocHandle      string
	InvalidateHandle string
	// Signed is the message as it was signed, with mode id_res
	Signed  *Message
	Message *Message
}

func (r *CheckAuthRequest) Mode() string      { return ModeCheckAuth }
func (r *CheckAuthRequest) Namespace() string { return r.Message.Namespace() }
