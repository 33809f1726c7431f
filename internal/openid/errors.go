package openid

import (
	"errors"
	"fmt"
)

// ProtocolError reports a request that could not be decoded or is not valid
// OpenID. When the request named a return_to, the relying party can be told
// about the failure there.
type ProtocolError struct {
	Text string
	// ReturnTo is set for indirect requests that carried a usable return_to
	ReturnTo string
	// Direct is set for requests made server-to-server
	Direct bool
	// Namespace of the failing message, NS11 when unknown
	Namespace string
}

func (e *ProtocolError) Error() string {
	return "openid: " + e.Text
}

// Message returns the error as a protocol message
func (e *ProtocolError) Message() *Message {
	ns := e.Namespace
	if ns == "" {
		ns = NS11
	}
	m := NewMessage(ns)
	m.Set("mode", "error")
	m.Set("error", e.Text)
	return m
}

// KVForm returns the error encoded for a direct response
func (e *ProtocolError) KVForm() []byte {
	return e.Message().KVForm()
}

func protocolErrorf(msg *Message, format string, args ...interface{}) *ProtocolError {
	e := &ProtocolError{Text: fmt.Sprintf(format, args...)}
	if msg != nil {
		e.Namespace = msg.Namespace()
	}
	return e
}

// EncodingError reports a response that cannot be delivered, for example an
// indirect response with no return_to
type EncodingError struct {
	Response *Response
	Reason   string
}

func (e *EncodingError) Error() string {
	return "openid: cannot encode response: " + e.Reason
}

// KVForm returns the undeliverable response in key-value form
func (e *EncodingError) KVForm() []byte {
	if e.Response == nil || e.Response.Fields == nil {
		return nil
	}
	return e.Response.Fields.KVForm()
}

// ErrCheckIDNotHandled is returned when HandleRequest receives a checkid
// request, which must be answered by the caller
var ErrCheckIDNotHandled = errors.New("openid: checkid requests must be answered by the provider")
