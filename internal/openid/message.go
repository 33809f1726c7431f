// Package openid implements the OpenID 2.0 provider protocol engine: message
// parsing and encoding, association exchange, response signing, stateless
// verification and the SREG and XRDS formats it needs.
//
// It also accepts OpenID 1.1 checkid and associate requests.
package openid

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Protocol namespaces and well-known URIs
const (
	NS2  = "http://specs.openid.net/auth/2.0"
	NS11 = "http://openid.net/signon/1.1"
	NS10 = "http://openid.net/signon/1.0"

	IdentifierSelect = "http://specs.openid.net/auth/2.0/identifier_select"
)

const argPrefix = "openid."

// Message is the set of openid.* arguments of a request or response, keyed
// without the "openid." prefix. Extension arguments keep their alias, for
// example "ns.sreg" and "sreg.nickname".
type Message struct {
	ns   string
	args map[string]string
}

// NewMessage creates an empty message in namespace ns
func NewMessage(ns string) *Message {
	m := &Message{ns: ns, args: make(map[string]string)}
	if ns == NS2 {
		m.args["ns"] = NS2
	}
	return m
}

// ParseArgs builds a message from request arguments. Arguments without the
// "openid." prefix are ignored. A nil message with a nil error means no
// OpenID arguments were present.
func ParseArgs(raw map[string]string) (*Message, error) {
	args := make(map[string]string)
	for k, v := range raw {
		if strings.HasPrefix(k, argPrefix) {
			args[strings.TrimPrefix(k, argPrefix)] = v
		}
	}
	if len(args) == 0 {
		return nil, nil
	}

	m := &Message{args: args}
	switch ns := args["ns"]; ns {
	case NS2:
		m.ns = NS2
	case "", NS11, NS10:
		m.ns = NS11
		delete(m.args, "ns")
	default:
		return nil, &ProtocolError{Text: fmt.Sprintf("unsupported openid.ns %q", ns)}
	}
	return m, nil
}

// Namespace returns NS2 or NS11
func (m *Message) Namespace() string {
	return m.ns
}

// IsOpenID1 reports whether the message uses the 1.x protocol
func (m *Message) IsOpenID1() bool {
	return m.ns != NS2
}

// Get returns the value of key, or "" when absent
func (m *Message) Get(key string) string {
	return m.args[key]
}

// Lookup returns the value of key and whether it is present
func (m *Message) Lookup(key string) (string, bool) {
	v, ok := m.args[key]
	return v, ok
}

// Set stores a value
func (m *Message) Set(key, value string) {
	m.args[key] = value
}

// Del removes a key
func (m *Message) Del(key string) {
	delete(m.args, key)
}

// Keys returns the argument names in sorted order
func (m *Message) Keys() []string {
	keys := make([]string, 0, len(m.args))
	for k := range m.args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Copy returns an independent copy
func (m *Message) Copy() *Message {
	c := &Message{ns: m.ns, args: make(map[string]string, len(m.args))}
	for k, v := range m.args {
		c.args[k] = v
	}
	return c
}

// aliasFor returns the alias bound to an extension namespace URI
func (m *Message) aliasFor(nsURI string) (string, bool) {
	for k, v := range m.args {
		if strings.HasPrefix(k, "ns.") && v == nsURI {
			return strings.TrimPrefix(k, "ns."), true
		}
	}
	return "", false
}

// Extension returns the arguments of the extension namespace nsURI with the
// alias stripped. For 1.x messages fallbackAlias is used when the message does
// not declare the namespace.
func (m *Message) Extension(nsURI, fallbackAlias string) (map[string]string, bool) {
	alias, ok := m.aliasFor(nsURI)
	if !ok {
		if !m.IsOpenID1() || fallbackAlias == "" {
			return nil, false
		}
		alias = fallbackAlias
	}

	prefix := alias + "."
	ext := make(map[string]string)
	for k, v := range m.args {
		if strings.HasPrefix(k, prefix) {
			ext[strings.TrimPrefix(k, prefix)] = v
		}
	}
	if len(ext) == 0 && !ok {
		return nil, false
	}
	return ext, true
}

// SetExtension adds arguments under nsURI, declaring an alias in 2.0
// messages. The preferred alias is used unless it is bound to another
// namespace.
func (m *Message) SetExtension(nsURI, preferred string, values map[string]string) {
	alias, ok := m.aliasFor(nsURI)
	if !ok {
		alias = preferred
		for i := 1; ; i++ {
			if _, taken := m.args["ns."+alias]; !taken {
				break
			}
			alias = fmt.Sprintf("ext%d", i)
		}
		if !m.IsOpenID1() {
			m.args["ns."+alias] = nsURI
		}
	}
	for k, v := range values {
		m.args[alias+"."+k] = v
	}
}

// ToArgs returns the arguments with the "openid." prefix restored
func (m *Message) ToArgs() map[string]string {
	out := make(map[string]string, len(m.args))
	for k, v := range m.args {
		out[argPrefix+k] = v
	}
	return out
}

// ToValues returns the arguments as form values
func (m *Message) ToValues() url.Values {
	v := make(url.Values, len(m.args))
	for k, val := range m.args {
		v.Set(argPrefix+k, val)
	}
	return v
}

// ToURL appends the arguments to base as query parameters
func (m *Message) ToURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	for k, v := range m.ToValues() {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// KVForm encodes the message in key-value form with sorted keys
func (m *Message) KVForm() []byte {
	pairs := make([][2]string, 0, len(m.args))
	for _, k := range m.Keys() {
		pairs = append(pairs, [2]string{k, m.args[k]})
	}
	return EncodeKV(pairs)
}

// ParseKVForm decodes a key-value form body into a message
func ParseKVForm(body []byte) (*Message, error) {
	pairs, err := DecodeKV(body)
	if err != nil {
		return nil, err
	}
	raw := make(map[string]string, len(pairs))
	for _, p := range pairs {
		raw[argPrefix+p[0]] = p[1]
	}
	m, err := ParseArgs(raw)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return NewMessage(NS11), nil
	}
	return m, nil
}

// MarshalJSON encodes the message as its openid.* arguments
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.ToArgs())
}

// UnmarshalJSON restores a message encoded by MarshalJSON
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseArgs(raw)
	if err != nil {
		return err
	}
	if parsed == nil {
		parsed = NewMessage(NS11)
	}
	*m = *parsed
	return nil
}
