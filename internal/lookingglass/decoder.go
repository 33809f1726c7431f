package lookingglass

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/eldarion/identeco/internal/openid"
)

// DecodedMessage is an OpenID message broken down for display
type DecodedMessage struct {
	Format      string         `json:"format"` // url, query, kv
	Namespace   string         `json:"namespace"`
	Mode        string         `json:"mode"`
	Fields      []DecodedField `json:"fields"`
	Signed      []string       `json:"signed,omitempty"`
	Annotations []Annotation   `json:"annotations"`
}

// DecodedField is one message argument
type DecodedField struct {
	Key         string       `json:"key"`
	Value       string       `json:"value"`
	Signed      bool         `json:"signed"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// ErrNotOpenID is returned when the input carries no openid.* arguments
var ErrNotOpenID = errors.New("no OpenID arguments found")

// DecodeMessage parses an indirect message URL, a bare query string or a
// key-value form body
func DecodeMessage(input string) (*DecodedMessage, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrNotOpenID
	}

	var (
		msg    *openid.Message
		format string
		err    error
	)
	switch {
	case strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://"):
		format = "url"
		var u *url.URL
		if u, err = url.Parse(input); err == nil {
			msg, err = parseQuery(u.RawQuery)
		}
	case isKVForm(input):
		format = "kv"
		msg, err = openid.ParseKVForm([]byte(input + "\n"))
	default:
		format = "query"
		msg, err = parseQuery(strings.TrimPrefix(input, "?"))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s message: %w", format, err)
	}
	if msg == nil {
		return nil, ErrNotOpenID
	}
	return analyze(msg, format), nil
}

func isKVForm(s string) bool {
	first := s
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		first = s[:i]
	}
	colon := strings.IndexByte(first, ':')
	if colon < 0 {
		return false
	}
	eq := strings.IndexByte(first, '=')
	return eq < 0 || colon < eq
}

func parseQuery(q string) (*openid.Message, error) {
	values, err := url.ParseQuery(q)
	if err != nil {
		return nil, err
	}
	args := make(map[string]string, len(values))
	for k := range values {
		args[k] = values.Get(k)
	}
	return openid.ParseArgs(args)
}

func analyze(msg *openid.Message, format string) *DecodedMessage {
	d := &DecodedMessage{
		Format:      format,
		Namespace:   msg.Namespace(),
		Mode:        msg.Get("mode"),
		Annotations: append([]Annotation(nil), ModeAnnotations(msg.Get("mode"))...),
	}

	signed := make(map[string]bool)
	if list := msg.Get("signed"); list != "" {
		d.Signed = strings.Split(list, ",")
		for _, f := range d.Signed {
			signed[f] = true
		}
	}

	for _, key := range msg.Keys() {
		d.Fields = append(d.Fields, DecodedField{
			Key:         key,
			Value:       msg.Get(key),
			Signed:      signed[key],
			Annotations: FieldAnnotations(key),
		})
	}

	vulns := VulnerabilityAnnotations()
	if msg.IsOpenID1() {
		d.Annotations = append(d.Annotations, vulns["openid1"])
	}
	if d.Mode == "id_res" && len(d.Signed) > 0 {
		if !signed["return_to"] {
			d.Annotations = append(d.Annotations, vulns["unsigned_return_to"])
		}
		if !msg.IsOpenID1() && !signed["response_nonce"] {
			d.Annotations = append(d.Annotations, vulns["missing_nonce"])
		}
	}
	if msg.Get("mac_key") != "" {
		d.Annotations = append(d.Annotations, vulns["plaintext_mac_key"])
	}
	return d
}
