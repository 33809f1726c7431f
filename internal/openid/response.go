package openid

import (
	"bytes"
	"html/template"
	"net/http"
)

// URLLimit is the longest indirect response sent as a redirect; longer 2.0
// responses are POSTed through an auto-submitting form
const URLLimit = 2047

// Response is an answer to a Request, before signing and encoding
type Response struct {
	Request Request
	Fields  *Message
}

// Mode returns the openid.mode of the response
func (r *Response) Mode() string {
	return r.Fields.Get("mode")
}

// IsPositive reports whether the response asserts an identity
func (r *Response) IsPositive() bool {
	return r.Mode() == "id_res" && r.Fields.Get("user_setup_url") == ""
}

// Indirect reports whether the response travels through the user agent
func (r *Response) Indirect() bool {
	_, ok := r.Request.(*CheckIDRequest)
	return ok
}

// NeedsSigning reports whether the response carries an assertion
func (r *Response) NeedsSigning() bool {
	return r.Indirect() && r.Mode() == "id_res"
}

// WebResponse is an encoded response ready to be written to HTTP
type WebResponse struct {
	Code    int
	Headers map[string]string
	Body    []byte
}

var autoSubmit = template.Must(template.New("form").Parse(`<html><head><title>OpenID transaction in progress</title></head>
<body onload="document.forms[0].submit();">
<form accept-charset="UTF-8" enctype="application/x-www-form-urlencoded" action="{{.Action}}" method="post">
{{range $k, $v := .Fields}}<input type="hidden" name="{{$k}}" value="{{$v}}" />
{{end}}<input type="submit" value="Continue" />
</form>
</body></html>
`))

func formResponse(action string, fields *Message) (*WebResponse, error) {
	var buf bytes.Buffer
	err := autoSubmit.Execute(&buf, struct {
		Action template.URL
		Fields map[string]string
	}{template.URL(action), fields.ToArgs()})
	if err != nil {
		return nil, err
	}
	return &WebResponse{
		Code:    http.StatusOK,
		Headers: map[string]string{"Content-Type": "text/html; charset=utf-8"},
		Body:    buf.Bytes(),
	}, nil
}

func redirectResponse(location string) *WebResponse {
	return &WebResponse{
		Code:    http.StatusFound,
		Headers: map[string]string{"Location": location},
	}
}

func kvResponse(fields *Message) *WebResponse {
	code := http.StatusOK
	if fields.Get("mode") == "error" {
		code = http.StatusBadRequest
	}
	return &WebResponse{
		Code:    code,
		Headers: map[string]string{"Content-Type": "text/plain; charset=utf-8"},
		Body:    fields.KVForm(),
	}
}
