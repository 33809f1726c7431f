package openid

import "strings"

// Simple Registration extension namespaces
const (
	SRegNS11 = "http://openid.net/extensions/sreg/1.1"
	SRegNS10 = "http://openid.net/sreg/1.0"
)

// SRegFields lists the profile fields the extension defines
var SRegFields = map[string]string{
	"fullname": "Full Name",
	"nickname": "Nickname",
	"dob":      "Date of Birth",
	"email":    "E-mail Address",
	"gender":   "Gender",
	"postcode": "Postal Code",
	"country":  "Country",
	"language": "Language",
	"timezone": "Time Zone",
}

// SRegRequest is the profile data a relying party asked for
type SRegRequest struct {
	NS        string
	Required  []string
	Optional  []string
	PolicyURL string
}

// SRegRequestFrom extracts the SREG request of a checkid request, or nil
func SRegRequestFrom(req *CheckIDRequest) *SRegRequest {
	if req == nil || req.Message == nil {
		return nil
	}
	for _, ns := range []string{SRegNS11, SRegNS10} {
		args, ok := req.Message.Extension(ns, "sreg")
		if !ok {
			continue
		}
		return &SRegRequest{
			NS:        ns,
			Required:  splitFields(args["required"]),
			Optional:  splitFields(args["optional"]),
			PolicyURL: args["policy_url"],
		}
	}
	return nil
}

func splitFields(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if _, ok := SRegFields[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// WereFieldsRequested reports whether any field was asked for
func (r *SRegRequest) WereFieldsRequested() bool {
	return len(r.Required) > 0 || len(r.Optional) > 0
}

// Requested reports whether field was asked for
func (r *SRegRequest) Requested(field string) bool {
	for _, f := range r.Required {
		if f == field {
			return true
		}
	}
	for _, f := range r.Optional {
		if f == field {
			return true
		}
	}
	return false
}

// Filter keeps the requested, non-empty values of data
func (r *SRegRequest) Filter(data map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range data {
		if v != "" && r.Requested(k) {
			out[k] = v
		}
	}
	return out
}

// AddSRegResponse attaches the requested subset of data to a response
func AddSRegResponse(resp *Response, req *SRegRequest, data map[string]string) {
	if req == nil || resp == nil {
		return
	}
	values := req.Filter(data)
	if len(values) == 0 {
		return
	}
	resp.Fields.SetExtension(req.NS, "sreg", values)
}
