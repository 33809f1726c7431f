package openid

import "encoding/xml"

// ContentTypeXRDS is the Yadis document media type
const ContentTypeXRDS = "application/xrds+xml"

// Service type URIs
const (
	TypeServer = "http://specs.openid.net/auth/2.0/server"
	TypeSignon = "http://specs.openid.net/auth/2.0/signon"
)

// XRDS is a Yadis discovery document with a single XRD
type XRDS struct {
	XMLName xml.Name `xml:"xrds:XRDS"`
	XMLNSX  string   `xml:"xmlns:xrds,attr"`
	XMLNS   string   `xml:"xmlns,attr"`
	XRD     XRD      `xml:"XRD"`
}

// XRD holds the advertised services
type XRD struct {
	Services []Service `xml:"Service"`
}

// Service is one OpenID endpoint
type Service struct {
	Priority int      `xml:"priority,attr"`
	Types    []string `xml:"Type"`
	URI      string   `xml:"URI"`
	LocalID  string   `xml:"LocalID,omitempty"`
}

func newXRDS(types, endpoints []string, localID string) *XRDS {
	doc := &XRDS{
		XMLNSX: "xri://$xrds",
		XMLNS:  "xri://$xrd*($v*2.0)",
	}
	for i, uri := range endpoints {
		doc.XRD.Services = append(doc.XRD.Services, Service{
			Priority: i,
			Types:    types,
			URI:      uri,
			LocalID:  localID,
		})
	}
	return doc
}

// NewProviderXRDS advertises endpoints as OP identifier services
func NewProviderXRDS(endpoints []string) *XRDS {
	return newXRDS([]string{TypeServer, TypeSignon}, endpoints, "")
}

// NewIdentityXRDS advertises endpoints as claimed identifier services for localID
func NewIdentityXRDS(endpoints []string, localID string) *XRDS {
	return newXRDS([]string{TypeSignon}, endpoints, localID)
}

// Marshal renders the document with an XML declaration
func (x *XRDS) Marshal() ([]byte, error) {
	body, err := xml.MarshalIndent(x, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}
