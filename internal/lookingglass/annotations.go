package lookingglass

var modeAnnotations = map[string][]Annotation{
	"checkid_setup": {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "Interactive Authentication",
			Description: "The relying party redirected the user here and is prepared to wait while the provider asks for a login or a trust decision.",
			Reference:   "OpenID Authentication 2.0 Section 9",
		},
	},
	"checkid_immediate": {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "Immediate Mode",
			Description: "The relying party cannot show provider pages. The provider must answer at once: a positive assertion if the realm is already trusted, setup_needed otherwise.",
			Reference:   "OpenID Authentication 2.0 Section 9.2",
		},
	},
	"associate": {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "Association",
			Description: "The relying party establishes a shared MAC secret so later assertions can be verified without a round trip.",
			Reference:   "OpenID Authentication 2.0 Section 8",
		},
		{
			Type:        AnnotationTypeSecurityHint,
			Title:       "Session Encryption",
			Description: "no-encryption sessions send the MAC key in the clear and are only safe over TLS. Diffie-Hellman sessions protect it on plain HTTP.",
			Severity:    "info",
			Reference:   "OpenID Authentication 2.0 Section 8.4",
		},
	},
	"check_authentication": {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "Direct Verification",
			Description: "A stateless relying party asks the provider to check an assertion it signed with a private association.",
			Reference:   "OpenID Authentication 2.0 Section 11.4.2",
		},
		{
			Type:        AnnotationTypeSecurityHint,
			Title:       "Single Use",
			Description: "The response nonce is recorded and the private association is invalidated, so the same assertion verifies at most once.",
			Severity:    "info",
		},
	},
	"id_res": {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "Positive Assertion",
			Description: "The provider asserts that the user controls the identifier. Every field listed in openid.signed is covered by openid.sig.",
			Reference:   "OpenID Authentication 2.0 Section 10.1",
		},
	},
	"setup_needed": {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "Setup Needed",
			Description: "Immediate mode could not be satisfied. The relying party may retry with checkid_setup.",
			Reference:   "OpenID Authentication 2.0 Section 10.2.1",
		},
	},
	"cancel": {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "Negative Assertion",
			Description: "The user or provider declined to assert an identity to this realm.",
			Reference:   "OpenID Authentication 2.0 Section 10.2.2",
		},
	},
	"error": {
		{
			Type:        AnnotationTypeSecurityHint,
			Title:       "Protocol Error",
			Description: "The request could not be processed. Error responses are never signed.",
			Severity:    "warning",
			Reference:   "OpenID Authentication 2.0 Section 5.1.2.2",
		},
	},
}

var fieldAnnotations = map[string][]Annotation{
	"realm": {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "Realm",
			Description: "The URL pattern the user is asked to trust. return_to must fall under it.",
			Reference:   "OpenID Authentication 2.0 Section 9.2",
		},
	},
	"return_to": {
		{
			Type:        AnnotationTypeSecurityHint,
			Title:       "Return URL",
			Description: "Where the assertion is delivered. It is checked against the realm so an assertion cannot be sent to another site.",
			Severity:    "warning",
			Reference:   "OpenID Authentication 2.0 Section 9.2.1",
		},
	},
	"response_nonce": {
		{
			Type:        AnnotationTypeBestPractice,
			Title:       "Response Nonce",
			Description: "A UTC timestamp plus random salt, unique per assertion. Relying parties reject nonces they have seen or that fall outside their clock skew window.",
			Reference:   "OpenID Authentication 2.0 Section 10.1",
		},
	},
	"assoc_handle": {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "Association Handle",
			Description: "Names the shared secret used for the signature. An unknown handle makes the provider fall back to a private association and return invalidate_handle.",
			Reference:   "OpenID Authentication 2.0 Section 10.1",
		},
	},
	"identity": {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "OP-Local Identifier",
			Description: "The identifier the provider vouches for. identifier_select lets the provider choose it after login.",
			Reference:   "OpenID Authentication 2.0 Section 9.1",
		},
	},
	"sig": {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "Signature",
			Description: "Base64 HMAC over the key-value encoding of the signed fields, in the order listed in openid.signed.",
			Reference:   "OpenID Authentication 2.0 Section 6.1",
		},
	},
	"dh_consumer_public": {
		{
			Type:        AnnotationTypeExplanation,
			Title:       "Diffie-Hellman Public Key",
			Description: "The relying party's public value, btwoc encoded. The MAC key is XORed with a hash of the shared secret.",
			Reference:   "OpenID Authentication 2.0 Section 8.4.2",
		},
	},
}

// ModeAnnotations returns the explanations for a request or response mode
func ModeAnnotations(mode string) []Annotation {
	return modeAnnotations[mode]
}

// FieldAnnotations returns the explanations for a message field
func FieldAnnotations(field string) []Annotation {
	return fieldAnnotations[field]
}

// VulnerabilityAnnotations describes problems the decoder can spot
func VulnerabilityAnnotations() map[string]Annotation {
	return map[string]Annotation{
		"unsigned_return_to": {
			Type:        AnnotationTypeVulnerability,
			Title:       "return_to Not Signed",
			Description: "An attacker could redirect this assertion to a URL of their choice.",
			Severity:    "error",
			Reference:   "OpenID Authentication 2.0 Section 10.1",
		},
		"missing_nonce": {
			Type:        AnnotationTypeVulnerability,
			Title:       "No Signed Response Nonce",
			Description: "Without a signed nonce the assertion can be replayed.",
			Severity:    "error",
			Reference:   "OpenID Authentication 2.0 Section 11.3",
		},
		"openid1": {
			Type:        AnnotationTypeSecurityHint,
			Title:       "OpenID 1.x Message",
			Description: "OpenID 1.x has no response nonce or realm validation rules. Prefer OpenID 2.0.",
			Severity:    "warning",
		},
		"plaintext_mac_key": {
			Type:        AnnotationTypeSecurityHint,
			Title:       "Unencrypted MAC Key",
			Description: "mac_key was returned in the clear. This is only acceptable over TLS.",
			Severity:    "warning",
			Reference:   "OpenID Authentication 2.0 Section 8.4.1",
		},
	}
}
