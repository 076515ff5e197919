package rpc

// Wire format constants shared with the host application.
const (
	// AntiXSSIPrefix is emitted ahead of every batchexecute response body.
	AntiXSSIPrefix = ")]}'\n"

	// FieldRequest carries the encoded envelope in the form body.
	FieldRequest = "f.req"

	// FieldToken carries the CSRF token in the form body.
	FieldToken = "at"

	// envelopeMarker is the fourth slot of every request envelope.
	envelopeMarker = "generic"

	// maxSnippet bounds the amount of raw body text kept on errors.
	maxSnippet = 300
)

// Call is a single RPC invocation: the host's opaque RPC identifier and its
// positional parameters.
type Call struct {
	ID     string
	Params []any
}

// Encode encodes the call into a form body using the given CSRF token.
func (c Call) Encode(csrfToken string) (string, error) {
	return Encode(c.ID, c.Params, csrfToken)
}

// RawResponse is the outcome of one network attempt as observed inside the
// browser.
type RawResponse struct {
	OK         bool
	StatusCode int
	StatusText string
	Text       string
}
