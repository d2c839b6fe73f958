package identity

import "encoding/json"

// Signable is anything whose canonical signing payload is itself minus
// its signature field. Implementations return a copy with the
// signature field zeroed so Sign and Verify serialize identical bytes.
type Signable interface {
	unsigned() any
}

// canonicalBytes marshals v's unsigned view with encoding/json. This is
// the one canonicalization this implementation picks for spec.md §9's
// open question: Go's declared struct field order, the signature field
// always zeroed before marshal. Sign and Verify both go through this
// function, so they can never disagree about encoding.
func canonicalBytes(v Signable) ([]byte, error) {
	return json.Marshal(v.unsigned())
}
