// Package signing implements the canonical-JSON + HMAC-SHA256 scheme
// spec.md §6 and §9 require: keys sorted for signature stability, MAC
// base64-encoded into X-Signature, with a Bearer token alongside it.
// internal/sender and internal/pinger both go through this package so
// the two outbound request shapes can never diverge, resolving the
// base64-vs-hex mismatch the original source carried between
// sender.py and ping_handler.py.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
)

// Signer holds the credentials used to authenticate outbound requests.
type Signer struct {
	SecretKey   string
	BearerToken string
}

// SignedBody is the canonical JSON bytes and the signature computed
// over them — callers must send exactly these bytes (spec.md §9:
// "do not re-serialize between computing the signature and sending").
type SignedBody struct {
	Bytes     []byte
	Signature string
}

// Sign marshals v with sorted object keys and computes the HMAC-SHA256
// over the exact resulting bytes.
func (s Signer) Sign(v interface{}) (SignedBody, error) {
	body, err := marshalSorted(v)
	if err != nil {
		return SignedBody{}, fmt.Errorf("failed to marshal signed body: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(s.SecretKey))
	mac.Write(body)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return SignedBody{Bytes: body, Signature: signature}, nil
}

// Apply sets the Content-Type, Authorization and X-Signature headers
// spec.md §6 names on req.
func (s Signer) Apply(req *http.Request, signed SignedBody) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.BearerToken)
	req.Header.Set("X-Signature", signed.Signature)
}

// marshalSorted produces JSON with lexicographically sorted object
// keys, at every nesting level. encoding/json already sorts map keys
// but preserves struct field declaration order, so v is round-tripped
// through a generic map representation (which json.Unmarshal produces
// recursively for every nested object) before the final marshal.
func marshalSorted(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	return json.Marshal(generic)
}
