package vault

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// Encoding selects how an HMAC digest is rendered.
type Encoding int

const (
	Hex Encoding = iota
	Base64
)

// CanonicalParams builds the string the OAuth callback signature covers:
// signature fields dropped, values URL-encoded, keys sorted, pairs joined by &.
func CanonicalParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+url.QueryEscape(params[k]))
	}
	return strings.Join(parts, "&")
}

// Sign computes HMAC-SHA256 of message.
func Sign(message []byte, secret string, enc Encoding) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(message)
	sum := mac.Sum(nil)
	if enc == Base64 {
		return base64.StdEncoding.EncodeToString(sum)
	}
	return hex.EncodeToString(sum)
}

// Verify compares provided against the expected digest in constant time.
func Verify(message []byte, provided, secret string, enc Encoding) bool {
	if provided == "" || secret == "" {
		return false
	}
	if enc == Hex {
		provided = strings.ToLower(provided)
	}
	expected := Sign(message, secret, enc)
	return hmac.Equal([]byte(expected), []byte(provided))
}

// VerifyParams checks the hex signature over a canonicalized parameter set.
func VerifyParams(params map[string]string, provided, secret string) bool {
	return Verify([]byte(CanonicalParams(params)), provided, secret, Hex)
}

// VerifyBody checks the base64 signature over a raw webhook body.
func VerifyBody(body []byte, provided, secret string) bool {
	return Verify(body, provided, secret, Base64)
}
