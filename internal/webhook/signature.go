// Package webhook implements intake for the two push-event flavors
// described in spec §4.1: signature verification, payload parsing and
// enqueue. Ported from original_source's
// crates/server/src/routes/webhooks/{signature,payloads,mod}.rs, which
// it is grounded on byte-for-byte for the signature scheme.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// VerifyGitea checks the bare-hex X-Gitea-Signature header.
func VerifyGitea(payload []byte, signature, secret string) bool {
	expected := hexHMAC(payload, secret)
	return constantTimeEqual(expected, signature)
}

// VerifyGitHub checks the "sha256="-prefixed X-Hub-Signature-256 header.
func VerifyGitHub(payload []byte, signature, secret string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(signature, prefix) {
		return false
	}
	expected := hexHMAC(payload, secret)
	return constantTimeEqual(expected, strings.TrimPrefix(signature, prefix))
}

func hexHMAC(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// constantTimeEqual compares two hex strings in constant time for
// equal-length inputs, returning false immediately on length mismatch
// per spec §4.1 ("mismatched lengths return false immediately").
func constantTimeEqual(expected, actual string) bool {
	if len(expected) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}
