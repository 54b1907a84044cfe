package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Signer recomputes the checkout signature the gateway hands to the client.
type Signer struct {
	secret []byte
}

// NewSigner binds the gateway key secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Sign returns hex(HMAC-SHA256(secret, orderID + "|" + paymentID)).
func (s *Signer) Sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares signature against the recomputed value in constant time.
func (s *Signer) Verify(orderID, paymentID, signature string) bool {
	if len(s.secret) == 0 || signature == "" {
		return false
	}
	expected := s.Sign(orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature))))
}
