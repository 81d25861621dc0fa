package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Signer produces Binance-style request signatures.
// It stores keys as []byte to allow memory wiping (Security Rule #5).
type Signer struct {
	apiKey    []byte
	secretKey []byte
}

// NewSigner creates a new signer.
// It converts string inputs to []byte for internal safety.
func NewSigner(apiKey, secretKey string) *Signer {
	return &Signer{
		apiKey:    []byte(apiKey),
		secretKey: []byte(secretKey),
	}
}

// Wipe clears the keys from memory.
func (s *Signer) Wipe() {
	if s == nil {
		return
	}
	s.wipeSlice(s.apiKey)
	s.wipeSlice(s.secretKey)
}

func (s *Signer) wipeSlice(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// APIKey returns the key for the X-MBX-APIKEY header.
func (s *Signer) APIKey() string {
	return string(s.apiKey)
}

// Sign computes the hex HMAC-SHA256 signature of an encoded query
// string, as required by the futures REST API.
func (s *Signer) Sign(query string) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}
