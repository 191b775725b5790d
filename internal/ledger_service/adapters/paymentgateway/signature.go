package paymentgateway

import (
	"crypto/hmac"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/familysavings/golang_services/internal/ledger_service/domain"
)

// SignatureHeader carries the hex HMAC-SHA3-256 of the raw callback body.
const SignatureHeader = "X-Callback-Signature"

// HMACVerifier checks callback bodies signed by the reverse proxy in front of the
// callback endpoint. An empty secret disables verification.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Enabled() bool { return len(v.secret) > 0 }

func (v *HMACVerifier) Sign(payload []byte) string {
	mac := hmac.New(sha3.New256, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *HMACVerifier) Verify(payload []byte, signature string) error {
	if !v.Enabled() {
		return nil
	}
	if signature == "" {
		return fmt.Errorf("missing %s header: %w", SignatureHeader, domain.ErrInvalidSignature)
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return fmt.Errorf("signature is not hex: %w", domain.ErrInvalidSignature)
	}
	mac := hmac.New(sha3.New256, v.secret)
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return domain.ErrInvalidSignature
	}
	return nil
}
