package verify

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/google/uuid"
)

const (
	// VerificationTokenTTL bounds manual claim verification.
	VerificationTokenTTL = 24 * time.Hour

	// ResumeTokenTTL bounds draft-resume access.
	ResumeTokenTTL = 30 * 24 * time.Hour

	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	tokenLength   = 6
)

// NewVerificationToken returns a short one-time token for manual claim
// verification: 6 characters drawn uniformly from a 36-symbol alphabet.
func NewVerificationToken() string {
	buf := make([]byte, tokenLength)
	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failure means the process has no usable
			// entropy source; nothing sensible to continue with.
			panic(err)
		}
		buf[i] = tokenAlphabet[n.Int64()]
	}
	return string(buf)
}

// NewResumeToken returns a high-entropy opaque token for draft resumption.
func NewResumeToken() string {
	return uuid.NewString()
}

// Expired reports whether a token expiry has passed.
func Expired(expiresAt, now time.Time) bool {
	return now.After(expiresAt)
}
