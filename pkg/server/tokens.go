package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/vglenn/cardroom/pkg/session"
)

// HMACVerifier checks bearer tokens of the form
// "playerID.expiryUnix.signature" where the signature is
// HMAC-SHA256(secret, "playerID.expiryUnix"), base64 raw URL encoded.
type HMACVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewHMACVerifier creates a verifier over the shared secret.
func NewHMACVerifier(secret []byte) *HMACVerifier {
	return &HMACVerifier{secret: secret, now: time.Now}
}

// Mint issues a token for the player valid for ttl.
func (v *HMACVerifier) Mint(playerID string, ttl time.Duration) string {
	expiry := strconv.FormatInt(v.now().Add(ttl).Unix(), 10)
	body := playerID + "." + expiry
	return body + "." + v.sign(body)
}

// Verify implements session.TokenVerifier.
func (v *HMACVerifier) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", session.ErrSessionExpired
	}
	body := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(v.sign(body)), []byte(parts[2])) {
		return "", session.ErrSessionExpired
	}
	expiry, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || v.now().Unix() > expiry {
		return "", session.ErrSessionExpired
	}
	return parts[0], nil
}

func (v *HMACVerifier) sign(body string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
