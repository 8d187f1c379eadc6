// Package token signs reminder ids for unauthenticated callback links.
//
// A token is HMAC-SHA256(secret, reminder id), base64url encoded. It is
// deterministic: the same id always yields the same token.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

var ErrEmptySecret = errors.New("token secret must not be empty")

type Authority struct {
	secret []byte
}

func New(secret []byte) (*Authority, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	return &Authority{secret: append([]byte(nil), secret...)}, nil
}

func (a *Authority) Sign(reminderID string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(reminderID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether token was produced by Sign for reminderID. The
// comparison takes the same time regardless of where the inputs differ.
func (a *Authority) Verify(reminderID, token string) bool {
	return subtle.ConstantTimeCompare([]byte(a.Sign(reminderID)), []byte(token)) == 1
}
