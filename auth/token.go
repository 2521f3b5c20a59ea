// Package auth signs the bearer tokens a client presents when it opens a
// WebSocket transport, and lets a server check them.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrInvalidToken = errors.New("invalid bearer token")
	ErrMissingToken = errors.New("missing bearer token")
)

// Signer issues and verifies HMAC-signed client tokens.
// The secret is shared between client and server and never sent.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer with the given secret key.
// The secret should be at least 32 bytes of random data.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// NewRandomSigner generates a fresh random secret key.
// Only useful when client and server share the process, as in tests.
func NewRandomSigner() (*Signer, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return &Signer{secret: secret}, nil
}

// Issue returns a token naming clientID.
// Token = clientID "." hex(HMAC-SHA256(secret, clientID))
func (s *Signer) Issue(clientID string) string {
	return clientID + "." + s.mac(clientID)
}

// Verify checks token and returns the client ID it was issued for.
func (s *Signer) Verify(token string) (string, error) {
	i := strings.LastIndexByte(token, '.')
	if i <= 0 {
		return "", ErrInvalidToken
	}
	clientID, sig := token[:i], token[i+1:]

	// constant-time: == would leak where the signatures differ
	if subtle.ConstantTimeCompare([]byte(s.mac(clientID)), []byte(sig)) != 1 {
		return "", ErrInvalidToken
	}
	return clientID, nil
}

func (s *Signer) mac(clientID string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(clientID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Header returns an Authorization header carrying a token for clientID,
// ready for the WebSocket dialer.
func (s *Signer) Header(clientID string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+s.Issue(clientID))
	return h
}

// VerifyRequest checks the bearer token on an incoming handshake request.
func (s *Signer) VerifyRequest(r *http.Request) (string, error) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return "", ErrMissingToken
	}
	return s.Verify(token)
}
