package broker

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

const nonceLength = 16

var errStateMismatch = errors.New("state signature does not match")

// statePayload travels through the provider round trip as the OAuth state.
// Sig is derived from the signing secret, so a state minted under a rotated
// secret is rejected the same way as a forged one.
type statePayload struct {
	Nonce    string `json:"nonce"`
	Redirect string `json:"redirect,omitempty"`
	Sig      string `json:"sig"`
}

func signState(secret []byte, nonce, redirect string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(nonce))
	mac.Write([]byte{0})
	mac.Write([]byte(redirect))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func newState(secret []byte, redirect string) (string, error) {
	nonce, err := randomString(nonceLength)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(statePayload{
		Nonce:    nonce,
		Redirect: redirect,
		Sig:      signState(secret, nonce, redirect),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// parseState decodes and verifies raw, returning the embedded client redirect.
func parseState(secret []byte, raw string) (string, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("failed to decode state: %w", err)
	}
	var payload statePayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return "", fmt.Errorf("failed to parse state: %w", err)
	}
	if payload.Nonce == "" || payload.Sig == "" {
		return "", errors.New("state is missing nonce or signature")
	}

	got, err := base64.RawURLEncoding.DecodeString(payload.Sig)
	if err != nil {
		return "", errStateMismatch
	}
	want, _ := base64.RawURLEncoding.DecodeString(signState(secret, payload.Nonce, payload.Redirect))
	if !hmac.Equal(got, want) {
		return "", errStateMismatch
	}
	return payload.Redirect, nil
}

// randomString returns n random bytes as unpadded base64url.
func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
