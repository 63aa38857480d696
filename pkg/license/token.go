// Package license implements entitlement tokens (ent1.<payload>.<sig>)
// and the local license store that authorizes billed spell modes.
package license

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spellrun/spell/pkg/trust"
)

// TokenPrefix identifies the entitlement token format.
const TokenPrefix = "ent1"

// Claims is the token payload. The signature covers the UTF-8 bytes of the
// base64url payload segment, not the decoded JSON.
type Claims struct {
	Version   string    `json:"version"`
	Issuer    string    `json:"issuer"`
	KeyID     string    `json:"key_id"`
	Mode      string    `json:"mode"`
	Currency  string    `json:"currency"`
	MaxAmount float64   `json:"max_amount"`
	NotBefore time.Time `json:"not_before"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Token is a parsed entitlement token.
type Token struct {
	Raw     string
	Payload string // base64url segment, the signed bytes
	Claims  Claims
	Sig     []byte
}

// Parse splits and decodes a raw ent1 token without verifying it.
func Parse(raw string) (*Token, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 || parts[0] != TokenPrefix {
		return nil, fmt.Errorf("license: token must be %s.<payload>.<sig>", TokenPrefix)
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("license: payload is not base64url: %w", err)
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("license: payload is not valid JSON: %w", err)
	}
	if claims.Version != "v1" {
		return nil, fmt.Errorf("license: unsupported token version %q", claims.Version)
	}
	if claims.Issuer == "" || claims.KeyID == "" || claims.Mode == "" || claims.Currency == "" {
		return nil, fmt.Errorf("license: token is missing required claims")
	}
	if claims.NotBefore.After(claims.ExpiresAt) {
		return nil, fmt.Errorf("license: not_before is after expires_at")
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("license: signature is not base64url: %w", err)
	}
	return &Token{Raw: raw, Payload: parts[1], Claims: claims, Sig: sig}, nil
}

// Verify checks the token's issuer key against the trust store and the
// current time against the validity window.
func Verify(tok *Token, store *trust.Store, now time.Time) error {
	t, err := store.Load(tok.Claims.Issuer)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("license: issuer %q is not a trusted publisher", tok.Claims.Issuer)
	}
	key := t.FindKey(tok.Claims.KeyID)
	if key == nil {
		return fmt.Errorf("license: issuer key %q is not trusted", tok.Claims.KeyID)
	}
	if key.Revoked {
		return fmt.Errorf("license: issuer key %q is revoked", tok.Claims.KeyID)
	}
	pub, err := trust.DecodePublicKey(key.PublicKey)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, []byte(tok.Payload), tok.Sig) {
		return fmt.Errorf("license: token signature verification failed")
	}
	if now.Before(tok.Claims.NotBefore) {
		return fmt.Errorf("license: token not valid before %s", tok.Claims.NotBefore.Format(time.RFC3339))
	}
	if now.After(tok.Claims.ExpiresAt) {
		return fmt.Errorf("license: token expired at %s", tok.Claims.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// Mint produces a signed token for the given claims. Used by issuers and
// by the test suite; the runtime itself only consumes tokens.
func Mint(claims Claims, priv ed25519.PrivateKey) (string, error) {
	if claims.Version == "" {
		claims.Version = "v1"
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("license: marshal claims: %w", err)
	}
	seg := base64.RawURLEncoding.EncodeToString(payload)
	sig := ed25519.Sign(priv, []byte(seg))
	return TokenPrefix + "." + seg + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}
