// Package auth verifies the bearer tokens presented during the WebSocket
// handshake. Tokens are HMAC-signed JWTs carrying the account id; the server
// never issues them, it only verifies what the account service signed.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any token that fails verification:
// malformed, expired, wrong signature, or missing the account claim.
var ErrInvalidToken = errors.New("auth: invalid token")

// Identity is the verified content of an accepted token.
type Identity struct {
	AccountID string
	Name      string
}

// Verifier validates bearer tokens against a shared HMAC secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a token verifier with the given HMAC secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify parses and validates a bearer token and extracts the identity.
func (v *Verifier) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	accountID, ok := (*claims)["account_id"].(string)
	if !ok || accountID == "" {
		return nil, ErrInvalidToken
	}
	name, _ := (*claims)["name"].(string)

	return &Identity{AccountID: accountID, Name: name}, nil
}

// Sign issues a token for the given identity. Exposed for the account
// provisioning endpoint and for tests.
func (v *Verifier) Sign(identity *Identity, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"account_id": identity.AccountID,
		"name":       identity.Name,
		"exp":        time.Now().Add(ttl).Unix(),
		"iat":        time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}
