// Package auth verifies the HS256 bearer tokens issued by the identity
// provider.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var b64 = base64.RawURLEncoding

var (
	ErrTokenFormat   = errors.New("invalid token format")
	ErrSignature     = errors.New("signature mismatch")
	ErrTokenExpired  = errors.New("token expired")
	ErrMissingClaims = errors.New("token has no subject")
)

// SignHS256 creates a compact JWT string using HS256.
func SignHS256(claims map[string]any, secret []byte) (string, error) {
	header := map[string]string{"alg": "HS256", "typ": "JWT"}
	h, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	c, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	unsigned := b64.EncodeToString(h) + "." + b64.EncodeToString(c)
	return unsigned + "." + b64.EncodeToString(sign(unsigned, secret)), nil
}

// ParseAndVerifyHS256 verifies token signature and returns claims.
func ParseAndVerifyHS256(token string, secret []byte) (map[string]any, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrTokenFormat
	}

	var header struct {
		Alg string `json:"alg"`
	}
	rawHeader, err := b64.DecodeString(parts[0])
	if err != nil || json.Unmarshal(rawHeader, &header) != nil || header.Alg != "HS256" {
		return nil, ErrTokenFormat
	}

	sig, err := b64.DecodeString(parts[2])
	if err != nil {
		return nil, ErrTokenFormat
	}
	if !hmac.Equal(sig, sign(parts[0]+"."+parts[1], secret)) {
		return nil, ErrSignature
	}

	payload, err := b64.DecodeString(parts[1])
	if err != nil {
		return nil, ErrTokenFormat
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrTokenFormat
	}
	return claims, nil
}

// Subject validates the registered time claims against now and returns "sub".
func Subject(claims map[string]any, now time.Time) (string, error) {
	if exp, ok := claims["exp"].(float64); ok && now.Unix() >= int64(exp) {
		return "", ErrTokenExpired
	}
	if nbf, ok := claims["nbf"].(float64); ok && now.Unix() < int64(nbf) {
		return "", ErrTokenExpired
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrMissingClaims
	}
	return sub, nil
}

// RoleOperator marks bank staff allowed to post teller credits and lift
// freezes.
const RoleOperator = "operator"

// Roles returns the roles granted by the "roles" array claim or the single
// "role" claim.
func Roles(claims map[string]any) []string {
	var out []string
	if r, ok := claims["role"].(string); ok && r != "" {
		out = append(out, r)
	}
	if list, ok := claims["roles"].([]any); ok {
		for _, v := range list {
			if r, ok := v.(string); ok && r != "" {
				out = append(out, r)
			}
		}
	}
	return out
}

func sign(unsigned string, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(unsigned))
	return mac.Sum(nil)
}
