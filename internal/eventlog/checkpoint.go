package eventlog

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// checkpointClaims is the payload signed into a Checkpoint's opaque handle.
type checkpointClaims struct {
	jwt.RegisteredClaims
	LastEventID uint64 `json:"last_event_id"`
}

// JWTSigner signs and verifies checkpoint handles with HMAC-SHA256, so a
// handle handed to a replay caller can't be forged or silently pointed at a
// different event id than the one the kernel actually issued.
type JWTSigner struct {
	secret []byte
}

// NewJWTSigner creates a signer using secret as the HMAC key.
func NewJWTSigner(secret []byte) *JWTSigner {
	return &JWTSigner{secret: secret}
}

func (s *JWTSigner) Sign(lastEventID uint64) (string, error) {
	claims := checkpointClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
		LastEventID: lastEventID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *JWTSigner) Verify(signature string) (uint64, error) {
	token, err := jwt.ParseWithClaims(signature, &checkpointClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("parse checkpoint signature: %w", err)
	}
	claims, ok := token.Claims.(*checkpointClaims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("invalid checkpoint signature")
	}
	return claims.LastEventID, nil
}
