// Package token signs and verifies the compact JWT payloads carried in the
// access-token cookie and embedded in temp keys.
//
// Verify keeps two failure classes apart: ErrExpired (good signature, clock
// past exp) and ErrInvalid (bad signature or structure). Callers branch on
// the two -- an expired access token can still be upgraded through a live
// refresh session, an invalid one never can.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// ErrExpired is returned by Verify when the signature checks out but the
// token's exp claim is in the past.
var ErrExpired = errors.New("token expired")

// ErrInvalid is returned by Verify for every other verification failure:
// malformed token, wrong signature, wrong algorithm, missing claims.
var ErrInvalid = errors.New("token invalid")

// TempKeyData binds a payload to the temp key it was minted for.
// Carried only on tokens issued through the activation / reset flows.
type TempKeyData struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Payload is the identity a signed token carries.
// Identifier is the user's email at mint time; the request gate rejects
// tokens whose identifier no longer matches the stored user.
type Payload struct {
	ID         uuid.UUID
	Identifier string
	Role       string
	TempKey    *TempKeyData
}

type claims struct {
	Identifier string       `json:"identifier"`
	Role       string       `json:"role"`
	TempKey    *TempKeyData `json:"tempkeyData,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and verifies payloads with a symmetric HS256 secret.
// Safe for concurrent use; holds no mutable state.
type Codec struct {
	secret []byte
}

// NewCodec returns a Codec using the given symmetric secret.
func NewCodec(secret []byte) *Codec {
	return &Codec{secret: secret}
}

// Sign returns a compact signed token for p expiring after ttl.
func (c *Codec) Sign(p Payload, ttl time.Duration) (string, error) {
	now := time.Now()
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Identifier: p.Identifier,
		Role:       p.Role,
		TempKey:    p.TempKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := t.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify parses raw and returns its payload.
// Returns ErrExpired for well-signed but stale tokens, ErrInvalid otherwise.
func (c *Codec) Verify(raw string) (*Payload, error) {
	var cl claims
	_, err := jwt.ParseWithClaims(raw, &cl, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	id, err := uuid.FromString(cl.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: bad subject", ErrInvalid)
	}
	return &Payload{
		ID:         id,
		Identifier: cl.Identifier,
		Role:       cl.Role,
		TempKey:    cl.TempKey,
	}, nil
}
