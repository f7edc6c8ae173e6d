// Package qrtoken issues and parses the identity payload encoded in a
// volunteer's QR code.
//
// A token is an HS256 JWT whose subject is the user ID. It proves identity
// only: scanners must re-load the user from the live store.
package qrtoken

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/hkdf"
)

const keyInfo = "volunteerhub qr identity v1"

// ErrMalformed covers anything that is not a valid token of ours.
var ErrMalformed = errors.New("malformed qr payload")

// Claims is the JWT body.
type Claims struct {
	jwt.RegisteredClaims
}

// Identity is what a valid payload yields.
type Identity struct {
	UserID    primitive.ObjectID
	TokenID   string
	ExpiresAt time.Time
}

// Codec signs and verifies QR tokens.
type Codec struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// DeriveKey stretches an application secret into a dedicated signing key.
func DeriveKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("qrtoken: empty secret")
	}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("qrtoken: derive key: %w", err)
	}
	return key, nil
}

// New builds a Codec. key must be at least 32 bytes.
func New(key []byte, issuer string, ttl time.Duration) (*Codec, error) {
	if len(key) < 32 {
		return nil, errors.New("qrtoken: key must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("qrtoken: ttl must be positive")
	}
	return &Codec{key: key, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// Issue returns a signed payload for userID and its expiry.
func (c *Codec) Issue(userID primitive.ObjectID) (string, time.Time, error) {
	now := c.now().UTC()
	exp := now.Add(c.ttl)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID.Hex(),
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse verifies payload. Every failure, including expiry, is reported as
// ErrMalformed so camera noise and stale codes are handled the same way.
func (c *Codec) Parse(payload string) (Identity, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" || strings.Count(payload, ".") != 2 {
		return Identity{}, ErrMalformed
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	token, err := parser.ParseWithClaims(payload, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return c.key, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return Identity{}, ErrMalformed
	}

	uid, err := primitive.ObjectIDFromHex(claims.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: bad subject", ErrMalformed)
	}
	id := Identity{UserID: uid, TokenID: claims.ID}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}
