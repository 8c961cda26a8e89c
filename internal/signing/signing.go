// Package signing provides signature providers for signed uploads.
package signing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signature authorizes one upload attempt.
type Signature struct {
	Value     string
	APIKey    string
	Timestamp int64
}

// Provider produces signatures for signed uploads. A nil signature with a nil
// error is treated the same as an error by callers.
type Provider interface {
	ProvideSignature(ctx context.Context, options map[string]interface{}) (*Signature, error)
	Name() string
}

// JWTProvider signs upload options as HS256 JWT claims.
type JWTProvider struct {
	name   string
	apiKey string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTProvider creates a JWTProvider. ttl bounds how long a signature is valid.
func NewJWTProvider(name, apiKey, secret string, ttl time.Duration) (*JWTProvider, error) {
	if secret == "" {
		return nil, errors.New("signing secret must not be empty")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JWTProvider{
		name:   name,
		apiKey: apiKey,
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

func (p *JWTProvider) Name() string {
	return p.name
}

func (p *JWTProvider) ProvideSignature(_ context.Context, options map[string]interface{}) (*Signature, error) {
	now := p.now().UTC()
	claims := jwt.MapClaims{
		"iss":     p.name,
		"iat":     now.Unix(),
		"exp":     now.Add(p.ttl).Unix(),
		"api_key": p.apiKey,
		"options": options,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return nil, fmt.Errorf("signing options: %w", err)
	}
	return &Signature{
		Value:     signed,
		APIKey:    p.apiKey,
		Timestamp: now.Unix(),
	}, nil
}
