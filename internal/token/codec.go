// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ingeniia authsvc Contributors

// Package token mints and decodes the signed bearer tokens handed to clients.
//
// Two token types exist. Access tokens are short lived and authorize API
// calls. Refresh tokens are long lived and are only good for minting new
// access tokens. Both carry the identity in the subject claim and their type
// in a private "type" claim.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Type distinguishes access tokens from refresh tokens.
type Type string

// Token types.
const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
)

// ErrInvalidToken is the only failure Decode reports. Bad signatures,
// malformed input, expiry and claim mismatches are indistinguishable.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload carried by every token.
type Claims struct {
	jwt.RegisteredClaims
	Type  Type   `json:"type"`
	Email string `json:"email,omitempty"`
}

// Extra holds optional claims for access tokens.
type Extra struct {
	Email string
}

// Options configures a Codec.
type Options struct {
	Secret     []byte
	Algorithm  string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Now overrides the wall clock. Nil means time.Now.
	Now func() time.Time
}

// Codec signs and verifies tokens with a shared HMAC secret.
type Codec struct {
	method     jwt.SigningMethod
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

// NewCodec validates opts and returns a ready Codec.
func NewCodec(opts Options) (*Codec, error) {
	if len(opts.Secret) == 0 {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("signing secret is required")
	}
	method, ok := jwt.GetSigningMethod(opts.Algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").
			With("algorithm", opts.Algorithm).
			Errorf("unsupported signing algorithm %q", opts.Algorithm)
	}
	if opts.AccessTTL <= 0 || opts.RefreshTTL <= 0 {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("token lifetimes must be positive")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(now),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}

	return &Codec{
		method:     method,
		secret:     opts.Secret,
		issuer:     opts.Issuer,
		audience:   opts.Audience,
		accessTTL:  opts.AccessTTL,
		refreshTTL: opts.RefreshTTL,
		now:        now,
		parser:     jwt.NewParser(parserOpts...),
	}, nil
}

// AccessTTL returns the default access-token lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the refresh-token lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccessToken mints an access token for subject. A non-positive ttl
// selects the configured default.
func (c *Codec) IssueAccessToken(subject string, extra Extra, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = c.accessTTL
	}
	return c.sign(subject, TypeAccess, extra.Email, ttl)
}

// IssueRefreshToken mints a refresh token for subject.
func (c *Codec) IssueRefreshToken(subject string) (string, error) {
	return c.sign(subject, TypeRefresh, "", c.refreshTTL)
}

func (c *Codec) sign(subject string, typ Type, email string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", oops.Code("TOKEN_SIGN_FAILED").Errorf("subject is required")
	}
	now := c.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type:  typ,
		Email: email,
	}
	if c.issuer != "" {
		claims.Issuer = c.issuer
	}
	if c.audience != "" {
		claims.Audience = jwt.ClaimStrings{c.audience}
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").With("type", string(typ)).Wrap(err)
	}
	return signed, nil
}

// Decode verifies raw and returns its claims. Every failure is ErrInvalidToken.
func (c *Codec) Decode(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := c.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || (claims.Type != TypeAccess && claims.Type != TypeRefresh) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// DecodeAs is Decode that also requires the token to be of type want.
func (c *Codec) DecodeAs(raw string, want Type) (*Claims, error) {
	claims, err := c.Decode(raw)
	if err != nil {
		return nil, err
	}
	if claims.Type != want {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
