// Package policyctx extracts a gate.PolicyContext from a bearer JWT, the way
// an inbound request's identity is normally established before it reaches
// the Router.
package policyctx

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/kadirpekel/agentrt/gate"
)

// Claims are the token fields the runtime cares about. Every other private
// claim is kept in Extra and flattened into PolicyContext.Metadata as
// strings; the registered claims iss, aud, exp, iat, nbf and jti are dropped.
type Claims struct {
	Subject string
	Role    string
	Extra   map[string]any
}

// Extractor validates bearer tokens against a JWKS endpoint and turns valid
// tokens into a gate.PolicyContext. The keyset is cached and auto-refreshed,
// so a single Extractor is meant to be long-lived and shared.
type Extractor struct {
	jwksURL  string
	issuer   string
	audience string
	cache    *jwk.Cache
}

// NewExtractor registers jwksURL for background refresh and performs an
// initial fetch so misconfiguration surfaces at startup rather than on the
// first request.
func NewExtractor(ctx context.Context, jwksURL, issuer, audience string) (*Extractor, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("register JWKS url: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}
	return &Extractor{jwksURL: jwksURL, issuer: issuer, audience: audience, cache: cache}, nil
}

// ExtractClaims validates tokenString's signature, issuer, audience and
// expiry, then returns its claims.
func (e *Extractor) ExtractClaims(ctx context.Context, tokenString string) (*Claims, error) {
	keyset, err := e.cache.Get(ctx, e.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("load JWKS: %w", err)
	}

	token, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKeySet(keyset),
		jwt.WithValidate(true),
		jwt.WithIssuer(e.issuer),
		jwt.WithAudience(e.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims := &Claims{Subject: token.Subject(), Extra: make(map[string]any)}
	if role, ok := token.Get("role"); ok {
		if s, ok := role.(string); ok {
			claims.Role = s
		}
	}

	for it := token.Iterate(ctx); it.Next(ctx); {
		pair := it.Pair()
		key, ok := pair.Key.(string)
		if !ok || isRegisteredClaim(key) {
			continue
		}
		claims.Extra[key] = pair.Value
	}

	return claims, nil
}

func isRegisteredClaim(key string) bool {
	switch key {
	case "sub", "role", "iss", "aud", "exp", "iat", "nbf", "jti":
		return true
	default:
		return false
	}
}

// PolicyContext converts the claims into the shape the Tool Gate evaluates
// rules against: sub becomes UserID, role becomes Role, and every claim in
// Extra is stringified into Metadata so conditions like
// "metadata.department" can match on it.
func (c *Claims) PolicyContext() gate.PolicyContext {
	ctx := gate.PolicyContext{
		UserID:   c.Subject,
		Role:     c.Role,
		Metadata: make(map[string]string, len(c.Extra)),
	}
	for k, v := range c.Extra {
		ctx.Metadata[k] = fmt.Sprint(v)
	}
	return ctx
}

// Extract validates tokenString and returns the PolicyContext derived from
// its claims in one step.
func (e *Extractor) Extract(ctx context.Context, tokenString string) (gate.PolicyContext, error) {
	claims, err := e.ExtractClaims(ctx, tokenString)
	if err != nil {
		return gate.PolicyContext{}, err
	}
	return claims.PolicyContext(), nil
}
