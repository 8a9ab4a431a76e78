package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stockpick/trade-engine/internal/apperr"
)

// Identity is the caller as asserted by the identity provider.
type Identity struct {
	UserID string
	Name   string
	Email  string
	Groups []string
}

// InGroup reports whether the caller belongs to group.
func (id Identity) InGroup(group string) bool {
	return slices.Contains(id.Groups, group)
}

type identityKey struct{}

// IdentityFrom returns the caller attached by Authenticate.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// WithIdentity attaches id to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// TokenOptions selects how bearer tokens are checked. With no key set the
// claims are decoded without verifying the signature, for deployments
// where the gateway already did.
type TokenOptions struct {
	HMACSecret   []byte
	PublicKeyPEM []byte // RSA, ECDSA or Ed25519
	Issuer       string
	Audience     string
}

// TokenParser turns Authorization headers into identities.
type TokenParser struct {
	parser  *jwt.Parser
	keyfunc jwt.Keyfunc // nil when signatures are not checked
}

var unverifiedTokens = &TokenParser{parser: jwt.NewParser()}

// NewTokenParser builds a parser for opts.
func NewTokenParser(opts TokenOptions) (*TokenParser, error) {
	var (
		key     any
		methods []string
	)
	switch {
	case len(opts.HMACSecret) > 0 && len(opts.PublicKeyPEM) > 0:
		return nil, errors.New("token parser: set an HMAC secret or a public key, not both")
	case len(opts.HMACSecret) > 0:
		key, methods = opts.HMACSecret, []string{"HS256", "HS384", "HS512"}
	case len(opts.PublicKeyPEM) > 0:
		var err error
		if key, methods, err = parsePublicKey(opts.PublicKeyPEM); err != nil {
			return nil, err
		}
	default:
		return unverifiedTokens, nil
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods(methods)}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	return &TokenParser{
		parser:  jwt.NewParser(parserOpts...),
		keyfunc: func(*jwt.Token) (any, error) { return key, nil },
	}, nil
}

func parsePublicKey(pem []byte) (any, []string, error) {
	if k, err := jwt.ParseRSAPublicKeyFromPEM(pem); err == nil {
		return k, []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}, nil
	}
	if k, err := jwt.ParseECPublicKeyFromPEM(pem); err == nil {
		return k, []string{"ES256", "ES384", "ES512"}, nil
	}
	if k, err := jwt.ParseEdPublicKeyFromPEM(pem); err == nil {
		return k, []string{"EdDSA"}, nil
	}
	return nil, nil, errors.New("token parser: unsupported public key")
}

// Verified reports whether p checks signatures.
func (p *TokenParser) Verified() bool {
	return p.keyfunc != nil
}

// Parse extracts the identity from an "Authorization: Bearer" value.
func (p *TokenParser) Parse(header string) (Identity, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return Identity{}, fmt.Errorf("%w: missing bearer token", apperr.ErrUnauthorized)
	}

	claims := jwt.MapClaims{}
	if p.keyfunc == nil {
		if _, _, err := p.parser.ParseUnverified(token, claims); err != nil {
			return Identity{}, fmt.Errorf("%w: malformed token", apperr.ErrUnauthorized)
		}
	} else if _, err := p.parser.ParseWithClaims(token, claims, p.keyfunc); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", apperr.ErrUnauthorized, err)
	}
	return identityFromClaims(claims)
}

// ParseBearer decodes the claims of a bearer header without checking its
// signature.
func ParseBearer(header string) (Identity, error) {
	return unverifiedTokens.Parse(header)
}

func identityFromClaims(claims jwt.MapClaims) (Identity, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", apperr.ErrUnauthorized)
	}

	id := Identity{UserID: sub}
	id.Email, _ = claims["email"].(string)
	id.Name, _ = claims["name"].(string)
	if id.Name == "" {
		id.Name = id.Email
	}
	switch g := claims["cognito:groups"].(type) {
	case []any:
		for _, v := range g {
			if s, ok := v.(string); ok {
				id.Groups = append(id.Groups, s)
			}
		}
	case string:
		id.Groups = []string{g}
	}
	return id, nil
}

// Authenticate rejects requests without a usable bearer token.
func (s *Server) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := s.Tokens.Parse(r.Header.Get("Authorization"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireAdmin lets only members of the admin group through.
func (s *Server) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok || !id.InGroup(s.adminGroup) {
			s.writeError(w, r, fmt.Errorf("%w: admin group required", apperr.ErrForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}
