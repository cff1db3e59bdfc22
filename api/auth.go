package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fabfab/hearings-ai/access"
	"github.com/fabfab/hearings-ai/config"
)

const demoRoleHeader = "X-Demo-Role"

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("authentication required")

// tokenClaims is the bearer token payload.
type tokenClaims struct {
	jwt.RegisteredClaims
	OID              string   `json:"oid"`
	Name             string   `json:"name"`
	Email            string   `json:"email"`
	Roles            []string `json:"roles"`
	PartyAffiliation string   `json:"party_affiliation,omitempty"`
	LicenseeCode     string   `json:"ba_code,omitempty"`
}

// Authenticator resolves the caller identity from a bearer token or, in demo
// mode, from a demo profile.
type Authenticator struct {
	secret   []byte
	issuer   string
	demoMode bool
	demoRole string
}

func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	return &Authenticator{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.Issuer,
		demoMode: cfg.DemoMode,
		demoRole: cfg.DemoRole,
	}
}

// Authenticate checks, in order: the demo role header (demo mode only), the
// bearer token, and the configured default demo role (demo mode only).
func (a *Authenticator) Authenticate(r *http.Request) (access.Claims, error) {
	if a.demoMode {
		if role := strings.TrimSpace(r.Header.Get(demoRoleHeader)); role != "" {
			if claims, ok := access.DemoProfiles[role]; ok {
				return claims, nil
			}
			return access.Claims{}, fmt.Errorf("%w: unknown demo role %q", ErrUnauthenticated, role)
		}
	}

	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return access.Claims{}, fmt.Errorf("%w: authorization header must be a bearer token", ErrUnauthenticated)
		}
		return a.ValidateToken(strings.TrimSpace(token))
	}

	if a.demoMode && a.demoRole != "" {
		if claims, ok := access.DemoProfiles[a.demoRole]; ok {
			return claims, nil
		}
	}
	return access.Claims{}, ErrUnauthenticated
}

// ValidateToken verifies an HS256 token and maps it to access claims.
func (a *Authenticator) ValidateToken(tokenString string) (access.Claims, error) {
	if len(a.secret) == 0 {
		return access.Claims{}, fmt.Errorf("%w: token authentication is not configured", ErrUnauthenticated)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &tokenClaims{}, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return access.Claims{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	tc, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return access.Claims{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}

	subject := tc.OID
	if subject == "" {
		subject = tc.Subject
	}
	return access.Claims{
		Subject:          subject,
		Name:             tc.Name,
		Email:            tc.Email,
		Roles:            tc.Roles,
		PartyAffiliation: tc.PartyAffiliation,
		LicenseeCode:     tc.LicenseeCode,
	}, nil
}
