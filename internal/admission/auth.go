package admission

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vibe-trader/internal/domain"
)

// SessionCookie holds the identity provider's session token for browser
// callers.
const SessionCookie = "__session"

const clockLeeway = 5 * time.Second

// Credentials are the identity claims carried by one request. None of them
// is trusted until an Authenticator verifies it.
type Credentials struct {
	// Authorization is the raw Authorization header.
	Authorization string
	// Session is the SessionCookie value.
	Session string
	// Trusted is the value of the configured trusted proxy header.
	Trusted string
}

type AuthConfig struct {
	// PublicKey is the PEM RSA key session tokens are signed with. Escaped
	// "\n" sequences are accepted so the key fits in one env var.
	PublicKey string
	// Issuer must match the iss claim when set.
	Issuer string
	// TrustedHeader names a header injected by a proxy that has already
	// authenticated the caller. Empty disables it.
	TrustedHeader string
}

// Authenticator turns request credentials into a verified user ID. A nil
// Authenticator verifies nothing, so every caller is anonymous.
type Authenticator struct {
	key           *rsa.PublicKey
	issuer        string
	trustedHeader string
	now           func() time.Time
}

func NewAuthenticator(cfg AuthConfig) (*Authenticator, error) {
	a := &Authenticator{
		issuer:        strings.TrimSpace(cfg.Issuer),
		trustedHeader: strings.TrimSpace(cfg.TrustedHeader),
		now:           time.Now,
	}
	if pem := strings.TrimSpace(strings.ReplaceAll(cfg.PublicKey, `\n`, "\n")); pem != "" {
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
		if err != nil {
			return nil, fmt.Errorf("admission: parse session public key: %w", err)
		}
		a.key = key
	}
	return a, nil
}

// Enabled reports whether any credential can verify.
func (a *Authenticator) Enabled() bool {
	return a != nil && (a.key != nil || a.trustedHeader != "")
}

// TrustedHeader returns the configured proxy header name, or "".
func (a *Authenticator) TrustedHeader() string {
	if a == nil {
		return ""
	}
	return a.trustedHeader
}

// UserID returns the verified user behind cred, or "" when nothing verifies.
func (a *Authenticator) UserID(cred Credentials) string {
	if a == nil {
		return ""
	}
	if a.trustedHeader != "" {
		if id := strings.TrimSpace(cred.Trusted); id != "" {
			return id
		}
	}
	if a.key == nil {
		return ""
	}
	for _, raw := range []string{bearerToken(cred.Authorization), strings.TrimSpace(cred.Session)} {
		if raw == "" {
			continue
		}
		if sub, err := a.verify(raw); err == nil {
			return sub
		}
	}
	return ""
}

// Identify resolves the request identity from verified credentials only.
func (a *Authenticator) Identify(cred Credentials, forwardedFor, remoteIP string) domain.Identity {
	return ResolveIdentity(a.UserID(cred), forwardedFor, remoteIP)
}

func (a *Authenticator) verify(raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockLeeway),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.key, nil
	}, opts...); err != nil {
		return "", err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("admission: session token has no subject")
	}
	return claims.Subject, nil
}

func bearerToken(header string) string {
	const prefix = "bearer "
	header = strings.TrimSpace(header)
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
