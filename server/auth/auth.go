// Package auth resolves the caller's identity for every API request.
// Three credential forms are accepted: a bearer JWT minted by this
// service, an API key of the form user_<id>_<random>, and a
// development-only user-id header honored when auth is disabled.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/reveriehq/reverie/store"
)

const (
	// Issuer identifies tokens minted by this service.
	Issuer = "reverie"

	apiKeyPrefix = "user_"

	// apiKeySecretBytes is the entropy of the random key component.
	apiKeySecretBytes = 16

	// DevUserHeader carries the caller id in development mode.
	DevUserHeader = "X-Reverie-User"
)

// Claims is the JWT payload. Subject is the caller's external user id.
type Claims struct {
	jwt.RegisteredClaims
}

// Signer mints and validates the service's JWTs.
type Signer struct {
	secret     []byte
	method     jwt.SigningMethod
	expiration time.Duration
}

// NewSigner builds a Signer for an HS-family algorithm. Unknown algorithm
// names fall back to HS256.
func NewSigner(secret, algorithm string, expiration time.Duration) *Signer {
	method := jwt.GetSigningMethod(algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		method = jwt.SigningMethodHS256
	}
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	return &Signer{
		secret:     []byte(secret),
		method:     method,
		expiration: expiration,
	}
}

// Mint issues a token for an external user id.
func (s *Signer) Mint(externalID string) (token string, expiresAt time.Time, err error) {
	if externalID == "" {
		return "", time.Time{}, fmt.Errorf("user id is required")
	}
	now := time.Now()
	expiresAt = now.Add(s.expiration)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   externalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err = jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Validate parses a token and returns the subject. Expired, malformed, or
// foreign-algorithm tokens fail.
func (s *Signer) Validate(token string) (externalID string, err error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != s.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}

// GenerateAPIKey mints a plaintext key for an external user id plus the
// bcrypt hash to persist. The plaintext is shown once and never stored.
func GenerateAPIKey(externalID string) (plaintext, secretHash string, err error) {
	buf := make([]byte, apiKeySecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	secret := hex.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash key: %w", err)
	}
	return apiKeyPrefix + externalID + "_" + secret, string(hash), nil
}

// SplitAPIKey breaks a presented key into its user id and secret. The user
// id itself may contain underscores; the secret never does.
func SplitAPIKey(key string) (externalID, secret string, ok bool) {
	if !strings.HasPrefix(key, apiKeyPrefix) {
		return "", "", false
	}
	rest := key[len(apiKeyPrefix):]
	i := strings.LastIndex(rest, "_")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// Authenticator resolves request credentials against the store.
type Authenticator struct {
	store  *store.Store
	signer *Signer
}

func NewAuthenticator(st *store.Store, signer *Signer) *Authenticator {
	return &Authenticator{store: st, signer: signer}
}

// Authenticate resolves a bearer value (with or without the "Bearer "
// prefix) to an external user id. JWTs are tried first; anything with the
// API-key shape is checked against the user's stored key hashes.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (string, error) {
	credential = strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if credential == "" {
		return "", fmt.Errorf("missing credentials")
	}

	if externalID, secret, ok := SplitAPIKey(credential); ok {
		if err := a.checkAPIKey(ctx, externalID, secret); err == nil {
			return externalID, nil
		}
		// A key-shaped JWT is implausible, but fall through so a subject
		// like "user_x_y" in a real token still authenticates.
	}
	return a.signer.Validate(credential)
}

func (a *Authenticator) checkAPIKey(ctx context.Context, externalID, secret string) error {
	user, err := a.store.GetUser(ctx, &store.FindUser{ExternalID: &externalID})
	if err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("unknown user")
	}
	keys, err := a.store.ListAPIKeys(ctx, &store.FindAPIKey{UserID: &user.ID})
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	for _, key := range keys {
		if bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)) == nil {
			now := time.Now().Unix()
			// Best effort; a failed timestamp update must not fail auth.
			_, _ = a.store.UpdateAPIKey(ctx, &store.UpdateAPIKey{ID: key.ID, LastUsedTs: &now})
			return nil
		}
	}
	return fmt.Errorf("no matching key")
}
