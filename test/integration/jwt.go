package integration

import (
	"crypto/rand"
	"encoding/hex"
	"maps"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TestClaims holds the configurable claims for generating test JWT tokens.
type TestClaims struct {
	SubjectID string
	Email     string
	Roles     []string
	Extra     map[string]any
}

// tokenIssuer holds an HMAC signing key for minting test JWTs. The server
// under test reads the same key from the environment.
type tokenIssuer struct {
	key      []byte
	issuer   string
	audience string
}

// newTokenIssuer creates a token issuer with a fresh random signing key.
func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate signing key: %v", err)
	}

	return &tokenIssuer{
		key:      key,
		issuer:   "https://auth.test.docuflow.dev",
		audience: "waypoint-test",
	}
}

// Key returns the signing key as a hex string for the environment.
func (ti *tokenIssuer) Key() string {
	return hex.EncodeToString(ti.key)
}

// Issuer returns the test issuer URL.
func (ti *tokenIssuer) Issuer() string {
	return ti.issuer
}

// Audience returns the test audience.
func (ti *tokenIssuer) Audience() string {
	return ti.audience
}

// GenerateToken creates a valid, signed JWT token with the given claims.
func (ti *tokenIssuer) GenerateToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(claims, now, now.Add(1*time.Hour))
}

// GenerateExpiredToken creates a JWT token that expired in the past, well
// beyond the verifier's clock leeway.
func (ti *tokenIssuer) GenerateExpiredToken(claims TestClaims) string {
	now := time.Now()
	return ti.sign(claims, now.Add(-2*time.Hour), now.Add(-1*time.Hour))
}

func (ti *tokenIssuer) sign(claims TestClaims, issuedAt, expiresAt time.Time) string {
	mapClaims := jwt.MapClaims{
		"iss":   ti.issuer,
		"aud":   ti.audience,
		"iat":   jwt.NewNumericDate(issuedAt),
		"exp":   jwt.NewNumericDate(expiresAt),
		"sub":   claims.SubjectID,
		"email": claims.Email,
	}

	if len(claims.Roles) > 0 {
		// Store as []any to match JWT decode behavior.
		roles := make([]any, len(claims.Roles))
		for i, r := range claims.Roles {
			roles[i] = r
		}
		mapClaims["roles"] = roles
	}

	maps.Copy(mapClaims, claims.Extra)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, mapClaims)
	signed, err := token.SignedString([]byte(hex.EncodeToString(ti.key)))
	if err != nil {
		panic("sign JWT: " + err.Error())
	}
	return signed
}
