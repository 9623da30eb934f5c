package integration

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================================================================
// Authentication
// ==========================================================================

func TestSecurity_NoAuthHeader_Returns401(t *testing.T) {
	h := NewTestHarness(t)

	endpoints := []string{
		"/api/v1/processes/proc-1",
		"/api/v1/tasks/task-1",
		"/api/v1/rules",
		"/api/v1/events",
	}

	for _, ep := range endpoints {
		t.Run(ep, func(t *testing.T) {
			resp := h.GET(ep, "")
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			resp.Body.Close()
		})
	}
}

func TestSecurity_ExpiredJWT_Returns401(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateExpiredToken(OperatorClaims())

	resp := h.GET("/api/v1/rules", token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestSecurity_InvalidSignature_Returns401(t *testing.T) {
	h := NewTestHarness(t)

	// Token signed with a different HMAC key.
	wrongKey := make([]byte, 32)
	if _, err := rand.Read(wrongKey); err != nil {
		t.Fatal(err)
	}
	claims := jwt.MapClaims{
		"iss":   "https://auth.test.docuflow.dev",
		"aud":   "waypoint-test",
		"sub":   "user-1",
		"email": "user@docuflow.example.com",
		"iat":   jwt.NewNumericDate(time.Now()),
		"exp":   jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte(hex.EncodeToString(wrongKey)))
	require.NoError(t, err)

	resp := h.GET("/api/v1/rules", signed)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestSecurity_NoneAlgorithm_Returns401(t *testing.T) {
	h := NewTestHarness(t)

	// Craft a "none" algorithm token manually.
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"admin","iss":"https://auth.test.docuflow.dev","aud":"waypoint-test"}`))
	noneToken := header + "." + payload + "."

	resp := h.GET("/api/v1/rules", noneToken)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestSecurity_MissingExpiry_Returns401(t *testing.T) {
	h := NewTestHarness(t)

	// Signed with the right key but no exp claim.
	claims := jwt.MapClaims{
		"iss": "https://auth.test.docuflow.dev",
		"aud": "waypoint-test",
		"sub": "user-1",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte(h.issuer.Key()))
	require.NoError(t, err)

	resp := h.GET("/api/v1/rules", signed)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestSecurity_MalformedToken_Returns401(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/api/v1/rules", "not.a.valid.jwt.token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestSecurity_ValidJWT_Returns200(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OperatorClaims())

	resp := h.GET("/api/v1/rules", token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

// ==========================================================================
// Public endpoints and response hygiene
// ==========================================================================

func TestSecurity_HealthEndpointsArePublic(t *testing.T) {
	h := NewTestHarness(t)

	for _, ep := range []string{"/healthz", "/readyz"} {
		resp := h.GET(ep, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, ep)
		resp.Body.Close()
	}
}

func TestSecurity_ResponseHeaders(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OperatorClaims())

	resp := h.GET("/api/v1/rules", token)
	defer resp.Body.Close()

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Correlation-Id"))
}

func TestSecurity_ErrorEnvelopeShape(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(OperatorClaims())

	resp := h.GET("/api/v1/processes/does-not-exist", token)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	h.ParseJSON(resp, &body)
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.NotEmpty(t, body.Error.Message)
}
