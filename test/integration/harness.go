// Package integration provides a reusable test harness for end-to-end
// testing of the waypoint server. It starts a full HTTP server with an
// in-memory store, a live event bus, and a test JWT issuer.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/docuflow/waypoint/internal/bus"
	"github.com/docuflow/waypoint/internal/config"
	"github.com/docuflow/waypoint/internal/engine"
	"github.com/docuflow/waypoint/internal/observability"
	"github.com/docuflow/waypoint/internal/rewrite"
	"github.com/docuflow/waypoint/internal/router"
	"github.com/docuflow/waypoint/internal/store"
	"github.com/docuflow/waypoint/internal/transport"
)

const signingKeyEnv = "WAYPOINT_TEST_JWT_SIGNING_KEY"

// TestHarness encapsulates a fully wired waypoint instance for integration
// testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Internal components exposed for advanced test scenarios.
	Store            *store.MemoryStore
	Bus              *bus.EventBus
	Engine           *engine.Engine
	TaskRouter       *router.TaskRouter
	RuleStore        *rewrite.RuleStore
	RewriteEngine    *rewrite.Engine
	IdempotencyStore *engine.MemoryIdempotencyStore

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	rulesFile       string
	historyCapacity int
	atRiskWindow    time.Duration
	idempotency     bool
}

// WithRulesFile sets the rewrite rules file to load. Relative paths are
// resolved from the testdata directory.
func WithRulesFile(path string) HarnessOption {
	return func(c *harnessConfig) {
		c.rulesFile = path
	}
}

// WithHistoryCapacity sets the event bus history capacity.
func WithHistoryCapacity(n int) HarnessOption {
	return func(c *harnessConfig) {
		c.historyCapacity = n
	}
}

// WithAtRiskWindow sets the SLA at-risk window.
func WithAtRiskWindow(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.atRiskWindow = d
	}
}

// WithIdempotency enables start-process deduplication with an in-memory
// store.
func WithIdempotency() HarnessOption {
	return func(c *harnessConfig) {
		c.idempotency = true
	}
}

// NewTestHarness creates and starts a full waypoint test instance. The
// server is automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		historyCapacity: 1000,
		atRiskWindow:    15 * time.Minute,
	}
	for _, opt := range opts {
		opt(hc)
	}
	if hc.rulesFile == "" {
		hc.rulesFile = "rules.yaml"
	}
	if !filepath.IsAbs(hc.rulesFile) {
		hc.rulesFile = filepath.Join(testdataDir(), hc.rulesFile)
	}

	h := &TestHarness{t: t}
	logger := zap.NewNop()

	// The authenticator reads the signing key from the environment at
	// construction time.
	h.issuer = newTokenIssuer(t)
	t.Setenv(signingKeyEnv, h.issuer.Key())

	h.cfg = config.Defaults()
	h.cfg.Identity.Issuer = h.issuer.Issuer()
	h.cfg.Identity.Audience = h.issuer.Audience()
	h.cfg.Identity.SigningKeyEnv = signingKeyEnv
	h.cfg.Rules.Path = hc.rulesFile
	h.cfg.SLA.AtRiskWindow = hc.atRiskWindow
	h.cfg.Bus.HistoryCapacity = hc.historyCapacity
	// Each harness registers its own metric set.
	h.cfg.Observability.Metrics.Enabled = true

	metrics := observability.InitMetrics(prometheus.NewRegistry())

	h.Store = store.NewMemoryStore()
	h.Bus = bus.New(logger, bus.WithHistoryCapacity(hc.historyCapacity))

	engineOpts := []engine.Option{
		engine.WithMetrics(metrics),
		engine.WithAtRiskWindow(hc.atRiskWindow),
	}
	if hc.idempotency {
		h.IdempotencyStore = engine.NewMemoryIdempotencyStore()
		engineOpts = append(engineOpts,
			engine.WithIdempotencyStore(h.IdempotencyStore, time.Hour))
	}
	h.Engine = engine.NewEngine(h.Store, h.Bus, logger, engineOpts...)
	h.TaskRouter = router.New(h.Store, h.Bus, logger, metrics)

	h.RuleStore = rewrite.NewRuleStore(&rewrite.FileRuleSource{Path: hc.rulesFile})
	h.RewriteEngine = rewrite.NewEngine(h.RuleStore, logger, metrics)
	if err := h.RuleStore.Reload(context.Background()); err != nil {
		t.Fatalf("load rules from %s: %v", hc.rulesFile, err)
	}

	mux := transport.NewRouter(transport.Dependencies{
		Config:       h.cfg,
		Logger:       logger,
		Metrics:      metrics,
		Engine:       h.Engine,
		TaskRouter:   h.TaskRouter,
		Rewrite:      h.RewriteEngine,
		Rules:        h.RuleStore,
		Bus:          h.Bus,
		Authenticate: transport.JWTAuthenticator(h.cfg.Identity),
	})

	h.server = httptest.NewServer(mux)
	t.Cleanup(func() {
		h.server.Close()
	})

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("GET", path, nil, token, nil)
}

// POST performs an authenticated POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, nil)
}

// POSTWithHeaders performs an authenticated POST request with additional
// headers.
func (h *TestHarness) POSTWithHeaders(path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest("POST", path, body, token, headers)
}

func (h *TestHarness) doRequest(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// --- Default test claims ---

// OperatorClaims returns TestClaims for a workflow operator.
func OperatorClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-operator",
		Email:     "operator@docuflow.example.com",
		Roles:     []string{"workflow_operator"},
	}
}

// SupervisorClaims returns TestClaims for a team supervisor.
func SupervisorClaims() TestClaims {
	return TestClaims{
		SubjectID: "user-supervisor",
		Email:     "supervisor@docuflow.example.com",
		Roles:     []string{"workflow_supervisor"},
	}
}

// --- Helpers ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// WriteRulesFile writes a temporary rules file and returns its path.
func WriteRulesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	WriteRulesFileAt(t, path, content)
	return path
}

// WriteRulesFileAt overwrites an existing rules file, e.g. to simulate a
// rule publication between reloads.
func WriteRulesFileAt(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}
