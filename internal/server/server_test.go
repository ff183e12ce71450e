package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"permitdesk/internal/config"
	"permitdesk/internal/db"
	"permitdesk/internal/engine"
	"permitdesk/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	ctx := context.Background()
	if err := e.Repo.SeedPermitTypes(ctx, cfg); err != nil {
		t.Fatalf("seed permit types: %v", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for id, role := range map[string]string{
		"alice": "contractor",
		"rita":  "reviewer",
		"mia":   "admin",
	} {
		if err := e.Repo.SetActorRole(ctx, nil, id, role, now); err != nil {
			t.Fatalf("seed actor %s: %v", id, err)
		}
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: "test-secret", AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id}
}

func createBuildingApp(t *testing.T, srv *testServer, actor string) ApplicationResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/applications", map[string]any{
		"permit_type_id": "building.residential",
		"building_permit_info": map[string]any{
			"project_address":  "12 Main St",
			"work_description": "rear deck",
			"project_cost":     15000,
		},
	}, asActor(actor))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	var created ApplicationResponse
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal application: %v", err)
	}
	return created
}

func TestApplicationLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	created := createBuildingApp(t, srv, "alice")
	if created.Status != "draft" || created.PermitNumber != "BP000001" {
		t.Fatalf("unexpected draft: %+v", created)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/applications/"+created.ID+"/submit", map[string]any{}, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/applications/"+created.ID+"/approve", map[string]any{
		"notes":      "meets code",
		"conditions": "inspection within 30 days",
	}, asActor("rita"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, string(data))
	}
	var approved ApplicationResponse
	if err := json.Unmarshal(data, &approved); err != nil {
		t.Fatalf("unmarshal approved: %v", err)
	}
	if approved.Status != "approved_with_conditions" {
		t.Fatalf("expected approved_with_conditions, got %s", approved.Status)
	}
	if approved.ExpirationDate == nil {
		t.Fatalf("expiration date not set")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/applications/"+created.ID+"/certificate", nil, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("certificate status %d: %s", res.StatusCode, string(data))
	}
	var cert CertificateResponse
	if err := json.Unmarshal(data, &cert); err != nil {
		t.Fatalf("unmarshal certificate: %v", err)
	}
	if cert.PermitNumber != "BP000001" || cert.Conditions == "" {
		t.Fatalf("unexpected certificate: %+v", cert)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	created := createBuildingApp(t, srv, "alice")
	doJSON(t, client, http.MethodPost, srv.URL+"/v1/applications/"+created.ID+"/submit", map[string]any{}, asActor("alice"))

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/applications/"+created.ID+"/reject", map[string]any{
		"reason": "   ",
	}, asActor("rita"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "validation_failed" {
		t.Fatalf("expected validation_failed, got %s", envelope.Error.Code)
	}
}

func TestUnavailableActionConflicts(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	created := createBuildingApp(t, srv, "alice")

	// Approving a draft is never legal, even for a reviewer.
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/applications/"+created.ID+"/approve", map[string]any{}, asActor("rita"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}

	// An applicant without review capability also gets a conflict after submit.
	doJSON(t, client, http.MethodPost, srv.URL+"/v1/applications/"+created.ID+"/submit", map[string]any{}, asActor("alice"))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/applications/"+created.ID+"/approve", map[string]any{}, asActor("alice"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for applicant approve, got %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/applications", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}

	// Health stays open.
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestActionsEndpointHonorsRole(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	created := createBuildingApp(t, srv, "alice")
	doJSON(t, client, http.MethodPost, srv.URL+"/v1/applications/"+created.ID+"/submit", map[string]any{}, asActor("alice"))

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/applications/"+created.ID+"/actions", nil, asActor("rita"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("actions status %d: %s", res.StatusCode, string(data))
	}
	var actions ActionsResponse
	if err := json.Unmarshal(data, &actions); err != nil {
		t.Fatalf("unmarshal actions: %v", err)
	}
	want := []string{"view", "begin_review", "approve", "reject", "hold", "copy", "share"}
	if len(actions.Actions) != len(want) {
		t.Fatalf("actions = %v, want %v", actions.Actions, want)
	}
	for i := range want {
		if actions.Actions[i] != want[i] {
			t.Fatalf("actions = %v, want %v", actions.Actions, want)
		}
	}
}

func TestApplicantsOnlySeeOwnApplications(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	mine := createBuildingApp(t, srv, "alice")
	other := createBuildingApp(t, srv, "bob")

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/applications", nil, asActor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedApplications
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != mine.ID {
		t.Fatalf("expected only alice's application, got %+v", page.Items)
	}

	// Fetching someone else's record 404s rather than leaking it.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/applications/"+other.ID, nil, asActor("alice"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign application, got %d: %s", res.StatusCode, string(data))
	}

	// Reviewers see everything.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/applications", nil, asActor("rita"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reviewer list status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal reviewer page: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("reviewer should see both applications, got %d", len(page.Items))
	}
}

func TestDevLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{
		"actor_id": "rita",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatalf("empty token")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if who.ActorID != "rita" || who.Role != "reviewer" {
		t.Fatalf("unexpected principal: %+v", who)
	}
	found := false
	for _, r := range who.Routes {
		if r == "/review" {
			found = true
		}
	}
	if !found {
		t.Fatalf("reviewer should access /review, routes=%v", who.Routes)
	}
}

func TestLegacyTokenClaimsNormalizedInMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role:        "contractor",
		Permissions: []string{"VIEW_OWN_PERMITS", "submit_applications", "frobnicate"},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	want := []string{"read", "submit"}
	if len(who.TokenPermissions) != len(want) {
		t.Fatalf("token permissions = %v, want %v", who.TokenPermissions, want)
	}
	for i, p := range want {
		if who.TokenPermissions[i] != p {
			t.Fatalf("token permissions = %v, want %v", who.TokenPermissions, want)
		}
	}
	if who.Role != "contractor" {
		t.Fatalf("stored role should win, got %q", who.Role)
	}
}

func TestGrantRoleRequiresAdmin(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/actors/roles/grant", map[string]any{
		"actor_id": "bob",
		"role":     "reviewer",
	}, asActor("alice"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/actors/roles/grant", map[string]any{
		"actor_id": "bob",
		"role":     "reviewer",
	}, asActor("mia"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("grant status %d: %s", res.StatusCode, string(data))
	}
}
