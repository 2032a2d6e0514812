package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"cseflow/internal/app"
	"cseflow/internal/config"
	"cseflow/internal/db"
	"cseflow/internal/domain"
	"cseflow/internal/migrate"
	"cseflow/internal/server"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	cfg := config.Default(workspace)
	cfg.Auth.JWTSecret = testSecret

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	a := app.NewWithDB(cfg, conn, app.Options{})

	handler, err := server.New(server.Config{
		App:      a,
		BasePath: "/api/v1",
		Auth:     server.AuthConfig{JWTSecret: testSecret},
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
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func token(t *testing.T, u domain.User) string {
	t.Helper()
	tok, err := server.MintToken(testSecret, u, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return tok
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, bearer string) (*http.Response, []byte) {
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
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
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

func TestFullApprovalFlow(t *testing.T) {
	srv := newTestServer(t)
	client := srv.client

	creator := token(t, domain.User{Sub: "alice", Role: domain.RoleCreator, ClientID: "c1"})
	internal := token(t, domain.User{Sub: "ivy", Role: domain.RoleInternalReviewer, ClientID: "c1"})
	authority := token(t, domain.User{Sub: "ana", Role: domain.RoleAuthorityReviewer, ClientID: ""})

	// First creator access lazily initializes the draft.
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/forms/c1", nil, creator)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get form: %d %s", res.StatusCode, data)
	}
	var f domain.Form
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal form: %v", err)
	}
	if f.Status != domain.StatusDraft || len(f.Steps) != 7 {
		t.Fatalf("unexpected form: status=%s steps=%d", f.Status, len(f.Steps))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/forms/c1/steps/information", map[string]any{
		"data":   map[string]any{"name": "Landfill North"},
		"status": "completed",
	}, creator)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update step: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/forms/c1/submit", nil, creator)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/forms/c1/internal-review/approve", nil, internal)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("internal approve: %d %s", res.StatusCode, data)
	}

	// The authority sees the form in its queue via the index.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/authority/pending-reviews", nil, authority)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pending reviews: %d %s", res.StatusCode, data)
	}
	var pending []domain.IndexEntry
	if err := json.Unmarshal(data, &pending); err != nil {
		t.Fatalf("unmarshal pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ClientID != "c1" || pending[0].Title != "Landfill North" {
		t.Fatalf("pending = %+v", pending)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/forms/c1/authority-review/approve", nil, authority)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	if f.Status != domain.StatusApproved || f.ApprovedBy != "ana" {
		t.Fatalf("approved form: %+v", f)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/index/forms-by-status?status=approved", nil, authority)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("index query: %d %s", res.StatusCode, data)
	}
	var approved []domain.IndexEntry
	if err := json.Unmarshal(data, &approved); err != nil {
		t.Fatal(err)
	}
	if len(approved) != 1 || approved[0].ClientID != "c1" {
		t.Fatalf("approved listing = %+v", approved)
	}
}

func TestCorrectionFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	client := srv.client

	creator := token(t, domain.User{Sub: "alice", Role: domain.RoleCreator, ClientID: "c1"})
	internal := token(t, domain.User{Sub: "ivy", Role: domain.RoleInternalReviewer, ClientID: "c1"})

	doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/forms/c1", nil, creator)
	doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/forms/c1/submit", nil, creator)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/forms/c1/internal-review/request-corrections", map[string]any{
		"stepsToCorrect": []string{"walls"},
		"comments":       []map[string]string{{"stepId": "walls", "text": "heights missing"}},
	}, internal)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("request corrections: %d %s", res.StatusCode, data)
	}
	var f domain.Form
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	if f.Status != domain.StatusCorrectionsInternal || !f.Steps["walls"].NeedsCorrection {
		t.Fatalf("after corrections: %+v", f)
	}
	if len(f.Steps["walls"].Comments) != 1 {
		t.Fatalf("comments = %d", len(f.Steps["walls"].Comments))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/forms/c1/steps/walls", map[string]any{
		"data": map[string]any{"walls": []map[string]any{{"name": "W1", "height": 2, "length": 10, "material": "concrete"}}},
	}, creator)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("correct walls: %d %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	if f.Status != domain.StatusPendingInternalReview {
		t.Fatalf("status after correction = %s", f.Status)
	}
}

func TestTenantIsolationOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	client := srv.client

	owner := token(t, domain.User{Sub: "alice", Role: domain.RoleCreator, ClientID: "123"})
	stranger := token(t, domain.User{Sub: "mallory", Role: domain.RoleCreator, ClientID: "456"})
	authority := token(t, domain.User{Sub: "ana", Role: domain.RoleAuthorityReviewer, ClientID: ""})

	doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/forms/123", nil, owner)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/forms/123/steps/information", map[string]any{
		"data": map[string]any{"name": "hijack"},
	}, stranger)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-client edit: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/authority/forms/123", nil, authority)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authority read: %d %s", res.StatusCode, data)
	}
	// But the authority surface stays closed to other roles.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/authority/forms/123", nil, owner)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("creator on authority surface: %d", res.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	client := srv.client

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/forms/c1", nil, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/forms/c1", nil, "garbage")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", res.StatusCode)
	}
	// Health stays open.
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/health", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv := newTestServer(t)
	client := srv.client
	creator := token(t, domain.User{Sub: "alice", Role: domain.RoleCreator, ClientID: "c1"})

	doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/forms/c1", nil, creator)
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/forms/c1/steps/bogus", map[string]any{
		"data": map[string]any{},
	}, creator)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown step: %d %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v (%s)", err, data)
	}
	if envelope.Error.Code != "not_found" {
		t.Errorf("code = %q", envelope.Error.Code)
	}
}
