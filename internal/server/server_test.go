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
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DevanaGroup/titanium/internal/attach"
	"github.com/DevanaGroup/titanium/internal/db"
	"github.com/DevanaGroup/titanium/internal/domain"
	"github.com/DevanaGroup/titanium/internal/engine"
	"github.com/DevanaGroup/titanium/internal/migrate"
	"github.com/DevanaGroup/titanium/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := attach.NewDiskStore(workspace + "/attachments")
	e := engine.New(conn, store, zap.NewNop())
	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)
	seed := []domain.Collaborator{
		{UID: "alice", FirstName: "Alice", Email: "alice@example.com", HierarchyLevel: domain.HierarchyGerente, CreatedAt: now},
		{UID: "bob", FirstName: "Bob", Email: "bob@example.com", HierarchyLevel: domain.HierarchyColaborador, CreatedAt: now},
		{UID: "carla", FirstName: "Carla", Email: "carla@example.com", HierarchyLevel: domain.HierarchyCliente, CreatedAt: now},
	}
	for _, c := range seed {
		if err := e.Repo.UpsertCollaborator(ctx, c); err != nil {
			t.Fatalf("seed collaborator: %v", err)
		}
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret},
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
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func tokenFor(t *testing.T, uid, hierarchy string) string {
	t.Helper()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Name:           uid,
		Email:          uid + "@example.com",
		HierarchyLevel: hierarchy,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
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

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("decode error envelope %s: %v", data, err)
	}
	return payload.Error.Code
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestHealthIsOpen(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestMissingAuthIsRejected(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", res.StatusCode)
	}
	if code := errorCode(t, data); code != "unauthorized" {
		t.Fatalf("error code %q", code)
	}
}

func TestBadTokenIsRejected(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks", nil, bearer("not-a-token"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", res.StatusCode)
	}
	if code := errorCode(t, data); code != "invalid_credentials" {
		t.Fatalf("error code %q", code)
	}
}

func TestTransitOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	alice := tokenFor(t, "alice", domain.HierarchyGerente)
	bob := tokenFor(t, "bob", domain.HierarchyColaborador)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks",
		map[string]any{"title": "Emitir contrato", "assignee_uid": "alice"}, bearer(alice))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, data)
	}
	var created struct {
		Task domain.Task `json:"task"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	taskURL := srv.URL + "/v1/tasks/" + created.Task.ID

	res, data = doJSON(t, srv.Client(), http.MethodPost, taskURL+"/process", nil, bearer(alice))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("initialize status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, taskURL+"/process", nil, bearer(alice))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second initialize status %d", res.StatusCode)
	}
	if code := errorCode(t, data); code != "already_exists" {
		t.Fatalf("second initialize code %q", code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, taskURL+"/process/forward",
		map[string]any{"to_user_id": "bob", "notes": "segue"}, bearer(alice))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("forward status %d: %s", res.StatusCode, data)
	}

	// Sender lost the gate after forwarding.
	res, data = doJSON(t, srv.Client(), http.MethodPost, taskURL+"/process/forward",
		map[string]any{"to_user_id": "bob"}, bearer(alice))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("forward after handoff status %d: %s", res.StatusCode, data)
	}

	// Signing without a registered passphrase.
	res, data = doJSON(t, srv.Client(), http.MethodPost, taskURL+"/process/sign",
		map[string]any{"passphrase": "s3gr3do"}, bearer(bob))
	if res.StatusCode != http.StatusPreconditionFailed {
		t.Fatalf("sign without credential status %d: %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "no_credential" {
		t.Fatalf("sign without credential code %q", code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v1/credentials",
		map[string]any{"passphrase": "s3gr3do"}, bearer(bob))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("register credential status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, taskURL+"/process/sign",
		map[string]any{"passphrase": "errada"}, bearer(bob))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("sign with wrong passphrase status %d: %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "invalid_credential" {
		t.Fatalf("wrong passphrase code %q", code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, taskURL+"/process/sign",
		map[string]any{"passphrase": "s3gr3do"}, bearer(bob))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("sign status %d: %s", res.StatusCode, data)
	}
	var signed struct {
		Process domain.TaskProcess `json:"process"`
	}
	if err := json.Unmarshal(data, &signed); err != nil {
		t.Fatalf("decode process: %v", err)
	}
	if len(signed.Process.Steps) != 3 {
		t.Fatalf("steps after sign: %d", len(signed.Process.Steps))
	}
	holder := signed.Process.ActiveStep()
	if holder == nil || holder.ToUserID != "bob" {
		t.Fatalf("signer is not the new holder: %+v", holder)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, taskURL+"/process/metrics", nil, bearer(alice))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, taskURL+"/process/permissions", nil, bearer(bob))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("permissions status %d: %s", res.StatusCode, data)
	}
	var perms struct {
		Permissions engine.Permissions `json:"permissions"`
	}
	if err := json.Unmarshal(data, &perms); err != nil {
		t.Fatalf("decode permissions: %v", err)
	}
	if !perms.Permissions.CanForward || perms.Permissions.CanSign {
		t.Fatalf("holder permissions %+v", perms.Permissions)
	}
}

func TestRejectRequiresReasonOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	alice := tokenFor(t, "alice", domain.HierarchyGerente)
	bob := tokenFor(t, "bob", domain.HierarchyColaborador)

	_, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks",
		map[string]any{"title": "Revisar", "assignee_uid": "alice"}, bearer(alice))
	var created struct {
		Task domain.Task `json:"task"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	taskURL := srv.URL + "/v1/tasks/" + created.Task.ID
	doJSON(t, srv.Client(), http.MethodPost, taskURL+"/process", nil, bearer(alice))
	doJSON(t, srv.Client(), http.MethodPost, taskURL+"/process/forward", map[string]any{"to_user_id": "bob"}, bearer(alice))

	res, data := doJSON(t, srv.Client(), http.MethodPost, taskURL+"/process/reject",
		map[string]any{"reason": "  "}, bearer(bob))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty reason status %d: %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "empty_reason" {
		t.Fatalf("empty reason code %q", code)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, taskURL+"/process/reject",
		map[string]any{"reason": "faltam documentos"}, bearer(bob))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reject status %d: %s", res.StatusCode, data)
	}
	var rejected struct {
		Process domain.TaskProcess `json:"process"`
	}
	if err := json.Unmarshal(data, &rejected); err != nil {
		t.Fatalf("decode process: %v", err)
	}
	if rejected.Process.ActiveStep() != nil {
		t.Fatalf("ledger still active after reject")
	}
}

func TestExternalClientForbiddenOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	alice := tokenFor(t, "alice", domain.HierarchyGerente)
	carla := tokenFor(t, "carla", domain.HierarchyCliente)

	_, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks",
		map[string]any{"title": "Externo", "assignee_uid": "carla"}, bearer(alice))
	var created struct {
		Task domain.Task `json:"task"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	taskURL := srv.URL + "/v1/tasks/" + created.Task.ID
	doJSON(t, srv.Client(), http.MethodPost, taskURL+"/process", nil, bearer(alice))

	res, data := doJSON(t, srv.Client(), http.MethodPost, taskURL+"/process/forward",
		map[string]any{"to_user_id": "alice"}, bearer(carla))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("cliente forward status %d: %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("cliente forward code %q", code)
	}
}

func TestInitializeUnassignedTaskOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	alice := tokenFor(t, "alice", domain.HierarchyGerente)
	_, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks",
		map[string]any{"title": "Sem dono"}, bearer(alice))
	var created struct {
		Task domain.Task `json:"task"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/tasks/"+created.Task.ID+"/process", nil, bearer(alice))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("initialize unassigned status %d: %s", res.StatusCode, data)
	}
	if code := errorCode(t, data); code != "no_assignee" {
		t.Fatalf("initialize unassigned code %q", code)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t)
	raw := "tk_" + uuid.New().String()
	err := srv.Engine.Repo.InsertAPIKey(context.Background(), domain.APIKey{
		ID:        uuid.New().String(),
		UserID:    "alice",
		Name:      "ci",
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks", nil, map[string]string{"X-Api-Key": raw})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("api key auth status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/tasks", nil, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad api key status %d: %s", res.StatusCode, data)
	}
}
