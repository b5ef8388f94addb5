package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"worksuite.app/internal/auth"
	"worksuite.app/internal/obs"
	"worksuite.app/internal/session"
)

type captureMailer struct {
	mu    sync.Mutex
	links []string
}

func (m *captureMailer) SendMagicLink(_ context.Context, msg auth.MagicLinkMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, msg.Link)
	return nil
}

func (m *captureMailer) lastToken(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.links) == 0 {
		t.Fatal("no magic link was sent")
	}
	u, err := url.Parse(m.links[len(m.links)-1])
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	return u.Query().Get("token")
}

type testEnv struct {
	t        *testing.T
	handler  http.Handler
	svc      *auth.Service
	store    *auth.MemoryStore
	sessions *session.MemoryStore
	mailer   *captureMailer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	obs.SetOutput(io.Discard)
	t.Cleanup(func() { obs.SetOutput(nil) })

	store := auth.NewMemoryStore()
	sessions := session.NewMemoryStore()
	mailer := &captureMailer{}
	svc, err := auth.NewService(store, sessions,
		auth.WithTokenSecret("test-secret"),
		auth.WithMailer(mailer),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	api := New(svc, ReadyProbe{}, "test", WithRateLimit(0, 0))
	return &testEnv{
		t:        t,
		handler:  api.Handler(),
		svc:      svc,
		store:    store,
		sessions: sessions,
		mailer:   mailer,
	}
}

func (e *testEnv) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) login(email, password string) string {
	e.t.Helper()
	rr := e.do(http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password}, "")
	if rr.Code != http.StatusOK {
		e.t.Fatalf("login %s: expected 200, got %d: %s", email, rr.Code, rr.Body.String())
	}
	token, _ := decodeBody(e.t, rr)["token"].(string)
	if token == "" {
		e.t.Fatal("login returned no token")
	}
	return token
}

func (e *testEnv) register(body map[string]string, token string) string {
	e.t.Helper()
	rr := e.do(http.MethodPost, "/api/auth/register", body, token)
	if rr.Code != http.StatusOK {
		e.t.Fatalf("register: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	id, _ := decodeBody(e.t, rr)["userId"].(string)
	if id == "" {
		e.t.Fatal("register returned no userId")
	}
	return id
}

func (e *testEnv) admin() string {
	e.t.Helper()
	if _, err := e.svc.EnsureAdmin(context.Background(), "root@example.com", "Rootpass1"); err != nil {
		e.t.Fatalf("EnsureAdmin: %v", err)
	}
	return e.login("root@example.com", "Rootpass1")
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, code int, msg string) {
	t.Helper()
	if rr.Code != code {
		t.Fatalf("expected %d, got %d: %s", code, rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["success"] != false {
		t.Fatalf("expected success=false, got %v", body["success"])
	}
	if msg != "" && body["error"] != msg {
		t.Fatalf("expected error %q, got %v", msg, body["error"])
	}
	if body["request_id"] == "" || body["request_id"] == nil {
		t.Fatalf("expected request_id in error body")
	}
}

func TestRegisterLoginMe(t *testing.T) {
	env := newTestEnv(t)
	env.register(map[string]string{
		"email":     "alice@example.com",
		"firstName": "Alice",
		"lastName":  "Liddell",
		"password":  "Abcd1234",
	}, "")

	rr := env.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "alice@example.com", "password": "Abcd1234"}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	cookie := rr.Header().Get("Set-Cookie")
	for _, want := range []string{"auth_token=", "HttpOnly", "Secure", "SameSite=Strict", "Max-Age=2592000"} {
		if !strings.Contains(cookie, want) {
			t.Fatalf("cookie %q missing %q", cookie, want)
		}
	}
	token := decodeBody(t, rr)["token"].(string)

	me := env.do(http.MethodGet, "/api/auth/me", nil, token)
	if me.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d: %s", me.Code, me.Body.String())
	}
	user := decodeBody(t, me)["user"].(map[string]any)
	if user["email"] != "alice@example.com" || user["role"] != "client" {
		t.Fatalf("unexpected user: %v", user)
	}
	if _, ok := user["passwordHash"]; ok {
		t.Fatal("password hash leaked")
	}
}

func TestMeAcceptsCookie(t *testing.T) {
	env := newTestEnv(t)
	env.register(map[string]string{"email": "carol@example.com", "firstName": "C", "lastName": "D", "password": "Abcd1234"}, "")
	token := env.login("carol@example.com", "Abcd1234")

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: authCookie, Value: token})
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 via cookie, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRegisterValidationAndConflict(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/api/auth/register", map[string]string{"firstName": "A", "lastName": "B"}, "")
	expectError(t, rr, http.StatusBadRequest, "")

	rr = env.do(http.MethodPost, "/api/auth/register", map[string]string{"email": "x@example.com", "firstName": "A", "lastName": "B", "password": "short"}, "")
	expectError(t, rr, http.StatusBadRequest, "")

	rr = env.do(http.MethodPost, "/api/auth/register", nil, "")
	expectError(t, rr, http.StatusBadRequest, "")

	env.register(map[string]string{"email": "dup@example.com", "firstName": "A", "lastName": "B"}, "")
	rr = env.do(http.MethodPost, "/api/auth/register", map[string]string{"email": "DUP@example.com", "firstName": "A", "lastName": "B"}, "")
	expectError(t, rr, http.StatusConflict, "email already registered")
}

func TestLoginFailuresAreGeneric(t *testing.T) {
	env := newTestEnv(t)
	env.register(map[string]string{"email": "dave@example.com", "firstName": "D", "lastName": "E", "password": "Abcd1234"}, "")
	env.register(map[string]string{"email": "linkonly@example.com", "firstName": "L", "lastName": "O"}, "")

	unknown := env.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "nobody@example.com", "password": "Abcd1234"}, "")
	expectError(t, unknown, http.StatusUnauthorized, "invalid credentials")

	wrong := env.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "dave@example.com", "password": "Abcd1235"}, "")
	expectError(t, wrong, http.StatusUnauthorized, "invalid credentials")

	passwordless := env.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "linkonly@example.com", "password": "Abcd1234"}, "")
	expectError(t, passwordless, http.StatusUnauthorized, "invalid credentials")

	missing := env.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "dave@example.com"}, "")
	expectError(t, missing, http.StatusBadRequest, "")
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)
	env.register(map[string]string{"email": "erin@example.com", "firstName": "E", "lastName": "F", "password": "Abcd1234"}, "")
	token := env.login("erin@example.com", "Abcd1234")

	if _, err := auth.VerifyToken(token, []byte("test-secret")); err != nil {
		t.Fatalf("token should verify before logout: %v", err)
	}

	rr := env.do(http.MethodPost, "/api/auth/logout", nil, token)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rr.Code)
	}
	if cookie := rr.Header().Get("Set-Cookie"); !strings.Contains(cookie, "Max-Age=0") {
		t.Fatalf("expected cleared cookie, got %q", cookie)
	}

	if _, err := auth.VerifyToken(token, []byte("test-secret")); err != nil {
		t.Fatalf("token is still cryptographically valid: %v", err)
	}
	me := env.do(http.MethodGet, "/api/auth/me", nil, token)
	expectError(t, me, http.StatusUnauthorized, "session expired")
}

func TestLogoutIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		rr := env.do(http.MethodPost, "/api/auth/logout", nil, token)
		if rr.Code != http.StatusOK {
			t.Fatalf("logout with %q: expected 200, got %d", token, rr.Code)
		}
		if decodeBody(t, rr)["success"] != true {
			t.Fatalf("logout with %q: expected success", token)
		}
	}
}

func TestMagicLinkVerifiesExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	env.register(map[string]string{"email": "frank@example.com", "firstName": "F", "lastName": "G"}, "")

	rr := env.do(http.MethodPost, "/api/auth/magic-link", map[string]string{"email": "frank@example.com"}, "")
	if rr.Code != http.StatusOK || decodeBody(t, rr)["success"] != true {
		t.Fatalf("magic-link: unexpected response %d: %s", rr.Code, rr.Body.String())
	}
	raw := env.mailer.lastToken(t)

	first := env.do(http.MethodPost, "/api/auth/verify-magic-link", map[string]string{"token": raw}, "")
	if first.Code != http.StatusOK {
		t.Fatalf("first verify: expected 200, got %d: %s", first.Code, first.Body.String())
	}
	if !strings.Contains(first.Header().Get("Set-Cookie"), "auth_token=") {
		t.Fatal("expected auth cookie on verify")
	}
	token := decodeBody(t, first)["token"].(string)

	second := env.do(http.MethodPost, "/api/auth/verify-magic-link", map[string]string{"token": raw}, "")
	expectError(t, second, http.StatusUnauthorized, "invalid or expired link")

	me := env.do(http.MethodGet, "/api/auth/me", nil, token)
	if me.Code != http.StatusOK {
		t.Fatalf("me after magic link: expected 200, got %d", me.Code)
	}
}

func TestMagicLinkUnknownEmailCreatesNoLink(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(http.MethodPost, "/api/auth/magic-link", map[string]string{"email": "ghost@example.com"}, "")
	if rr.Code != http.StatusOK || decodeBody(t, rr)["success"] != true {
		t.Fatalf("expected success, got %d: %s", rr.Code, rr.Body.String())
	}
	if n := env.store.LinkCount(); n != 0 {
		t.Fatalf("expected no magic link rows, got %d", n)
	}
	if len(env.mailer.links) != 0 {
		t.Fatal("expected no mail to be sent")
	}
}

func TestDeactivationRejectsLiveToken(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.admin()
	id := env.register(map[string]string{"email": "gina@example.com", "firstName": "G", "lastName": "H", "password": "Abcd1234"}, "")
	token := env.login("gina@example.com", "Abcd1234")

	if rr := env.do(http.MethodGet, "/api/auth/me", nil, token); rr.Code != http.StatusOK {
		t.Fatalf("me before deactivation: expected 200, got %d", rr.Code)
	}

	rr := env.do(http.MethodPost, "/api/users/"+id+"/deactivate", nil, adminToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("deactivate: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	me := env.do(http.MethodGet, "/api/auth/me", nil, token)
	expectError(t, me, http.StatusUnauthorized, "user not found or inactive")

	again := env.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "gina@example.com", "password": "Abcd1234"}, "")
	expectError(t, again, http.StatusUnauthorized, "invalid credentials")
}

func TestRoleGates(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.admin()
	env.register(map[string]string{"email": "hank@example.com", "firstName": "H", "lastName": "I", "password": "Abcd1234"}, "")
	clientToken := env.login("hank@example.com", "Abcd1234")

	expectError(t, env.do(http.MethodGet, "/api/users", nil, ""), http.StatusUnauthorized, "no token")
	expectError(t, env.do(http.MethodGet, "/api/users", nil, "garbage"), http.StatusUnauthorized, "invalid or expired token")
	expectError(t, env.do(http.MethodGet, "/api/users", nil, clientToken), http.StatusForbidden, "insufficient permissions")

	rr := env.do(http.MethodGet, "/api/users", nil, adminToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin list: expected 200, got %d", rr.Code)
	}
	users := decodeBody(t, rr)["users"].([]any)
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}

	teamID := env.register(map[string]string{"email": "ivy@example.com", "firstName": "I", "lastName": "J", "password": "Abcd1234", "role": "team"}, adminToken)
	teamToken := env.login("ivy@example.com", "Abcd1234")
	if rr := env.do(http.MethodGet, "/api/users/"+teamID, nil, teamToken); rr.Code != http.StatusOK {
		t.Fatalf("team get: expected 200, got %d", rr.Code)
	}
	expectError(t, env.do(http.MethodPost, "/api/users/"+teamID+"/deactivate", nil, teamToken), http.StatusForbidden, "insufficient permissions")
	expectError(t, env.do(http.MethodGet, "/api/users/missing", nil, teamToken), http.StatusNotFound, "not found")
}

func TestRegisterPrivilegedFieldsRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.admin()
	env.register(map[string]string{"email": "jack@example.com", "firstName": "J", "lastName": "K", "password": "Abcd1234"}, "")
	clientToken := env.login("jack@example.com", "Abcd1234")

	body := map[string]string{"email": "kate@example.com", "firstName": "K", "lastName": "L", "role": "admin"}
	expectError(t, env.do(http.MethodPost, "/api/auth/register", body, ""), http.StatusUnauthorized, "no token")

	unknownRole := map[string]string{"email": "kate@example.com", "firstName": "K", "lastName": "L", "role": "superuser"}
	expectError(t, env.do(http.MethodPost, "/api/auth/register", unknownRole, ""), http.StatusBadRequest, "unknown role")
	expectError(t, env.do(http.MethodPost, "/api/auth/register", body, clientToken), http.StatusForbidden, "insufficient permissions")

	id := env.register(body, adminToken)
	acct, err := env.svc.Account(context.Background(), id)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if acct.Role != auth.RoleAdmin {
		t.Fatalf("expected admin role, got %s", acct.Role)
	}

	rr := env.do(http.MethodPost, "/api/auth/register", map[string]string{"email": "z@example.com", "firstName": "Z", "lastName": "Z", "role": "owner"}, adminToken)
	expectError(t, rr, http.StatusBadRequest, "")
}

func TestAdminCannotDeactivateSelf(t *testing.T) {
	env := newTestEnv(t)
	adminToken := env.admin()
	me := decodeBody(t, env.do(http.MethodGet, "/api/auth/me", nil, adminToken))["user"].(map[string]any)
	rr := env.do(http.MethodPost, "/api/users/"+me["id"].(string)+"/deactivate", nil, adminToken)
	expectError(t, rr, http.StatusBadRequest, "cannot deactivate own account")
}

func TestUnknownRouteAndCORS(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/api/nope", nil, "")
	expectError(t, rr, http.StatusNotFound, "not found")
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS header on 404")
	}

	pre := env.do(http.MethodOptions, "/api/auth/login", nil, "")
	if pre.Code != http.StatusNoContent {
		t.Fatalf("preflight: expected 204, got %d", pre.Code)
	}
	if pre.Header().Get("Access-Control-Allow-Methods") == "" || pre.Header().Get("Access-Control-Allow-Headers") == "" {
		t.Fatal("preflight missing allow lists")
	}

	wrongMethod := env.do(http.MethodGet, "/api/auth/login", nil, "")
	expectError(t, wrongMethod, http.StatusNotFound, "not found")
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)
	if rr := env.do(http.MethodGet, "/healthz", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rr.Code)
	}
	if rr := env.do(http.MethodGet, "/readyz", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d", rr.Code)
	}

	api := New(env.svc, failingReadiness{}, "test")
	rr := httptest.NewRecorder()
	api.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz failing: expected 503, got %d", rr.Code)
	}
}
