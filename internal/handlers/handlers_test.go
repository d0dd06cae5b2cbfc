package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sdko-org/hooksink/internal/config"
	"github.com/sdko-org/hooksink/internal/identity"
	"github.com/sdko-org/hooksink/internal/live"
	"github.com/sdko-org/hooksink/internal/relay"
	"github.com/sdko-org/hooksink/internal/store"
	"github.com/sdko-org/hooksink/internal/webhook"
	"github.com/sirupsen/logrus"
)

type testEnv struct {
	handler http.Handler
	hub     *live.Hub
}

func newEnv(t *testing.T, rateLimit int) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	hub := live.NewHub(logger)
	svc := webhook.NewService(logger, store.NewMemory(), relay.NewClient(logger, time.Second), hub, nil)
	h := NewHandler(logger, &config.Config{}, svc, hub)
	ids := identity.NewCookieProvider(logger, "handler-test-secret")
	return &testEnv{
		handler: NewRouter(logger, nil, h, ids, NewRateLimiter(rateLimit, time.Minute)),
		hub:     hub,
	}
}

// browser keeps the identity cookie between calls like a real browser would.
type browser struct {
	env    *testEnv
	cookie *http.Cookie
}

func (b *browser) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if b.cookie != nil {
		req.AddCookie(b.cookie)
	}
	rec := httptest.NewRecorder()
	b.env.handler.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == identity.CookieName {
			b.cookie = c
		}
	}
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
}

func (b *browser) newSession(t *testing.T) string {
	t.Helper()
	rec := b.do("POST", "/api/generate-session", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("generate-session status = %d", rec.Code)
	}
	var body struct {
		SessionID  string `json:"session_id"`
		WebhookURL string `json:"webhook_url"`
	}
	decode(t, rec, &body)
	if body.WebhookURL != "/api/callback/"+body.SessionID {
		t.Errorf("webhook_url = %q", body.WebhookURL)
	}
	return body.SessionID
}

type listBody struct {
	Sessions []struct {
		ID           string `json:"id"`
		Name         string `json:"name"`
		RequestCount int    `json:"request_count"`
	} `json:"sessions"`
}

func TestGenerateSession_ListsWithZeroRequests(t *testing.T) {
	b := &browser{env: newEnv(t, 0)}
	id := b.newSession(t)

	var list listBody
	decode(t, b.do("GET", "/api/sessions", "", nil), &list)
	if len(list.Sessions) != 1 || list.Sessions[0].ID != id || list.Sessions[0].RequestCount != 0 {
		t.Errorf("sessions = %+v", list.Sessions)
	}

	other := &browser{env: b.env}
	decode(t, other.do("GET", "/api/sessions", "", nil), &list)
	if len(list.Sessions) != 0 {
		t.Errorf("another browser sees %d sessions, want 0", len(list.Sessions))
	}
}

func TestCallback_Captures(t *testing.T) {
	b := &browser{env: newEnv(t, 0)}
	id := b.newSession(t)

	rec := b.do("POST", "/api/callback/"+id, `{"a":1}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	decode(t, rec, &body)
	if body["status"] != "success" || body["session_id"] != id {
		t.Errorf("body = %v", body)
	}
	if body["request_count"] != float64(1) {
		t.Errorf("request_count = %v, want 1", body["request_count"])
	}
	if body["share_url"] != "http://example.com/session/"+id {
		t.Errorf("share_url = %v", body["share_url"])
	}
	if _, ok := body["redirect_response"]; ok {
		t.Error("redirect_response should be absent without a redirect URL")
	}

	var reqs struct {
		Requests []struct {
			Payload     json.RawMessage `json:"payload"`
			PayloadType string          `json:"payload_type"`
		} `json:"requests"`
		Count int `json:"count"`
	}
	decode(t, b.do("GET", "/api/sessions/"+id+"/requests", "", nil), &reqs)
	if reqs.Count != 1 || string(reqs.Requests[0].Payload) != `{"a":1}` || reqs.Requests[0].PayloadType != "structured" {
		t.Errorf("requests = %+v", reqs)
	}
}

func TestCallback_BrowserNavigationRedirects(t *testing.T) {
	b := &browser{env: newEnv(t, 0)}
	id := b.newSession(t)
	b.do("POST", "/api/callback/"+id, `{"a":1}`, nil)

	rec := b.do("GET", "/api/callback/"+id, "", map[string]string{"Accept": "text/html,application/xhtml+xml"})
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/session/"+id {
		t.Errorf("Location = %q", loc)
	}

	var reqs struct {
		Count int `json:"count"`
	}
	decode(t, b.do("GET", "/api/sessions/"+id+"/requests", "", nil), &reqs)
	if reqs.Count != 1 {
		t.Errorf("count = %d, want 1: navigation must not be stored", reqs.Count)
	}
}

func TestCallback_PlainOptionsIsCaptured(t *testing.T) {
	b := &browser{env: newEnv(t, 0)}
	id := b.newSession(t)

	if rec := b.do("OPTIONS", "/api/callback/"+id, "", nil); rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want 200", rec.Code)
	}
	preflight := b.do("OPTIONS", "/api/callback/"+id, "", map[string]string{
		"Origin":                        "http://app.example",
		"Access-Control-Request-Method": "POST",
	})
	if preflight.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", preflight.Code)
	}
	if got := preflight.Header().Get("Access-Control-Allow-Origin"); got != "http://app.example" {
		t.Errorf("Allow-Origin = %q", got)
	}

	var reqs struct {
		Count int `json:"count"`
	}
	decode(t, b.do("GET", "/api/sessions/"+id+"/requests", "", nil), &reqs)
	if reqs.Count != 1 {
		t.Errorf("count = %d, want 1", reqs.Count)
	}
}

func TestCallback_RateLimited(t *testing.T) {
	b := &browser{env: newEnv(t, 1)}
	id := b.newSession(t)

	if rec := b.do("POST", "/api/callback/"+id, `{}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("first callback status = %d", rec.Code)
	}
	if rec := b.do("POST", "/api/callback/"+id, `{}`, nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second callback status = %d, want 429", rec.Code)
	}
	if rec := b.do("GET", "/api/sessions", "", nil); rec.Code != http.StatusOK {
		t.Errorf("other routes are not limited, got %d", rec.Code)
	}
}

func TestCallback_RelayFailureEmbedded(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := dead.URL
	dead.Close()

	b := &browser{env: newEnv(t, 0)}
	id := b.newSession(t)
	b.do("PUT", "/api/sessions/"+id+"/redirect-url", `{"redirect_url":"`+target+`"}`, nil)

	rec := b.do("POST", "/api/callback/"+id, `{"a":1}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		RequestCount     int `json:"request_count"`
		RedirectResponse struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
		} `json:"redirect_response"`
	}
	decode(t, rec, &body)
	if body.RequestCount != 1 || body.RedirectResponse.Success || body.RedirectResponse.Error == "" {
		t.Errorf("body = %+v", body)
	}
}

func TestRename(t *testing.T) {
	b := &browser{env: newEnv(t, 0)}
	id := b.newSession(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"whitespace", `{"name":"   "}`, http.StatusBadRequest},
		{"missing", `{}`, http.StatusBadRequest},
		{"not json", `name=x`, http.StatusBadRequest},
		{"ok", `{"name":"  Stripe  "}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := b.do("PUT", "/api/sessions/"+id+"/name", tt.body, nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	var detail struct {
		Session struct {
			Name string `json:"name"`
		} `json:"session"`
	}
	decode(t, b.do("GET", "/api/sessions/"+id, "", nil), &detail)
	if detail.Session.Name != "Stripe" {
		t.Errorf("name = %q, want Stripe", detail.Session.Name)
	}

	if rec := b.do("PUT", "/api/sessions/unknown/name", `{"name":"x"}`, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", rec.Code)
	}
}

func TestRename_WhitespaceLeavesNameUnchanged(t *testing.T) {
	b := &browser{env: newEnv(t, 0)}
	id := b.newSession(t)
	rec := b.do("PUT", "/api/sessions/"+id+"/name", `{"name":"   "}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var errBody errorResponse
	decode(t, rec, &errBody)
	if errBody.Error == "" {
		t.Error("400 response should carry an error message")
	}

	var list listBody
	decode(t, b.do("GET", "/api/sessions", "", nil), &list)
	if list.Sessions[0].Name != store.DefaultName(id) {
		t.Errorf("name = %q, want %q", list.Sessions[0].Name, store.DefaultName(id))
	}
}

func TestSetRedirectURL(t *testing.T) {
	b := &browser{env: newEnv(t, 0)}
	id := b.newSession(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing", `{}`, http.StatusBadRequest},
		{"not a url", `{"redirect_url":"ftp://x"}`, http.StatusBadRequest},
		{"ok", `{"redirect_url":" http://hooks.example/in "}`, http.StatusOK},
		{"clear", `{"redirect_url":""}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := b.do("PUT", "/api/sessions/"+id+"/redirect-url", tt.body, nil); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestAccessSession_SharesHistory(t *testing.T) {
	env := newEnv(t, 0)
	alice := &browser{env: env}
	bob := &browser{env: env}
	id := alice.newSession(t)
	alice.do("POST", "/api/callback/"+id, `{"a":1}`, nil)

	if rec := bob.do("GET", "/api/sessions/"+id, "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("bob before access status = %d, want 404", rec.Code)
	}
	if rec := bob.do("GET", "/api/access-session/does-not-exist", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown access status = %d, want 404", rec.Code)
	}

	rec := bob.do("GET", "/api/access-session/"+id, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("access status = %d", rec.Code)
	}
	var body struct {
		Session struct {
			ID       string            `json:"id"`
			Requests []json.RawMessage `json:"requests"`
		} `json:"session"`
		Message string `json:"message"`
	}
	decode(t, rec, &body)
	if body.Session.ID != id || len(body.Session.Requests) != 1 || body.Message == "" {
		t.Errorf("body = %+v", body)
	}

	var list listBody
	decode(t, bob.do("GET", "/api/sessions", "", nil), &list)
	if len(list.Sessions) != 1 || list.Sessions[0].RequestCount != 1 {
		t.Errorf("bob's sessions = %+v", list.Sessions)
	}
}

func TestDeleteSession(t *testing.T) {
	env := newEnv(t, 0)
	alice := &browser{env: env}
	bob := &browser{env: env}
	id := alice.newSession(t)
	bob.do("GET", "/api/access-session/"+id, "", nil)
	alice.do("POST", "/api/callback/"+id, `{"a":1}`, nil)

	if rec := alice.do("DELETE", "/api/sessions/"+id, "", nil); rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if rec := alice.do("DELETE", "/api/sessions/"+id, "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}

	var reqs struct {
		Requests []json.RawMessage `json:"requests"`
		Count    int               `json:"count"`
	}
	decode(t, bob.do("GET", "/api/sessions/"+id+"/requests", "", nil), &reqs)
	if reqs.Count != 0 || reqs.Requests == nil {
		t.Errorf("bob's requests = %+v, want an empty list", reqs)
	}
}

func TestRelayInfo(t *testing.T) {
	b := &browser{env: newEnv(t, 0)}
	id := b.newSession(t)
	payload := `{"request_data":{"method":"POST"}}`

	if rec := b.do("POST", "/api/redirect/"+id, payload, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("without redirect url status = %d, want 400", rec.Code)
	}
	b.do("PUT", "/api/sessions/"+id+"/redirect-url", `{"redirect_url":"http://hooks.example"}`, nil)

	if rec := b.do("POST", "/api/redirect/"+id, `{}`, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("without request_data status = %d, want 400", rec.Code)
	}
	rec := b.do("POST", "/api/redirect/"+id, payload, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		RedirectURL string          `json:"redirect_url"`
		RequestData json.RawMessage `json:"request_data"`
		SessionID   string          `json:"session_id"`
	}
	decode(t, rec, &body)
	if body.RedirectURL != "http://hooks.example" || string(body.RequestData) != `{"method":"POST"}` || body.SessionID != id {
		t.Errorf("body = %+v", body)
	}
	if rec := b.do("POST", "/api/redirect/unknown", payload, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", rec.Code)
	}
}

func TestShareQR(t *testing.T) {
	b := &browser{env: newEnv(t, 0)}
	id := b.newSession(t)

	rec := b.do("GET", "/api/sessions/"+id+"/qr?size=64", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("body is not a PNG")
	}
	if rec := b.do("GET", "/api/sessions/unknown/qr", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", rec.Code)
	}
}

func TestSessionPage(t *testing.T) {
	b := &browser{env: newEnv(t, 0)}
	rec := b.do("GET", "/session/abc-123", "", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/?session=abc-123" {
		t.Errorf("Location = %q", loc)
	}
}

func TestHealth(t *testing.T) {
	b := &browser{env: newEnv(t, 0)}
	rec := b.do("GET", "/healthz", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestStreamSession_ReceivesCaptures(t *testing.T) {
	env := newEnv(t, 0)
	b := &browser{env: env}
	id := b.newSession(t)

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	header := http.Header{}
	header.Set("Cookie", b.cookie.Name+"="+b.cookie.Value)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/sessions/"+id+"/stream", header)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Subscribers(id) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.do("POST", "/api/callback/"+id, `{"live":true}`, nil)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(data), `"live":true`) {
		t.Errorf("message = %s", data)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2"}, "9.9.9.9:1", "1.1.1.1"},
		{"real ip", map[string]string{"X-Real-IP": "3.3.3.3"}, "9.9.9.9:1", "3.3.3.3"},
		{"remote addr", nil, "9.9.9.9:1234", "9.9.9.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := getClientIP(r); got != tt.want {
				t.Errorf("getClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
func TestRoutes_RejectOverlongIDs(t *testing.T) {
	b := &browser{env: newEnv(t, 0)}
	rec := b.do("POST", "/api/callback/"+strings.Repeat("x", 65), `{}`, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for an id longer than 64 chars", rec.Code)
	}
}
