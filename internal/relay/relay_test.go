package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sdko-org/hooksink/internal/capture"
	"github.com/sirupsen/logrus"
)

func newTestClient(timeout time.Duration) *Client {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewClient(logger, timeout)
}

func sampleRecord() *capture.Record {
	return &capture.Record{
		Seq:       7,
		SessionID: "S1",
		Method:    "POST",
		Path:      "/api/callback/S1",
		Payload:   capture.StructuredPayload([]byte(`{"a":1}`)),
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestForward_DeliversEnvelope(t *testing.T) {
	var got map[string]json.RawMessage
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, "thanks")
	}))
	defer srv.Close()

	res := newTestClient(time.Second).Forward(context.Background(), srv.URL, sampleRecord())

	if !res.Success || res.StatusCode != http.StatusCreated || res.ResponseText != "thanks" {
		t.Errorf("Result = %+v, want success 201 thanks", res)
	}
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", contentType)
	}

	var original struct {
		Method  string          `json:"method"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(got["original_request"], &original); err != nil {
		t.Fatalf("decode original_request: %v", err)
	}
	if original.Method != "POST" || string(original.Payload) != `{"a":1}` {
		t.Errorf("original_request = %+v", original)
	}
	var forwardedAt string
	json.Unmarshal(got["forwarded_at"], &forwardedAt)
	if _, err := time.Parse(time.RFC3339Nano, forwardedAt); err != nil {
		t.Errorf("forwarded_at %q is not a timestamp: %v", forwardedAt, err)
	}
}

func TestForward_ErrorStatusIsNotSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	res := newTestClient(time.Second).Forward(context.Background(), srv.URL, sampleRecord())
	if res.Success {
		t.Error("404 should not count as success")
	}
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", res.StatusCode)
	}
	if res.Error != "" {
		t.Errorf("Error = %q, want empty for a delivered request", res.Error)
	}
}

func TestForward_TruncatesResponseText(t *testing.T) {
	long := strings.Repeat("é", 800)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, long)
	}))
	defer srv.Close()

	res := newTestClient(time.Second).Forward(context.Background(), srv.URL, sampleRecord())
	if n := len([]rune(res.ResponseText)); n != PreviewLimit {
		t.Errorf("preview has %d characters, want %d", n, PreviewLimit)
	}
}

func TestForward_UnreachableTarget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	res := newTestClient(time.Second).Forward(context.Background(), url, sampleRecord())
	if res.Success {
		t.Error("unreachable target should not succeed")
	}
	if res.Error == "" {
		t.Error("Error should describe the transport failure")
	}
}

func TestForward_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	res := newTestClient(50*time.Millisecond).Forward(context.Background(), srv.URL, sampleRecord())
	if res.Success || res.Error == "" {
		t.Errorf("Result = %+v, want timeout failure", res)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Forward took %v, want it bounded by the timeout", elapsed)
	}
}

func TestForward_InvalidURL(t *testing.T) {
	res := newTestClient(time.Second).Forward(context.Background(), "://bad", sampleRecord())
	if res.Success || res.Error == "" {
		t.Errorf("Result = %+v, want failure", res)
	}
}

func TestResult_MarshalJSON(t *testing.T) {
	ok, _ := json.Marshal(Result{StatusCode: 200, ResponseText: "", Success: true})
	if string(ok) != `{"status_code":200,"response_text":"","success":true}` {
		t.Errorf("delivered result = %s", ok)
	}
	failed, _ := json.Marshal(Result{Error: "dial tcp: refused"})
	if string(failed) != `{"error":"dial tcp: refused","success":false}` {
		t.Errorf("failed result = %s", failed)
	}
}
