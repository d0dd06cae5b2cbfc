package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sdko-org/hooksink/internal/capture"
	"github.com/sirupsen/logrus"
)

// PreviewLimit is the number of characters of the target's response kept in
// a Result.
const PreviewLimit = 500

// bodyReadLimit bounds how much of the target's response is read before the
// preview is cut.
const bodyReadLimit = PreviewLimit * utf8.UTFMax

type Client struct {
	httpClient *http.Client
	log        *logrus.Entry
	now        func() time.Time
}

// Result is the outcome of one delivery attempt. Error is set only when the
// request never produced a response.
type Result struct {
	StatusCode   int
	ResponseText string
	Success      bool
	Error        string
}

type envelope struct {
	OriginalRequest *capture.Record `json:"original_request"`
	ForwardedAt     string          `json:"forwarded_at"`
}

type loggingTransport struct {
	next http.RoundTripper
	log  *logrus.Entry
}

func NewClient(logger *logrus.Logger, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &loggingTransport{
				next: http.DefaultTransport,
				log:  logger.WithField("component", "relay_transport"),
			},
		},
		log: logger.WithField("component", "relay"),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Forward POSTs rec, wrapped in an envelope, to targetURL. It makes a single
// attempt and never fails: transport problems are reported in the Result.
func (c *Client) Forward(ctx context.Context, targetURL string, rec *capture.Record) Result {
	log := c.log.WithFields(logrus.Fields{
		"session_id": rec.SessionID,
		"target":     targetURL,
	})

	body, err := json.Marshal(envelope{
		OriginalRequest: rec,
		ForwardedAt:     c.now().Format(time.RFC3339Nano),
	})
	if err != nil {
		return failure(log, fmt.Errorf("encode envelope: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(body))
	if err != nil {
		return failure(log, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "hooksink-relay/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return failure(log, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, bodyReadLimit))
	if err != nil {
		log.WithError(err).Debug("Reading relay response body failed")
	}

	result := Result{
		StatusCode:   resp.StatusCode,
		ResponseText: preview(raw),
		Success:      resp.StatusCode < http.StatusBadRequest,
	}
	log.WithFields(logrus.Fields{
		"status_code": result.StatusCode,
		"success":     result.Success,
	}).Info("Relayed captured request")
	return result
}

func failure(log *logrus.Entry, err error) Result {
	log.WithError(err).Warn("Relay failed")
	return Result{Error: err.Error()}
}

func preview(raw []byte) string {
	text := strings.ToValidUTF8(string(raw), "�")
	if utf8.RuneCountInString(text) <= PreviewLimit {
		return text
	}
	runes := []rune(text)
	return string(runes[:PreviewLimit])
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(struct {
			Error   string `json:"error"`
			Success bool   `json:"success"`
		}{r.Error, false})
	}
	return json.Marshal(struct {
		StatusCode   int    `json:"status_code"`
		ResponseText string `json:"response_text"`
		Success      bool   `json:"success"`
	}{r.StatusCode, r.ResponseText, r.Success})
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := t.log.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		log.WithError(err).Debug("HTTP request failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"duration":    time.Since(start),
	}).Debug("HTTP request completed")
	return resp, nil
}
