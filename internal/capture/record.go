package capture

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// Record is one normalized captured HTTP exchange. Seq is the ordering
// key inside a session's history; Timestamp is display metadata only.
type Record struct {
	Seq         uint64
	SessionID   string
	Method      string
	Headers     http.Header
	QueryParams url.Values
	Path        string
	URL         string
	RemoteAddr  string
	UserAgent   string
	Payload     Payload
	Timestamp   time.Time
}

type recordJSON struct {
	ID          uint64          `json:"id"`
	SessionID   string          `json:"session_id"`
	Method      string          `json:"method"`
	Headers     http.Header     `json:"headers"`
	QueryParams url.Values      `json:"query_params"`
	Path        string          `json:"path"`
	URL         string          `json:"url"`
	RemoteAddr  string          `json:"remote_addr"`
	UserAgent   string          `json:"user_agent"`
	Payload     json.RawMessage `json:"payload"`
	PayloadType PayloadKind     `json:"payload_type"`
	Timestamp   time.Time       `json:"timestamp"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	payload, err := r.Payload.MarshalJSON()
	if err != nil {
		return nil, err
	}
	headers := r.Headers
	if headers == nil {
		headers = http.Header{}
	}
	query := r.QueryParams
	if query == nil {
		query = url.Values{}
	}
	return json.Marshal(recordJSON{
		ID:          r.Seq,
		SessionID:   r.SessionID,
		Method:      r.Method,
		Headers:     headers,
		QueryParams: query,
		Path:        r.Path,
		URL:         r.URL,
		RemoteAddr:  r.RemoteAddr,
		UserAgent:   r.UserAgent,
		Payload:     payload,
		PayloadType: r.Payload.Kind,
		Timestamp:   r.Timestamp,
	})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	payload, err := DecodePayload(raw.PayloadType, raw.Payload)
	if err != nil {
		return err
	}
	*r = Record{
		Seq:         raw.ID,
		SessionID:   raw.SessionID,
		Method:      raw.Method,
		Headers:     raw.Headers,
		QueryParams: raw.QueryParams,
		Path:        raw.Path,
		URL:         raw.URL,
		RemoteAddr:  raw.RemoteAddr,
		UserAgent:   raw.UserAgent,
		Payload:     payload,
		Timestamp:   raw.Timestamp,
	}
	return nil
}
