package capture

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxMultipartMemory = 32 << 20

var htmlAcceptTokens = []string{"text/html", "application/xhtml+xml"}

// IsBrowserNavigation reports whether r is a human opening the webhook URL
// in a browser rather than a webhook delivery.
func IsBrowserNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet {
		return false
	}
	accept := strings.ToLower(r.Header.Get("Accept"))
	for _, token := range htmlAcceptTokens {
		if strings.Contains(accept, token) {
			return true
		}
	}
	return false
}

// Normalize builds a Record from r, consuming its body. It never fails:
// problems reading or decoding the body end up in a parse_error payload.
func Normalize(r *http.Request, sessionID string, now time.Time) Record {
	rec := Record{
		SessionID:   sessionID,
		Method:      r.Method,
		Headers:     r.Header.Clone(),
		QueryParams: r.URL.Query(),
		Path:        r.URL.Path,
		URL:         FullURL(r),
		RemoteAddr:  remoteIP(r),
		UserAgent:   r.UserAgent(),
		Timestamp:   now,
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			rec.Payload = ParseErrorPayload(err)
			return rec
		}
	}
	rec.Payload = Decode(r.Header.Get("Content-Type"), body)
	return rec
}

// Decode picks structured, then form, then raw text.
func Decode(contentType string, body []byte) Payload {
	mediaType, params := parseMediaType(contentType)

	switch {
	case isJSONMediaType(mediaType):
		var buf bytes.Buffer
		if err := json.Compact(&buf, body); err != nil {
			return ParseErrorPayload(err)
		}
		return StructuredPayload(buf.Bytes())
	case strings.Contains(mediaType, "form"):
		fields, err := decodeForm(mediaType, params, body)
		if err != nil {
			return ParseErrorPayload(err)
		}
		return FormPayload(fields)
	default:
		return RawPayload(strings.ToValidUTF8(string(body), "�"))
	}
}

func parseMediaType(contentType string) (string, map[string]string) {
	if contentType == "" {
		return "", nil
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	return strings.ToLower(mediaType), params
}

func isJSONMediaType(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func decodeForm(mediaType string, params map[string]string, body []byte) (map[string]string, error) {
	if mediaType == "multipart/form-data" {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, errors.New("multipart body without boundary")
		}
		form, err := multipart.NewReader(bytes.NewReader(body), boundary).ReadForm(maxMultipartMemory)
		if err != nil {
			return nil, err
		}
		defer form.RemoveAll()
		return firstValues(form.Value), nil
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, err
	}
	return firstValues(values), nil
}

func firstValues(values map[string][]string) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			fields[k] = v[0]
		} else {
			fields[k] = ""
		}
	}
	return fields
}

func FullURL(r *http.Request) string {
	return Scheme(r) + "://" + r.Host + r.URL.RequestURI()
}

func Scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(proto, ",", 2)[0]))
	}
	return "http"
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
