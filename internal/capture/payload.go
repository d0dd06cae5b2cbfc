package capture

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type PayloadKind string

const (
	KindStructured PayloadKind = "structured"
	KindForm       PayloadKind = "form"
	KindRaw        PayloadKind = "raw"
	KindParseError PayloadKind = "parse_error"
)

// Payload is a tagged variant. Exactly one of JSON, Form or Text is
// meaningful, selected by Kind; a parse error keeps its message in Text.
type Payload struct {
	Kind PayloadKind
	JSON json.RawMessage
	Form map[string]string
	Text string
}

func StructuredPayload(raw []byte) Payload {
	return Payload{Kind: KindStructured, JSON: json.RawMessage(raw)}
}

func FormPayload(fields map[string]string) Payload {
	if fields == nil {
		fields = map[string]string{}
	}
	return Payload{Kind: KindForm, Form: fields}
}

func RawPayload(text string) Payload {
	return Payload{Kind: KindRaw, Text: text}
}

func ParseErrorPayload(err error) Payload {
	return Payload{Kind: KindParseError, Text: "Error parsing payload: " + err.Error()}
}

// MarshalJSON writes the bare value; the kind travels separately.
func (p Payload) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case KindStructured:
		if len(p.JSON) == 0 {
			return []byte("null"), nil
		}
		return p.JSON, nil
	case KindForm:
		return json.Marshal(p.Form)
	case KindRaw, KindParseError:
		return json.Marshal(p.Text)
	case "":
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("unknown payload kind %q", p.Kind)
	}
}

// DecodePayload rebuilds a Payload from its kind and the bare value written by MarshalJSON.
func DecodePayload(kind PayloadKind, data []byte) (Payload, error) {
	switch kind {
	case KindStructured:
		return StructuredPayload(bytes.Clone(data)), nil
	case KindForm:
		var fields map[string]string
		if err := json.Unmarshal(data, &fields); err != nil {
			return Payload{}, fmt.Errorf("decode form payload: %w", err)
		}
		return FormPayload(fields), nil
	case KindRaw, KindParseError:
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return Payload{}, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return Payload{Kind: kind, Text: text}, nil
	case "":
		return Payload{}, nil
	default:
		return Payload{}, fmt.Errorf("unknown payload kind %q", kind)
	}
}
