package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/agis/agenda/internal/contract"
)

// BodyKind tags the shape of a response body.
type BodyKind int

const (
	KindNoContent BodyKind = iota
	KindEnvelope
	KindLogicalError
	KindRawArray
	KindRawPrimitive
	KindRawObject
	KindUnparseable
)

func (k BodyKind) String() string {
	switch k {
	case KindNoContent:
		return "no_content"
	case KindEnvelope:
		return "envelope"
	case KindLogicalError:
		return "logical_error"
	case KindRawArray:
		return "raw_array"
	case KindRawPrimitive:
		return "raw_primitive"
	case KindRawObject:
		return "raw_object"
	default:
		return "unparseable"
	}
}

// Body is a classified response body.
type Body struct {
	Kind   BodyKind
	Raw    json.RawMessage
	Fields BodyFields
}

// BodyFields are the envelope-level fields read from an object body.
type BodyFields struct {
	Success     *bool
	Data        json.RawMessage
	MessageCode string
	Message     string
	ErrorText   string
	Details     []contract.FieldDetail
	Params      map[string]any
}

// Classify inspects a 2xx response body. It never fails: anything that is not
// JSON is KindUnparseable.
func Classify(status int, raw []byte) Body {
	if status == http.StatusNoContent {
		return Body{Kind: KindNoContent}
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		return Body{Kind: KindUnparseable}
	}
	b := Body{Raw: json.RawMessage(trimmed)}
	switch trimmed[0] {
	case '[':
		b.Kind = KindRawArray
		return b
	case '{':
	default:
		b.Kind = KindRawPrimitive
		return b
	}
	fields, ok := readFields(trimmed)
	if !ok {
		b.Kind = KindUnparseable
		return b
	}
	b.Fields = fields
	switch {
	case fields.Success != nil && !*fields.Success:
		b.Kind = KindLogicalError
	case fields.MessageCode != "":
		b.Kind = KindEnvelope
	default:
		b.Kind = KindRawObject
	}
	return b
}

// readFields pulls envelope fields out of an object, tolerating fields whose
// type does not match the envelope contract.
func readFields(raw []byte) (BodyFields, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return BodyFields{}, false
	}
	var f BodyFields
	if v, ok := obj["success"]; ok {
		var s bool
		if json.Unmarshal(v, &s) == nil {
			f.Success = &s
		}
	}
	if v, ok := obj["data"]; ok {
		f.Data = v
	}
	f.MessageCode = stringField(obj["messageCode"])
	f.Message = stringField(obj["message"])
	f.ErrorText = stringField(obj["error"])
	if v, ok := obj["details"]; ok {
		var d []contract.FieldDetail
		if json.Unmarshal(v, &d) == nil && len(d) > 0 {
			f.Details = d
		}
	}
	if v, ok := obj["params"]; ok {
		var p map[string]any
		if json.Unmarshal(v, &p) == nil {
			f.Params = p
		}
	}
	return f, true
}

func stringField(v json.RawMessage) string {
	if len(v) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// normalize turns a classified 2xx body into an envelope, or into an error
// when the backend declared a logical failure.
func normalize(b Body) (Envelope, error) {
	switch b.Kind {
	case KindNoContent, KindUnparseable:
		return successEnvelope(nil), nil
	case KindLogicalError:
		code := b.Fields.MessageCode
		if code == "" {
			code = contract.MsgInternalServerError
		}
		msg := firstNonEmpty(b.Fields.Message, b.Fields.ErrorText, "API logical error")
		e := newError(code, http.StatusOK, msg, nil)
		e.Details = b.Fields.Details
		return Envelope{}, e
	case KindEnvelope:
		return Envelope{
			Success:     true,
			Data:        b.Fields.Data,
			MessageCode: b.Fields.MessageCode,
			MessageType: contract.MessageSuccess,
			Message:     b.Fields.Message,
			Details:     b.Fields.Details,
			Params:      b.Fields.Params,
			Raw:         b.Raw,
		}, nil
	default:
		return successEnvelope(b.Raw), nil
	}
}

// statusError maps a non-2xx response to a structured error.
func statusError(status int, raw []byte) *Error {
	switch status {
	case http.StatusUnauthorized:
		msg := "authentication token rejected"
		if f, ok := readErrorBody(raw); ok {
			msg = firstNonEmpty(f.ErrorText, f.Message, msg)
		}
		return newError(contract.MsgInvalidToken, status, msg, nil)
	case http.StatusForbidden:
		e := newError(contract.MsgInsufficientPermissions, status, "insufficient permissions", nil)
		if f, ok := readErrorBody(raw); ok {
			e.Message = firstNonEmpty(f.ErrorText, f.Message, e.Message)
			e.Details = f.Details
		}
		return e
	}
	f, ok := readErrorBody(raw)
	if !ok {
		return newError(contract.MsgAPIError, status, fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status)), nil)
	}
	code := f.MessageCode
	if code == "" {
		code = contract.MsgInternalServerError
	}
	e := newError(code, status, firstNonEmpty(f.ErrorText, f.Message, "API request failed"), nil)
	e.Details = f.Details
	return e
}

func readErrorBody(raw []byte) (BodyFields, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return BodyFields{}, false
	}
	return readFields(trimmed)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
