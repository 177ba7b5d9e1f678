// Package channel is the typed request/reply and broadcast transport
// between the background coordinator (a Hub) and the panel surfaces
// (Ports). Payloads are deep-copied through JSON on every hop. Large
// payloads of selected types travel out of band through a blob.Store.
package channel

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Message types of the panel protocol.
const (
	TypeTabInfo      = "TAB_INFO"
	TypeRulesets     = "RULESETS"
	TypeScanRequest  = "SCAN_REQUEST"
	TypeScanCached   = "SCAN_CACHED"
	TypeTabUpdated   = "TAB_UPDATED"
	TypeScanComplete = "SCAN_COMPLETE"
	TypeArchives     = "OPTIONS_GET_ARCHIVES"
)

// Message is one delivered envelope. When BlobURL is set the payload was
// moved out of band and Port.Inflate must be called before decoding it.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	BlobURL string          `json:"blob_url,omitempty"`
	Sender  string          `json:"-"`
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if m.BlobURL != "" {
		return &ErrMalformed{Type: m.Type, Cause: errBlobPending}
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return &ErrMalformed{Type: m.Type, Cause: err}
	}
	return nil
}

var errBlobPending = errors.New("payload is behind a blob reference")

// Reply is the response to Port.Send.
type Reply struct {
	Type string
	Raw  json.RawMessage
}

// Empty reports whether the receiver answered with no value.
func (r Reply) Empty() bool {
	raw := bytes.TrimSpace(r.Raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// Decode unmarshals the reply into v. A reply that is a JSON string holding
// JSON is parsed a second time. Empty replies return ErrNoValue.
func (r Reply) Decode(v any) error {
	if r.Empty() {
		return ErrNoValue
	}
	raw := bytes.TrimSpace(r.Raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return &ErrMalformed{Type: r.Type, Cause: err}
		}
		if s == "" {
			return ErrNoValue
		}
		raw = []byte(s)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &ErrMalformed{Type: r.Type, Cause: err}
	}
	return nil
}

// ReplyFunc answers a request. Only the first call has effect; calling it
// with nil answers "no value". Broadcast deliveries ignore replies.
type ReplyFunc func(v any)

func encode(typ string, payload any) (Message, error) {
	msg := Message{Type: typ}
	if payload == nil {
		return msg, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		msg.Payload = append(json.RawMessage(nil), raw...)
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return msg, &ErrMalformed{Type: typ, Cause: err}
	}
	msg.Payload = data
	return msg, nil
}
