package channel

import (
	"bytes"
	"encoding/json"
	"net/url"
	"slices"
	"strings"
)

// DefaultBlobThreshold is the payload size above which selected types are
// moved out of band.
const DefaultBlobThreshold = 256 << 10

// Policy decides when a message travels through a blob reference.
type Policy struct {
	// LargeInline marks environments whose transport carries large
	// payloads inline; no indirection happens.
	LargeInline bool
	// Threshold in bytes. Payloads strictly larger are indirected.
	Threshold int
	// Types lists the message types eligible for indirection.
	Types []string
	// Strip lists the top-level payload fields removed from the inline
	// envelope when indirected. Empty strips the whole payload.
	Strip []string
}

// DefaultPolicy indirects SCAN_COMPLETE payloads above DefaultBlobThreshold,
// keeping the tab identification inline.
func DefaultPolicy() Policy {
	return Policy{
		Threshold: DefaultBlobThreshold,
		Types:     []string{TypeScanComplete},
		Strip:     []string{"report"},
	}
}

// UseBlob reports whether a message of type typ, about tabURL and of the
// given serialized size, must travel by reference. Local file pages always
// travel inline.
func (p Policy) UseBlob(typ, tabURL string, size int) bool {
	if p.LargeInline || !slices.Contains(p.Types, typ) {
		return false
	}
	if isFileURL(tabURL) {
		return false
	}
	return size > p.Threshold
}

func isFileURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.HasPrefix(strings.ToLower(raw), "file:")
	}
	return strings.EqualFold(u.Scheme, "file")
}

// tabURLOf reads the tab URL of a payload, under either spelling used by
// the protocol.
func tabURLOf(payload json.RawMessage) string {
	var probe struct {
		TabURL  string `json:"tabURL"`
		TabURL2 string `json:"tabUrl"`
	}
	if json.Unmarshal(payload, &probe) != nil {
		return ""
	}
	if probe.TabURL != "" {
		return probe.TabURL
	}
	return probe.TabURL2
}

// strip returns payload without the policy's Strip fields.
func (p Policy) strip(payload json.RawMessage) json.RawMessage {
	if len(p.Strip) == 0 {
		return nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil
	}
	for _, k := range p.Strip {
		delete(fields, k)
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(fields); err != nil {
		return nil
	}
	return bytes.TrimSpace(buf.Bytes())
}
