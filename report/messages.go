package report

// Payloads of the panel protocol. Field names follow the wire format the
// surfaces and the coordinator agree on.

// Surface names the UI surface that originated a request.
type Surface string

const (
	SurfaceMain Surface = "main"
	SurfaceSub  Surface = "sub"
)

// TabRef addresses a tab (TAB_INFO and RULESETS requests).
type TabRef struct {
	TabID TabID `json:"tabId"`
}

// TabInfo is the TAB_INFO reply.
type TabInfo struct {
	ID    TabID  `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// ScanRequest is the SCAN_REQUEST and SCAN_CACHED payload.
type ScanRequest struct {
	TabID  TabID   `json:"tabId"`
	TabURL string  `json:"tabURL"`
	Origin Surface `json:"origin"`
}

// Ack is the SCAN_REQUEST reply.
type Ack struct {
	RequestID string `json:"requestId"`
}

// TabUpdated is broadcast on tab navigation.
type TabUpdated struct {
	TabID  TabID  `json:"tabId"`
	Status string `json:"status"` // "loading" | "complete"
	TabURL string `json:"tabUrl,omitempty"`
}

// Tab statuses carried by TabUpdated.
const (
	StatusLoading  = "loading"
	StatusComplete = "complete"
)

// ScanComplete is broadcast when a scan finishes. Report is stripped and
// replaced by a blob reference when the message is too large to travel
// inline.
type ScanComplete struct {
	TabID     TabID   `json:"tabId"`
	TabURL    string  `json:"tabURL"`
	ArchiveID string  `json:"archiveId"`
	PolicyID  string  `json:"policyId"`
	Origin    Surface `json:"origin,omitempty"`
	Report    *Report `json:"report,omitempty"`
}

// ErrorReply is the shape of an error reply, e.g. to RULESETS.
type ErrorReply struct {
	Error string `json:"error"`
}
