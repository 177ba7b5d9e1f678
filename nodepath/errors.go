package nodepath

import "fmt"

// SyntaxError is returned by Parse for a malformed path.
type SyntaxError struct {
	Path   Path
	Offset int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("nodepath: malformed path %q at offset %d", e.Path, e.Offset)
}

// ErrAccessDenied is returned by a Tree when the host refuses to introspect
// a document: a cross-origin frame or a local file the host has no
// permission to read.
type ErrAccessDenied struct {
	URL    string
	Reason string
}

func (e *ErrAccessDenied) Error() string {
	if e.URL == "" {
		return "nodepath: access denied: " + e.Reason
	}
	return fmt.Sprintf("nodepath: access denied to %s: %s", e.URL, e.Reason)
}
