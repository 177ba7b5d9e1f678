package session

import (
	"fmt"
	"strings"
)

const localFileMarker = `Cannot access contents of url "file://`

// RulesetsError is an error reported by the coordinator for the RULESETS
// request. It leaves the surface Errored.
type RulesetsError struct {
	Message string
}

func (e *RulesetsError) Error() string {
	return "session: rulesets: " + e.Message
}

// LocalFileError is the RULESETS failure raised when the browser denies
// access to a local file page. It is a permission problem, not a scan
// failure.
type LocalFileError struct {
	URL     string
	Message string
}

func (e *LocalFileError) Error() string {
	return fmt.Sprintf("session: cannot scan local file %s", e.URL)
}

// Guidance is the text shown instead of a generic error.
func (e *LocalFileError) Guidance() string {
	return fmt.Sprintf("Can not scan local file: %s\n\n"+
		"Follow the User Guide to allow scanning of local .html or .htm files in your browser "+
		"(enable \"Allow access to file URLs\" for the extension).", e.URL)
}

// rulesetsError classifies an error string from the RULESETS reply.
func rulesetsError(msg string) error {
	i := strings.Index(msg, localFileMarker)
	if i < 0 {
		return &RulesetsError{Message: msg}
	}
	rest := msg[i+len(`Cannot access contents of url "`):]
	if j := strings.IndexByte(rest, '"'); j >= 0 {
		rest = rest[:j]
	}
	return &LocalFileError{URL: rest, Message: msg}
}
