// Package nodepath encodes DOM nodes as positional paths that cross frame
// boundaries, and resolves such paths back to live nodes.
//
// A path is a sequence of steps "/tag[n]" where n counts same-tag siblings
// (1-based), not the plain child index. Crossing into an iframe appends the
// child document's steps right after the "iframe[n]" step:
//
//	/html[1]/body[1]/iframe[2]/html[1]/body[1]/p[3]
//
// Paths identify a node in an unchanged tree. After a structural mutation
// they are resolved best-effort only.
package nodepath

import (
	"strconv"
	"strings"
)

// FrameTag is the step tag at which a path enters a child document.
const FrameTag = "iframe"

// Path is a serialised node path.
type Path string

// Step is one element of a path within a single document.
type Step struct {
	Tag     string
	Ordinal int // 1-based among preceding siblings with the same tag
}

func (s Step) String() string {
	return "/" + s.Tag + "[" + strconv.Itoa(s.Ordinal) + "]"
}

// Join renders steps back into a path.
func Join(steps []Step) Path {
	var b strings.Builder
	for _, s := range steps {
		b.WriteString(s.String())
	}
	return Path(b.String())
}

// Parse splits a path into its steps. A step without an ordinal ("/div")
// is read as ordinal 1.
func Parse(p Path) ([]Step, error) {
	s := string(p)
	if s == "" {
		return nil, nil
	}
	if s[0] != '/' {
		return nil, &SyntaxError{Path: p, Offset: 0}
	}

	var steps []Step
	offset := 0
	for offset < len(s) {
		// s[offset] is '/'.
		end := strings.IndexByte(s[offset+1:], '/')
		if end < 0 {
			end = len(s)
		} else {
			end += offset + 1
		}
		raw := s[offset+1 : end]
		step, ok := parseStep(raw)
		if !ok {
			return nil, &SyntaxError{Path: p, Offset: offset}
		}
		steps = append(steps, step)
		offset = end
	}
	return steps, nil
}

func parseStep(raw string) (Step, bool) {
	if raw == "" {
		return Step{}, false
	}
	open := strings.IndexByte(raw, '[')
	if open < 0 {
		return Step{Tag: strings.ToLower(raw), Ordinal: 1}, true
	}
	if open == 0 || !strings.HasSuffix(raw, "]") {
		return Step{}, false
	}
	n, err := strconv.Atoi(raw[open+1 : len(raw)-1])
	if err != nil || n < 1 {
		return Step{}, false
	}
	return Step{Tag: strings.ToLower(raw[:open]), Ordinal: n}, true
}

// Split cuts a path into per-document segments. Every segment but the last
// ends with an iframe step; the last segment is empty-free, so a path ending
// on an iframe yields that iframe segment last.
func Split(p Path) []Path {
	steps, err := Parse(p)
	if err != nil || len(steps) == 0 {
		return nil
	}

	var segs []Path
	start := 0
	for i, s := range steps {
		if s.Tag == FrameTag && i < len(steps)-1 {
			segs = append(segs, Join(steps[start:i+1]))
			start = i + 1
		}
	}
	return append(segs, Join(steps[start:]))
}

// FrameDepth returns the number of frame boundaries crossed by p.
func FrameDepth(p Path) int {
	return len(Split(p)) - 1
}

// HasPrefix reports whether prefix addresses p itself or one of its
// ancestors. The match stops at step boundaries so that "/div[1]" is not a
// prefix of "/div[10]".
func HasPrefix(p, prefix Path) bool {
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(string(p), string(prefix)) {
		return false
	}
	return len(p) == len(prefix) || p[len(prefix)] == '/'
}

// Tag returns the tag of the last step, or "" when p is empty or malformed.
func (p Path) Tag() string {
	steps, err := Parse(p)
	if err != nil || len(steps) == 0 {
		return ""
	}
	return steps[len(steps)-1].Tag
}
