package nodepath

import (
	"reflect"
	"strings"
)

// Node is an opaque handle to a node owned by a Tree implementation.
type Node any

// Document is an opaque handle to a document owned by a Tree implementation.
type Document any

// Tree is the document accessor capability the codec walks. Implementations
// return a nil Node (not a typed nil) for "none". Frame methods return
// *ErrAccessDenied when the host refuses to cross a document boundary.
type Tree interface {
	// TagName returns the element tag name, or "" for non-element nodes.
	TagName(n Node) (string, error)
	// Parent returns the parent node, nil at the top of a document.
	Parent(n Node) (Node, error)
	// PreviousSibling returns the previous sibling of any type, nil if none.
	PreviousSibling(n Node) (Node, error)
	// FrameOwner returns the iframe element hosting the document of n,
	// nil when n lives in the top document.
	FrameOwner(n Node) (Node, error)
	// Query resolves steps against doc, starting at its document element.
	Query(doc Document, steps []Step) (Node, error)
	// ContentDocument returns the document loaded in an iframe element.
	ContentDocument(frame Node) (Document, error)
}

// EncodeStep returns the step addressing n among its siblings.
func EncodeStep(t Tree, n Node) (Step, error) {
	tag, err := t.TagName(n)
	if err != nil {
		return Step{}, err
	}
	tag = strings.ToLower(tag)

	count := 0
	sib, err := t.PreviousSibling(n)
	for err == nil && !isNil(sib) {
		st, terr := t.TagName(sib)
		if terr != nil {
			return Step{}, terr
		}
		if st != "" && strings.EqualFold(st, tag) {
			count++
		}
		sib, err = t.PreviousSibling(sib)
	}
	if err != nil {
		return Step{}, err
	}
	return Step{Tag: tag, Ordinal: count + 1}, nil
}

// Encode walks from n to the top-most reachable document and returns its
// path. Crossing a document boundary goes through the hosting iframe. Any
// host failure, including a cross-origin refusal, ends the walk and the path
// accumulated so far is returned.
func Encode(t Tree, n Node) Path {
	var rev []Step
	cur := n
	for !isNil(cur) {
		tag, err := t.TagName(cur)
		if err != nil {
			break
		}
		if tag != "" {
			step, err := EncodeStep(t, cur)
			if err != nil {
				break
			}
			rev = append(rev, step)
		}

		parent, err := t.Parent(cur)
		if err != nil {
			break
		}
		if isNil(parent) {
			parent, err = t.FrameOwner(cur)
			if err != nil {
				break
			}
		}
		cur = parent
	}

	steps := make([]Step, len(rev))
	for i, s := range rev {
		steps[len(rev)-1-i] = s
	}
	return Join(steps)
}

// Decode resolves p against doc. Each frame segment is queried in turn; an
// iframe hit switches to its content document when accessible. When it is
// not, or when a later segment no longer resolves, the deepest iframe found
// is returned as a partial match. Decode returns nil only when the first
// segment does not resolve.
func Decode(t Tree, doc Document, p Path) Node {
	var found Node
	segs := Split(p)
	for i, seg := range segs {
		steps, err := Parse(seg)
		if err != nil {
			return found
		}
		n, err := t.Query(doc, steps)
		if err != nil || isNil(n) {
			return found
		}
		found = n
		if i == len(segs)-1 {
			break
		}
		child, err := t.ContentDocument(n)
		if err != nil || isNil(child) {
			return n
		}
		doc = child
	}
	return found
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
