// Package dom models the page snapshot the browser driver hands to the
// detection pipeline. Nodes live in a flat arena indexed by position, with
// child and shadow-root references expressed as indices. This avoids owning
// pointer cycles and lets every traversal be an iterative, depth-bounded
// walk over a slice.
package dom

import (
	"encoding/json"
	"strings"
)

// MaxDepth bounds every tree traversal. Pages nested deeper than this are
// treated as opaque below the cutoff.
const MaxDepth = 50

// Box is an element's bounding rectangle in page coordinates.
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the covered area in square pixels.
func (b Box) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Node is a single element in the arena. Children and ShadowRoot are indices
// into Tree.Nodes; ShadowRoot is -1 when the element hosts no shadow tree.
type Node struct {
	Tag        string
	ID         string
	Classes    []string
	Text       string
	Style      string
	Attrs      map[string]string
	Box        *Box
	Children   []int
	ShadowRoot int
}

// Attr returns the named attribute, or "" if absent.
func (n *Node) Attr(name string) string {
	if n.Attrs == nil {
		return ""
	}
	return n.Attrs[name]
}

// HasClass reports whether the node carries the given class name.
func (n *Node) HasClass(class string) bool {
	for _, c := range n.Classes {
		if strings.EqualFold(c, class) {
			return true
		}
	}
	return false
}

// Tree is a flat arena of nodes. Node 0 is the root when the tree is
// non-empty.
type Tree struct {
	Nodes []Node
}

// Empty reports whether the tree has no nodes.
func (t *Tree) Empty() bool {
	return t == nil || len(t.Nodes) == 0
}

// frame is one step of an iterative traversal.
type frame struct {
	index  int
	depth  int
	shadow bool
}

// Visitor receives each node during a walk. Returning false stops the walk
// early (used by detectors once their score saturates).
type Visitor func(n *Node, depth int, inShadow bool) bool

// Walk visits every node reachable from the root, including shadow-root
// subtrees, in depth-first order bounded at MaxDepth. The walk is iterative;
// deeply nested pages cannot blow the stack.
func (t *Tree) Walk(visit Visitor) {
	if t.Empty() {
		return
	}
	stack := []frame{{index: 0}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.index < 0 || f.index >= len(t.Nodes) || f.depth > MaxDepth {
			continue
		}
		n := &t.Nodes[f.index]
		if !visit(n, f.depth, f.shadow) {
			return
		}

		// Push children in reverse so they are visited in document order.
		if n.ShadowRoot >= 0 {
			stack = append(stack, frame{index: n.ShadowRoot, depth: f.depth + 1, shadow: true})
		}
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{index: n.Children[i], depth: f.depth + 1, shadow: f.shadow})
		}
	}
}

// jsonNode is the nested wire form produced by the driver's extract_dom.
type jsonNode struct {
	Tag        string            `json:"tag"`
	ID         string            `json:"id"`
	Classes    []string          `json:"classes"`
	Text       string            `json:"text"`
	Style      string            `json:"style"`
	Attrs      map[string]string `json:"attributes"`
	Box        *Box              `json:"boundingBox"`
	ShadowRoot *jsonNode         `json:"shadowRoot"`
	Children   []jsonNode        `json:"children"`
}

// Parse decodes a driver DOM extract (nested JSON) into a flat arena.
// Malformed input yields an empty tree and an error; callers treat an empty
// tree as "nothing to scan".
func Parse(data []byte) (*Tree, error) {
	if len(data) == 0 {
		return &Tree{}, nil
	}
	var root jsonNode
	if err := json.Unmarshal(data, &root); err != nil {
		return &Tree{}, err
	}
	t := &Tree{}
	t.add(&root, 0)
	return t, nil
}

// add appends the nested node and its subtree to the arena, returning the
// new node's index. Recursion depth is bounded the same way traversal is.
func (t *Tree) add(jn *jsonNode, depth int) int {
	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{
		Tag:        strings.ToLower(jn.Tag),
		ID:         jn.ID,
		Classes:    jn.Classes,
		Text:       jn.Text,
		Style:      jn.Style,
		Attrs:      jn.Attrs,
		Box:        jn.Box,
		ShadowRoot: -1,
	})
	if depth >= MaxDepth {
		return idx
	}
	for i := range jn.Children {
		child := t.add(&jn.Children[i], depth+1)
		t.Nodes[idx].Children = append(t.Nodes[idx].Children, child)
	}
	if jn.ShadowRoot != nil {
		t.Nodes[idx].ShadowRoot = t.add(jn.ShadowRoot, depth+1)
	}
	return idx
}

// Append adds a node to the arena and returns its index. Used by tests and
// by drivers that build trees programmatically.
func (t *Tree) Append(n Node) int {
	if n.ShadowRoot == 0 {
		n.ShadowRoot = -1
	}
	t.Nodes = append(t.Nodes, n)
	return len(t.Nodes) - 1
}

// Link records child as a child of parent.
func (t *Tree) Link(parent, child int) {
	t.Nodes[parent].Children = append(t.Nodes[parent].Children, child)
}
