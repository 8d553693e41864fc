package dom

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	data := []byte(`{
		"tag": "HTML",
		"children": [
			{
				"tag": "body",
				"children": [
					{
						"tag": "button",
						"id": "pay",
						"classes": ["btn", "primary"],
						"text": "Pay now",
						"attributes": {"type": "submit"},
						"boundingBox": {"x": 10, "y": 20, "width": 120, "height": 40}
					}
				]
			}
		]
	}`)

	tree, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tree.Nodes) != 3 {
		t.Fatalf("got %d nodes, want 3", len(tree.Nodes))
	}
	if tree.Nodes[0].Tag != "html" {
		t.Errorf("root tag = %q, want lowercased %q", tree.Nodes[0].Tag, "html")
	}

	btn := &tree.Nodes[2]
	if btn.ID != "pay" {
		t.Errorf("button id = %q, want %q", btn.ID, "pay")
	}
	if !btn.HasClass("BTN") {
		t.Error("HasClass should match case-insensitively")
	}
	if btn.Attr("type") != "submit" {
		t.Errorf("Attr(type) = %q, want submit", btn.Attr("type"))
	}
	if btn.Attr("missing") != "" {
		t.Errorf("Attr(missing) = %q, want empty", btn.Attr("missing"))
	}
	if btn.Box == nil || btn.Box.Area() != 4800 {
		t.Errorf("button box area wrong: %+v", btn.Box)
	}
}

func TestParse_EmptyAndMalformed(t *testing.T) {
	tree, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil): %v", err)
	}
	if !tree.Empty() {
		t.Error("empty input should yield an empty tree")
	}

	tree, err = Parse([]byte(`{"tag": `))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
	if !tree.Empty() {
		t.Error("malformed input should yield an empty tree")
	}

	var nilTree *Tree
	if !nilTree.Empty() {
		t.Error("nil tree should report empty")
	}
}

func TestWalk_DocumentOrder(t *testing.T) {
	tree := &Tree{}
	root := tree.Append(Node{Tag: "html"})
	head := tree.Append(Node{Tag: "head"})
	body := tree.Append(Node{Tag: "body"})
	a := tree.Append(Node{Tag: "a"})
	p := tree.Append(Node{Tag: "p"})
	tree.Link(root, head)
	tree.Link(root, body)
	tree.Link(body, a)
	tree.Link(body, p)

	var order []string
	tree.Walk(func(n *Node, depth int, inShadow bool) bool {
		order = append(order, n.Tag)
		if inShadow {
			t.Errorf("node %s wrongly flagged as shadow", n.Tag)
		}
		return true
	})

	got := strings.Join(order, " ")
	want := "html head body a p"
	if got != want {
		t.Errorf("walk order = %q, want %q", got, want)
	}
}

func TestWalk_EarlyStop(t *testing.T) {
	tree := &Tree{}
	root := tree.Append(Node{Tag: "html"})
	for i := 0; i < 5; i++ {
		tree.Link(root, tree.Append(Node{Tag: "div"}))
	}

	visited := 0
	tree.Walk(func(n *Node, depth int, inShadow bool) bool {
		visited++
		return visited < 3
	})
	if visited != 3 {
		t.Errorf("visited %d nodes, want 3", visited)
	}
}

func TestWalk_ShadowRoots(t *testing.T) {
	tree := &Tree{}
	root := tree.Append(Node{Tag: "html"})
	host := tree.Append(Node{Tag: "div", ID: "host"})
	tree.Link(root, host)

	shadow := tree.Append(Node{Tag: "span", Text: "hidden"})
	tree.Nodes[host].ShadowRoot = shadow

	var shadowTags []string
	tree.Walk(func(n *Node, depth int, inShadow bool) bool {
		if inShadow {
			shadowTags = append(shadowTags, n.Tag)
		}
		return true
	})
	if len(shadowTags) != 1 || shadowTags[0] != "span" {
		t.Errorf("shadow tags = %v, want [span]", shadowTags)
	}
}

func TestParse_DepthBound(t *testing.T) {
	var sb strings.Builder
	depth := MaxDepth + 10
	for i := 0; i < depth; i++ {
		sb.WriteString(`{"tag":"div","children":[`)
	}
	sb.WriteString(`{"tag":"span"}`)
	for i := 0; i < depth; i++ {
		sb.WriteString(`]}`)
	}

	tree, err := Parse([]byte(sb.String()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	maxSeen := 0
	tree.Walk(func(n *Node, d int, inShadow bool) bool {
		if d > maxSeen {
			maxSeen = d
		}
		return true
	})
	if maxSeen > MaxDepth {
		t.Errorf("walk reached depth %d, want <= %d", maxSeen, MaxDepth)
	}
	// Nodes below the cutoff are not added to the arena.
	if len(tree.Nodes) > MaxDepth+2 {
		t.Errorf("arena has %d nodes, want at most %d", len(tree.Nodes), MaxDepth+2)
	}
}

func TestBoxArea(t *testing.T) {
	cases := []struct {
		name string
		box  Box
		want float64
	}{
		{"normal", Box{Width: 10, Height: 5}, 50},
		{"zero width", Box{Width: 0, Height: 5}, 0},
		{"negative", Box{Width: -10, Height: 5}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.box.Area(); got != tc.want {
				t.Errorf("Area() = %v, want %v", got, tc.want)
			}
		})
	}
}
