// Package layout implements the split-pane tree that describes how a
// tab's panes subdivide its viewport. Nodes are never mutated in place;
// every operation returns a new tree sharing untouched subtrees.
package layout

import "fmt"

type Direction string

const (
	Row    Direction = "row"
	Column Direction = "column"
)

// Node is either a *Leaf or a *Split.
type Node interface {
	node()
}

// Leaf is a single pane occupying its region.
type Leaf struct {
	PaneID string
}

// Split divides its region among at least two children.
type Split struct {
	Direction Direction
	Sizes     []float64
	Children  []Node
}

func (*Leaf) node()  {}
func (*Split) node() {}

// SplitLeaf replaces the leaf for targetPane with a two-child split
// holding the original leaf and a new leaf for newPane. Returns the
// tree unchanged if targetPane is not present.
func SplitLeaf(root Node, targetPane string, dir Direction, newPane string) Node {
	switch n := root.(type) {
	case *Leaf:
		if n.PaneID != targetPane {
			return n
		}
		return &Split{
			Direction: dir,
			Sizes:     []float64{0.5, 0.5},
			Children:  []Node{&Leaf{PaneID: targetPane}, &Leaf{PaneID: newPane}},
		}
	case *Split:
		children := make([]Node, len(n.Children))
		changed := false
		for i, c := range n.Children {
			children[i] = SplitLeaf(c, targetPane, dir, newPane)
			if children[i] != c {
				changed = true
			}
		}
		if !changed {
			return n
		}
		return &Split{Direction: n.Direction, Sizes: append([]float64(nil), n.Sizes...), Children: children}
	default:
		return root
	}
}

// RemoveLeaf deletes the leaf for pane. A split left with a single
// child is replaced by that child. Returns nil when the whole tree
// collapses.
func RemoveLeaf(root Node, pane string) Node {
	switch n := root.(type) {
	case *Leaf:
		if n.PaneID == pane {
			return nil
		}
		return n
	case *Split:
		var children []Node
		var sizes []float64
		removed := false
		for i, c := range n.Children {
			nc := RemoveLeaf(c, pane)
			if nc == nil {
				removed = true
				continue
			}
			if nc != c {
				removed = true
			}
			children = append(children, nc)
			if i < len(n.Sizes) {
				sizes = append(sizes, n.Sizes[i])
			}
		}
		if !removed {
			return n
		}
		switch len(children) {
		case 0:
			return nil
		case 1:
			return children[0]
		default:
			return &Split{Direction: n.Direction, Sizes: normalize(sizes, len(children)), Children: children}
		}
	default:
		return root
	}
}

// PaneIDs returns the tree's leaf pane identifiers in depth-first
// order. This is the order Materialize attaches panes in.
func PaneIDs(root Node) []string {
	var ids []string
	walk(root, func(l *Leaf) {
		ids = append(ids, l.PaneID)
	})
	return ids
}

// Contains reports whether the tree has a leaf for pane.
func Contains(root Node, pane string) bool {
	found := false
	walk(root, func(l *Leaf) {
		if l.PaneID == pane {
			found = true
		}
	})
	return found
}

func walk(n Node, fn func(*Leaf)) {
	switch v := n.(type) {
	case *Leaf:
		fn(v)
	case *Split:
		for _, c := range v.Children {
			walk(c, fn)
		}
	}
}

// normalize rescales sizes to sum to 1, falling back to equal shares
// when the recorded sizes are unusable.
func normalize(sizes []float64, n int) []float64 {
	if len(sizes) != n {
		sizes = nil
	}
	var sum float64
	for _, s := range sizes {
		sum += s
	}
	if sizes == nil || sum <= 0 {
		out := make([]float64, n)
		for i := range out {
			out[i] = 1.0 / float64(n)
		}
		return out
	}
	out := make([]float64, n)
	for i, s := range sizes {
		out[i] = s / sum
	}
	return out
}

// Shape is the identifier-free persistence form of a tree. Exactly one
// of Leaf or the split fields is meaningful, discriminated by Kind.
type Shape struct {
	Kind      string    `json:"kind"` // "leaf" or "split"
	Direction Direction `json:"direction,omitempty"`
	Sizes     []float64 `json:"sizes,omitempty"`
	Children  []*Shape  `json:"children,omitempty"`
}

// Serialize converts a live tree to its persistence shape.
func Serialize(root Node) *Shape {
	switch n := root.(type) {
	case *Leaf:
		return &Shape{Kind: "leaf"}
	case *Split:
		children := make([]*Shape, len(n.Children))
		for i, c := range n.Children {
			children[i] = Serialize(c)
		}
		return &Shape{
			Kind:      "split",
			Direction: n.Direction,
			Sizes:     append([]float64(nil), n.Sizes...),
			Children:  children,
		}
	default:
		return nil
	}
}

// LeafCount returns how many panes a shape needs when materialized.
func LeafCount(s *Shape) int {
	if s == nil {
		return 0
	}
	if s.Kind == "leaf" {
		return 1
	}
	total := 0
	for _, c := range s.Children {
		total += LeafCount(c)
	}
	return total
}

// Materialize rebuilds a live tree from a shape, assigning paneIDs to
// the shape's leaves in depth-first order. The caller opens the backing
// sessions first and attaches them by position.
func Materialize(s *Shape, paneIDs []string) (Node, error) {
	if s == nil {
		return nil, nil
	}
	if want := LeafCount(s); want != len(paneIDs) {
		return nil, fmt.Errorf("layout: shape has %d leaves, got %d pane ids", want, len(paneIDs))
	}
	node, rest := build(s, paneIDs)
	if len(rest) != 0 {
		return nil, fmt.Errorf("layout: %d pane ids left over", len(rest))
	}
	return node, nil
}

func build(s *Shape, ids []string) (Node, []string) {
	if s.Kind == "leaf" {
		return &Leaf{PaneID: ids[0]}, ids[1:]
	}
	children := make([]Node, 0, len(s.Children))
	for _, c := range s.Children {
		var n Node
		n, ids = build(c, ids)
		children = append(children, n)
	}
	return &Split{
		Direction: s.Direction,
		Sizes:     normalize(append([]float64(nil), s.Sizes...), len(children)),
		Children:  children,
	}, ids
}
