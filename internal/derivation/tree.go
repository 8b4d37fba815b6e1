package derivation

import (
	"errors"
	"fmt"
	"strings"

	"grevo/internal/grammar"
)

var (
	ErrMalformed    = errors.New("malformed derivation tree")
	ErrRuleMismatch = errors.New("replacement rule mismatch")
	ErrOutOfRange   = errors.New("non-terminal index out of range")
)

// Node is a terminal literal or a non-terminal expanded by one production of
// its rule. Rules and productions are shared with the grammar and never
// copied.
type Node struct {
	rule       *grammar.Rule
	production *grammar.Production
	literal    string
	children   []*Node
	depth      int
}

func NewTerminal(literal string) *Node {
	return &Node{literal: literal}
}

// NewNonTerminal builds a non-terminal node. Depth is derived from children,
// which must already carry correct depths.
func NewNonTerminal(production *grammar.Production, children []*Node) *Node {
	n := &Node{rule: production.Rule(), production: production, children: children}
	n.depth = n.childDepth()
	return n
}

func (n *Node) Terminal() bool                  { return n.rule == nil }
func (n *Node) Rule() *grammar.Rule             { return n.rule }
func (n *Node) Production() *grammar.Production { return n.production }
func (n *Node) Literal() string                 { return n.literal }
func (n *Node) Children() []*Node               { return n.children }

// Depth counts non-terminal edges on the longest downward path. Terminals and
// non-terminals with only terminal children have depth 0.
func (n *Node) Depth() int { return n.depth }

func (n *Node) childDepth() int {
	depth := 0
	for _, child := range n.children {
		if child.Terminal() {
			continue
		}
		depth = max(depth, child.depth+1)
	}
	return depth
}

func (n *Node) clone() *Node {
	out := &Node{rule: n.rule, production: n.production, literal: n.literal, depth: n.depth}
	if len(n.children) > 0 {
		out.children = make([]*Node, len(n.children))
		for i, child := range n.children {
			out.children[i] = child.clone()
		}
	}
	return out
}

func (n *Node) refresh() int {
	if n.Terminal() {
		return 0
	}
	depth := 0
	for _, child := range n.children {
		if child.Terminal() {
			continue
		}
		depth = max(depth, child.refresh()+1)
	}
	n.depth = depth
	return depth
}

func (n *Node) render(b *strings.Builder) {
	if n.Terminal() {
		b.WriteString(n.literal)
		return
	}
	for _, child := range n.children {
		child.render(b)
	}
}

// Tree is a derivation tree rooted at a non-terminal.
type Tree struct {
	root *Node
}

func New(root *Node) *Tree {
	return &Tree{root: root}
}

func (t *Tree) Root() *Node { return t.root }
func (t *Tree) Depth() int  { return t.root.depth }

// Render concatenates the terminal literals in order.
func (t *Tree) Render() string {
	var b strings.Builder
	t.root.render(&b)
	return b.String()
}

func (t *Tree) String() string { return t.Render() }

// NonTerminals lists the non-terminal nodes in pre-order. Index 0 is the root.
func (t *Tree) NonTerminals() []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(n *Node) {
		if n.Terminal() {
			return
		}
		out = append(out, n)
		for _, child := range n.children {
			walk(child)
		}
	}
	walk(t.root)
	return out
}

// NonTerminalsOf lists the non-terminals of rule in pre-order.
func (t *Tree) NonTerminalsOf(rule *grammar.Rule) []*Node {
	var out []*Node
	for _, n := range t.NonTerminals() {
		if n.rule == rule {
			out = append(out, n)
		}
	}
	return out
}

// ReplaceAt overwrites the i-th non-terminal with subtree, which must be
// rooted at the same rule. The tree takes ownership of subtree.
func (t *Tree) ReplaceAt(i int, subtree *Node) error {
	nodes := t.NonTerminals()
	if i < 0 || i >= len(nodes) {
		return fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, len(nodes))
	}
	target := nodes[i]
	if subtree.rule != target.rule {
		return fmt.Errorf("%w: <%s> at %d", ErrRuleMismatch, target.rule.Name(), i)
	}
	*target = *subtree
	t.Refresh()
	return nil
}

// SwapSubtrees exchanges the expansions of two non-terminals of the same rule,
// which may live in different trees. Callers refresh the owning trees.
func SwapSubtrees(a, b *Node) error {
	if a.Terminal() || b.Terminal() || a.rule != b.rule {
		return ErrRuleMismatch
	}
	a.production, b.production = b.production, a.production
	a.children, b.children = b.children, a.children
	a.depth, b.depth = b.depth, a.depth
	return nil
}

// Refresh recomputes every cached depth after in-place edits.
func (t *Tree) Refresh() {
	t.root.refresh()
}

func (t *Tree) Clone() *Tree {
	return &Tree{root: t.root.clone()}
}

// Validate checks that every non-terminal's children match its production.
func (t *Tree) Validate() error {
	if t.root == nil || t.root.Terminal() {
		return fmt.Errorf("%w: root must be a non-terminal", ErrMalformed)
	}
	var check func(*Node) error
	check = func(n *Node) error {
		if n.Terminal() {
			return nil
		}
		if n.production == nil || n.production.Rule() != n.rule {
			return fmt.Errorf("%w: <%s> has no production of its rule", ErrMalformed, n.rule.Name())
		}
		symbols := n.production.Symbols()
		if len(symbols) != len(n.children) {
			return fmt.Errorf("%w: <%s> has %d children, production has %d symbols", ErrMalformed, n.rule.Name(), len(n.children), len(symbols))
		}
		for i, symbol := range symbols {
			child := n.children[i]
			if symbol.Terminal() {
				if !child.Terminal() || child.literal != symbol.Literal() {
					return fmt.Errorf("%w: <%s> child %d is not %s", ErrMalformed, n.rule.Name(), i, symbol)
				}
				continue
			}
			if child.Terminal() || child.rule != symbol.Rule() {
				return fmt.Errorf("%w: <%s> child %d is not %s", ErrMalformed, n.rule.Name(), i, symbol)
			}
			if err := check(child); err != nil {
				return err
			}
		}
		if n.depth != n.childDepth() {
			return fmt.Errorf("%w: stale depth at <%s>", ErrMalformed, n.rule.Name())
		}
		return nil
	}
	return check(t.root)
}
