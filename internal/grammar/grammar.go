package grammar

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Infinite marks a rule or production that can never finish deriving.
const Infinite = math.MaxInt

var (
	ErrEmptyGrammar  = errors.New("grammar has no rules")
	ErrDuplicateRule = errors.New("duplicate rule")
	ErrUndefinedRule = errors.New("undefined rule")
	ErrNoProductions = errors.New("rule has no productions")
	ErrUnsatisfiable = errors.New("start rule cannot derive a finite tree")
)

// Symbol is one element of a production: a reference to a rule or a literal.
type Symbol struct {
	rule    *Rule
	literal string
}

func (s Symbol) Terminal() bool  { return s.rule == nil }
func (s Symbol) Rule() *Rule     { return s.rule }
func (s Symbol) Literal() string { return s.literal }

func (s Symbol) String() string {
	if s.rule != nil {
		return "<" + s.rule.name + ">"
	}
	return strconv.Quote(s.literal)
}

// Production is one alternative of a rule.
type Production struct {
	owner     *Rule
	symbols   []Symbol
	minDepth  int
	recursive bool
}

func (p *Production) Symbols() []Symbol { return p.symbols }
func (p *Production) MinDepth() int     { return p.minDepth }
func (p *Production) Rule() *Rule       { return p.owner }

// Recursive reports whether some rule referenced by p can derive p's own rule again.
func (p *Production) Recursive() bool { return p.recursive }

// ValidWithin reports whether p can be completed using at most budget further
// non-terminal levels.
func (p *Production) ValidWithin(budget int) bool {
	return p.minDepth != Infinite && p.minDepth <= budget
}

// NonTerminalCount returns the number of rule references in p.
func (p *Production) NonTerminalCount() int {
	count := 0
	for _, symbol := range p.symbols {
		if !symbol.Terminal() {
			count++
		}
	}
	return count
}

func (p *Production) String() string {
	parts := make([]string, 0, len(p.symbols))
	for _, symbol := range p.symbols {
		parts = append(parts, symbol.String())
	}
	return strings.Join(parts, " ")
}

type Rule struct {
	name        string
	productions []*Production
	minDepth    int
	recursive   bool
}

func (r *Rule) Name() string               { return r.name }
func (r *Rule) Productions() []*Production { return r.productions }
func (r *Rule) MinDepth() int              { return r.minDepth }
func (r *Rule) Recursive() bool            { return r.recursive }

func (r *Rule) String() string {
	alternatives := make([]string, 0, len(r.productions))
	for _, production := range r.productions {
		alternatives = append(alternatives, production.String())
	}
	return "<" + r.name + "> ::= " + strings.Join(alternatives, " | ")
}

// Grammar is an immutable set of rules with a designated start rule.
type Grammar struct {
	rules  []*Rule
	byName map[string]*Rule
	start  *Rule
}

func (g *Grammar) StartRule() *Rule { return g.start }
func (g *Grammar) Rules() []*Rule   { return g.rules }

// MinimumDepth is the smallest depth of any complete tree the grammar derives.
func (g *Grammar) MinimumDepth() int { return g.start.minDepth }

func (g *Grammar) Rule(name string) (*Rule, bool) {
	rule, ok := g.byName[name]
	return rule, ok
}

func (g *Grammar) String() string {
	lines := make([]string, 0, len(g.rules))
	for _, rule := range g.rules {
		lines = append(lines, rule.String())
	}
	return strings.Join(lines, "\n")
}

// SymbolDef describes a symbol before rule references are resolved.
type SymbolDef struct {
	Name    string
	Literal string
}

// NT references the rule called name.
func NT(name string) SymbolDef { return SymbolDef{Name: name} }

// T is a terminal literal.
func T(literal string) SymbolDef { return SymbolDef{Literal: literal} }

// Seq groups symbols into one alternative.
func Seq(symbols ...SymbolDef) []SymbolDef { return symbols }

type RuleDef struct {
	Name         string
	Alternatives [][]SymbolDef
}

func Define(name string, alternatives ...[]SymbolDef) RuleDef {
	return RuleDef{Name: name, Alternatives: alternatives}
}

// New resolves definitions into a grammar whose start rule is named start.
// An empty start selects the first definition.
func New(start string, defs ...RuleDef) (*Grammar, error) {
	if len(defs) == 0 {
		return nil, ErrEmptyGrammar
	}
	g := &Grammar{byName: make(map[string]*Rule, len(defs))}
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("rule name is required")
		}
		if _, exists := g.byName[def.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, def.Name)
		}
		if len(def.Alternatives) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoProductions, def.Name)
		}
		rule := &Rule{name: def.Name, minDepth: Infinite}
		g.rules = append(g.rules, rule)
		g.byName[def.Name] = rule
	}
	for i, def := range defs {
		rule := g.rules[i]
		for _, alternative := range def.Alternatives {
			production := &Production{owner: rule, minDepth: Infinite, symbols: make([]Symbol, 0, len(alternative))}
			for _, symbolDef := range alternative {
				if symbolDef.Name == "" {
					production.symbols = append(production.symbols, Symbol{literal: symbolDef.Literal})
					continue
				}
				ref, ok := g.byName[symbolDef.Name]
				if !ok {
					return nil, fmt.Errorf("%w: <%s> referenced from <%s>", ErrUndefinedRule, symbolDef.Name, def.Name)
				}
				production.symbols = append(production.symbols, Symbol{rule: ref})
			}
			rule.productions = append(rule.productions, production)
		}
	}

	if start == "" {
		g.start = g.rules[0]
	} else {
		rule, ok := g.byName[start]
		if !ok {
			return nil, fmt.Errorf("%w: start rule <%s>", ErrUndefinedRule, start)
		}
		g.start = rule
	}

	g.computeMinDepths()
	g.computeRecursion()
	if g.start.minDepth == Infinite {
		return nil, fmt.Errorf("%w: <%s>", ErrUnsatisfiable, g.start.name)
	}
	return g, nil
}

// computeMinDepths iterates to the least fixed point. Depths only ever
// decrease from Infinite, so the loop terminates.
func (g *Grammar) computeMinDepths() {
	for changed := true; changed; {
		changed = false
		for _, rule := range g.rules {
			for _, production := range rule.productions {
				depth := productionDepth(production)
				if depth < production.minDepth {
					production.minDepth = depth
					changed = true
				}
				if depth < rule.minDepth {
					rule.minDepth = depth
					changed = true
				}
			}
		}
	}
}

func productionDepth(p *Production) int {
	deepest := -1
	for _, symbol := range p.symbols {
		if symbol.Terminal() {
			continue
		}
		if symbol.rule.minDepth == Infinite {
			return Infinite
		}
		deepest = max(deepest, symbol.rule.minDepth)
	}
	return deepest + 1
}

// computeRecursion marks rules that can derive themselves and productions
// that lead back to their own rule. Both follow from the strongly connected
// components of the rule reference graph.
func (g *Grammar) computeRecursion() {
	ids := make(map[*Rule]int64, len(g.rules))
	refs := simple.NewDirectedGraph()
	for i, rule := range g.rules {
		ids[rule] = int64(i)
		refs.AddNode(simple.Node(i))
	}
	selfRef := make(map[*Rule]bool)
	for _, rule := range g.rules {
		for _, production := range rule.productions {
			for _, symbol := range production.symbols {
				switch {
				case symbol.Terminal():
				case symbol.rule == rule:
					selfRef[rule] = true
				default:
					refs.SetEdge(simple.Edge{F: simple.Node(ids[rule]), T: simple.Node(ids[symbol.rule])})
				}
			}
		}
	}

	component := make(map[int64]int, len(g.rules))
	sizes := make(map[int]int)
	for c, nodes := range topo.TarjanSCC(refs) {
		for _, node := range nodes {
			component[node.ID()] = c
		}
		sizes[c] = len(nodes)
	}

	for _, rule := range g.rules {
		own := component[ids[rule]]
		rule.recursive = selfRef[rule] || sizes[own] > 1
		for _, production := range rule.productions {
			for _, symbol := range production.symbols {
				if !symbol.Terminal() && component[ids[symbol.rule]] == own {
					production.recursive = true
					break
				}
			}
		}
	}
}
