package grevo

import (
	"fmt"

	"grevo/internal/config"
	"grevo/internal/grammar"
	"grevo/internal/random"
)

type ProductionInfo struct {
	Text      string
	MinDepth  int
	Recursive bool
}

type RuleInfo struct {
	Name        string
	MinDepth    int
	Recursive   bool
	Productions []ProductionInfo
}

type GrammarInfo struct {
	Start        string
	MinimumDepth int
	Rules        []RuleInfo
}

// DescribeGrammar parses BNF text and reports the depth facts the
// initialisers and operators rely on.
func DescribeGrammar(text string) (GrammarInfo, error) {
	g, err := grammar.Parse(text)
	if err != nil {
		return GrammarInfo{}, err
	}
	info := GrammarInfo{Start: g.StartRule().Name(), MinimumDepth: g.MinimumDepth()}
	for _, rule := range g.Rules() {
		ri := RuleInfo{Name: rule.Name(), MinDepth: rule.MinDepth(), Recursive: rule.Recursive()}
		for _, p := range rule.Productions() {
			ri.Productions = append(ri.Productions, ProductionInfo{
				Text:      p.String(),
				MinDepth:  p.MinDepth(),
				Recursive: p.Recursive(),
			})
		}
		info.Rules = append(info.Rules, ri)
	}
	return info, nil
}

type SampleRequest struct {
	Grammar string
	// Method is grow, full or ramped_half_and_half.
	Method           string
	Count            int
	Depth            int
	StartDepth       int
	Seed             int64
	AcceptDuplicates bool
}

type Sample struct {
	Source string
	Depth  int
}

// SampleTrees generates programs the way generation zero would be built.
func SampleTrees(req SampleRequest) ([]Sample, error) {
	if req.Count <= 0 {
		return nil, fmt.Errorf("sample count must be > 0, got %d", req.Count)
	}
	g, err := grammar.Parse(req.Grammar)
	if err != nil {
		return nil, err
	}
	cfg := config.Default()
	cfg.MaxDepth = req.Depth
	cfg.MaxInitDepth = req.Depth
	cfg.Initialiser = config.InitialiserConfig{
		Kind:             req.Method,
		StartDepth:       req.StartDepth,
		AcceptDuplicates: req.AcceptDuplicates,
	}
	gen, err := newInitialiser(cfg, g, random.New(req.Seed))
	if err != nil {
		return nil, err
	}
	trees, err := gen.Initialise(req.Count)
	if err != nil {
		return nil, err
	}
	samples := make([]Sample, len(trees))
	for i, tree := range trees {
		samples[i] = Sample{Source: tree.Render(), Depth: tree.Depth()}
	}
	return samples, nil
}
