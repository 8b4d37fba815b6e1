// Package config loads and validates run configuration files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"grevo/internal/fitness"
)

var ErrInvalid = errors.New("invalid configuration")

// Fitness kinds. Custom means the evaluator is supplied in code.
const (
	FitnessExec       = "exec"
	FitnessExpression = "expression"
	FitnessCustom     = "custom"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the root configuration structure
type Config struct {
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	RunID       string `yaml:"run_id,omitempty"`
	Seed        int64  `yaml:"seed"`
	Runs        int    `yaml:"runs" validate:"gte=1"`

	// Grammar is inline BNF; GrammarFile is read relative to the config file.
	Grammar     string `yaml:"grammar,omitempty" validate:"required_without=GrammarFile"`
	GrammarFile string `yaml:"grammar_file,omitempty"`

	PopulationSize     int     `yaml:"population_size" validate:"gte=1"`
	PoolSize           int     `yaml:"pool_size" validate:"gte=-1,ne=0"`
	Elites             int     `yaml:"elites" validate:"gte=0"`
	ProbCrossover      float64 `yaml:"prob_crossover" validate:"gte=0,lte=1"`
	ProbMutation       float64 `yaml:"prob_mutation" validate:"gte=0,lte=1"`
	ProbReproduction   float64 `yaml:"prob_reproduction" validate:"gte=0,lte=1"`
	TerminationFitness float64 `yaml:"termination_fitness"`
	Generations        int     `yaml:"generations" validate:"gte=-1"`
	MaxDepth           int     `yaml:"max_depth" validate:"gte=-1,ne=0"`
	MaxInitDepth       int     `yaml:"max_init_depth" validate:"gte=-1"`
	CacheFitness       bool    `yaml:"cache_fitness"`
	Workers            int     `yaml:"workers" validate:"gte=1"`
	MaxReversions      int     `yaml:"max_reversions" validate:"gte=0"`
	TopPrograms        int     `yaml:"top_programs" validate:"gte=0"`

	Initialiser  InitialiserConfig `yaml:"initialiser"`
	Selection    SelectionConfig   `yaml:"selection"`
	Fitness      FitnessConfig     `yaml:"fitness"`
	Logging      LoggingConfig     `yaml:"logging"`
	Store        StoreConfig       `yaml:"store"`
	ArtifactsDir string            `yaml:"artifacts_dir,omitempty"`

	dir string
}

type InitialiserConfig struct {
	Kind             string `yaml:"kind" validate:"oneof=ramped_half_and_half grow full"`
	StartDepth       int    `yaml:"start_depth" validate:"gte=0"`
	AcceptDuplicates bool   `yaml:"accept_duplicates"`
	MaxAttempts      int    `yaml:"max_attempts,omitempty" validate:"gte=0"`
}

type SelectionConfig struct {
	Program            string  `yaml:"program" validate:"oneof=tournament fitness_proportionate fp linear_rank random"`
	Pool               string  `yaml:"pool,omitempty" validate:"omitempty,oneof=tournament fitness_proportionate fp linear_rank random"`
	TournamentSize     int     `yaml:"tournament_size" validate:"gte=1"`
	LinearRankGradient float64 `yaml:"linear_rank_gradient" validate:"gte=0,lte=1"`
	OverSelection      bool    `yaml:"over_selection"`
}

type FitnessConfig struct {
	Kind       string           `yaml:"kind" validate:"oneof=exec expression custom"`
	Command    string           `yaml:"command,omitempty" validate:"required_if=Kind exec"`
	Args       []string         `yaml:"args,omitempty"`
	Timeout    time.Duration    `yaml:"timeout,omitempty" validate:"gte=0"`
	Expression ExpressionConfig `yaml:"expression,omitempty"`
}

type ExpressionConfig struct {
	// Variables, when set, must be defined by every case.
	Variables []string       `yaml:"variables,omitempty"`
	Cases     []fitness.Case `yaml:"cases,omitempty"`
	Metric    string         `yaml:"metric,omitempty" validate:"omitempty,oneof=sum_abs_error mse misses"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json auto"`
}

type StoreConfig struct {
	Kind   string `yaml:"kind" validate:"oneof=memory sqlite"`
	DBPath string `yaml:"db_path,omitempty" validate:"required_if=Kind sqlite"`
}

// Default returns the configuration every file is decoded on top of.
func Default() Config {
	return Config{
		Runs:               1,
		PopulationSize:     1000,
		PoolSize:           -1,
		Elites:             5,
		ProbCrossover:      0.80,
		ProbMutation:       0.15,
		ProbReproduction:   0.05,
		TerminationFitness: math.Inf(-1),
		Generations:        10,
		MaxDepth:           16,
		MaxInitDepth:       8,
		CacheFitness:       true,
		Workers:            1,
		TopPrograms:        10,
		Initialiser: InitialiserConfig{
			Kind:       "ramped_half_and_half",
			StartDepth: 2,
		},
		Selection: SelectionConfig{
			Program:            "tournament",
			TournamentSize:     7,
			LinearRankGradient: 0.2,
		},
		Fitness: FitnessConfig{Kind: FitnessExec},
		Logging: LoggingConfig{Level: "info", Format: "auto"},
		Store:   StoreConfig{Kind: "memory"},
	}
}

// Load reads a YAML config file and returns a validated Config
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result. Unknown keys
// are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var problems []string
	if c.Grammar != "" && c.GrammarFile != "" {
		problems = append(problems, "grammar and grammar_file are mutually exclusive")
	}
	if c.MaxDepth == -1 && c.MaxInitDepth == -1 {
		problems = append(problems, "max_init_depth must be set when max_depth is unlimited")
	}
	if c.MaxDepth != -1 && c.MaxInitDepth > c.MaxDepth {
		problems = append(problems, fmt.Sprintf("max_init_depth %d exceeds max_depth %d", c.MaxInitDepth, c.MaxDepth))
	}
	if c.InitDepth() >= 0 && c.Initialiser.StartDepth > c.InitDepth() {
		problems = append(problems, fmt.Sprintf("initialiser start_depth %d exceeds initial depth %d", c.Initialiser.StartDepth, c.InitDepth()))
	}
	if c.PoolSize != -1 && c.Selection.Pool == "" {
		problems = append(problems, "pool_size needs selection.pool")
	}
	if c.Fitness.Kind == FitnessExpression {
		if len(c.Fitness.Expression.Cases) == 0 {
			problems = append(problems, "expression fitness needs cases")
		}
		for i, fc := range c.Fitness.Expression.Cases {
			for _, name := range c.Fitness.Expression.Variables {
				if _, ok := fc.Vars[name]; !ok {
					problems = append(problems, fmt.Sprintf("case %d does not set variable %s", i, name))
				}
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// InitDepth is the depth bound for generation zero.
func (c Config) InitDepth() int {
	if c.MaxInitDepth == -1 {
		return c.MaxDepth
	}
	return c.MaxInitDepth
}

// GrammarText returns the inline grammar or the contents of grammar_file.
func (c Config) GrammarText() (string, error) {
	if c.Grammar != "" {
		return c.Grammar, nil
	}
	path := c.GrammarFile
	if !filepath.IsAbs(path) && c.dir != "" {
		path = filepath.Join(c.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read grammar: %w", err)
	}
	return string(data), nil
}

// Marshal renders the configuration as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
