// Package model holds the persistent records of evolution runs.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Score is a fitness value that survives JSON encoding when it is not
// finite. Infinities and NaN are written as the strings "+Inf", "-Inf"
// and "NaN".
type Score float64

func (s Score) MarshalJSON() ([]byte, error) {
	f := float64(s)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Inf"`), nil
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

func (s *Score) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		switch text {
		case "+Inf", "Inf":
			*s = Score(math.Inf(1))
		case "-Inf":
			*s = Score(math.Inf(-1))
		case "NaN":
			*s = Score(math.NaN())
		default:
			return fmt.Errorf("invalid score %q", text)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = Score(f)
	return nil
}

func (s Score) Float64() float64 { return float64(s) }

// Scores converts a fitness series for storage.
func Scores(values []float64) []Score {
	out := make([]Score, len(values))
	for i, v := range values {
		out[i] = Score(v)
	}
	return out
}

// Floats is the inverse of Scores.
func Floats(scores []Score) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = float64(s)
	}
	return out
}

// ReversionCounts mirrors the per-scope revert tally of a generation or run.
type ReversionCounts struct {
	Initialisation   int `json:"initialisation"`
	Pool             int `json:"pool"`
	Crossover        int `json:"crossover"`
	Mutation         int `json:"mutation"`
	Reproduction     int `json:"reproduction"`
	Generation       int `json:"generation"`
	CrossoverNoPoint int `json:"crossover_no_point"`
	InvalidOffspring int `json:"invalid_offspring"`
}

func (r ReversionCounts) Total() int {
	return r.Initialisation + r.Pool + r.Crossover + r.Mutation + r.Reproduction +
		r.Generation + r.CrossoverNoPoint + r.InvalidOffspring
}

// RunRecord summarises one completed run.
type RunRecord struct {
	VersionedRecord
	RunID          string          `json:"run_id"`
	Name           string          `json:"name,omitempty"`
	RunIndex       int             `json:"run_index"`
	Seed           int64           `json:"seed"`
	PopulationSize int             `json:"population_size"`
	Generations    int             `json:"generations"`
	Success        bool            `json:"success"`
	BestFitness    Score           `json:"best_fitness"`
	BestSource     string          `json:"best_source"`
	BestDepth      int             `json:"best_depth"`
	Reversions     ReversionCounts `json:"reversions"`
	StartedAt      time.Time       `json:"started_at"`
	ElapsedMillis  int64           `json:"elapsed_ms"`
}

// GenerationDiagnostics is the fitness and shape summary of one generation.
type GenerationDiagnostics struct {
	Generation      int             `json:"generation"`
	BestFitness     Score           `json:"best_fitness"`
	MeanFitness     Score           `json:"mean_fitness"`
	StdDevFitness   Score           `json:"stddev_fitness"`
	WorstFitness    Score           `json:"worst_fitness"`
	ScoredCount     int             `json:"scored_count"`
	MeanDepth       float64         `json:"mean_depth"`
	MaxDepth        int             `json:"max_depth"`
	UniqueSources   int             `json:"unique_sources"`
	Reversions      ReversionCounts `json:"reversions"`
	DurationMillis  int64           `json:"duration_ms"`
	BestEverFitness Score           `json:"best_ever_fitness"`
}

// TopProgramRecord is one entry of a run's final ranking.
type TopProgramRecord struct {
	VersionedRecord
	Rank    int    `json:"rank"`
	ID      string `json:"id"`
	Source  string `json:"source"`
	Depth   int    `json:"depth"`
	Fitness Score  `json:"fitness"`
}

// LineageRecord says how one program entered the population.
type LineageRecord struct {
	VersionedRecord
	ProgramID  string   `json:"program_id"`
	ParentIDs  []string `json:"parent_ids,omitempty"`
	Generation int      `json:"generation"`
	Operation  string   `json:"operation"`
	Source     string   `json:"source"`
	// Rule is the non-terminal at the crossover or mutation point.
	Rule string `json:"rule,omitempty"`
}
