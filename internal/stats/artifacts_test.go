package stats

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grevo/internal/model"
)

func sampleArtifacts(runID string, started time.Time) RunArtifacts {
	return RunArtifacts{
		Run: model.RunRecord{
			RunID:       runID,
			Seed:        3,
			Generations: 2,
			BestFitness: 0.5,
			BestSource:  "x * x",
			StartedAt:   started,
		},
		Config:           map[string]any{"population_size": 20, "termination_fitness": math.Inf(-1)},
		BestByGeneration: []float64{math.Inf(1), 2, 0.5},
		GenerationDiagnostics: []model.GenerationDiagnostics{
			{Generation: 0, BestFitness: model.Score(math.Inf(1)), MeanFitness: model.Score(math.Inf(1))},
			{Generation: 1, BestFitness: 2, MeanFitness: 4, MaxDepth: 3},
		},
		TopPrograms: []model.TopProgramRecord{{Rank: 1, ID: "g2-i0", Source: "x * x", Fitness: 0.5}},
		Lineage:     []model.LineageRecord{{ProgramID: "g1-i0", Operation: "mutation"}},
	}
}

func TestWriteRunArtifacts(t *testing.T) {
	base := t.TempDir()
	dir, err := WriteRunArtifacts(base, sampleArtifacts("run-1", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "run-1"), dir)

	for _, file := range artifactFiles {
		_, err := os.Stat(filepath.Join(dir, file))
		assert.NoError(t, err, file)
	}

	history, ok, err := ReadFitnessHistory(base, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, history, 3)
	assert.True(t, math.IsInf(history[0], 1))
	assert.Equal(t, 0.5, history[2])

	config, err := os.ReadFile(filepath.Join(dir, FileConfig))
	require.NoError(t, err)
	assert.Contains(t, string(config), "population_size: 20")
	assert.Contains(t, string(config), "-.inf")

	csv, err := os.ReadFile(filepath.Join(dir, FileDiagnosticsCSV))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csv)), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "generation,best_fitness"))
	assert.True(t, strings.HasPrefix(lines[1], "0,+Inf,+Inf"))

	best, err := os.ReadFile(filepath.Join(dir, FileBestProgram))
	require.NoError(t, err)
	assert.Equal(t, "x * x\n", string(best))

	top, ok, err := ReadTopPrograms(base, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "g2-i0", top[0].ID)

	diagnostics, ok, err := ReadGenerationDiagnostics(base, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, math.IsInf(diagnostics[0].BestFitness.Float64(), 1))

	run, ok, err := ReadRun(base, "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x * x", run.BestSource)

	_, err = WriteRunArtifacts(base, RunArtifacts{})
	assert.Error(t, err)

	_, ok, err = ReadFitnessHistory(base, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunIndexNewestFirstAndReplaces(t *testing.T) {
	base := t.TempDir()
	entries, err := ListRunIndex(base)
	require.NoError(t, err)
	assert.Empty(t, entries)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, AppendRunIndex(base, IndexEntry(model.RunRecord{RunID: "a", StartedAt: t0})))
	require.NoError(t, AppendRunIndex(base, IndexEntry(model.RunRecord{RunID: "b", StartedAt: t0.Add(time.Hour)})))
	require.NoError(t, AppendRunIndex(base, IndexEntry(model.RunRecord{RunID: "a", StartedAt: t0, Success: true})))

	entries, err = ListRunIndex(base)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].RunID)
	assert.Equal(t, "a", entries[1].RunID)
	assert.True(t, entries[1].Success)

	assert.Error(t, AppendRunIndex(base, RunIndexEntry{}))
}

func TestExportRunArtifacts(t *testing.T) {
	base := t.TempDir()
	_, err := WriteRunArtifacts(base, sampleArtifacts("run-2", time.Now()))
	require.NoError(t, err)

	out := t.TempDir()
	dst, err := ExportRunArtifacts(base, "run-2", out)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dst, FileTopPrograms))
	require.NoError(t, err)
	assert.Contains(t, string(data), "x * x")

	_, err = ExportRunArtifacts(base, "missing", out)
	assert.Error(t, err)
	_, err = ExportRunArtifacts(base, " ", out)
	assert.Error(t, err)
}
