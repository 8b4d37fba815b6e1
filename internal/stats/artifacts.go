package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"grevo/internal/model"
)

const runIndexFile = "run_index.json"

// Files written for every run.
const (
	FileRun            = "run.json"
	FileConfig         = "config.yaml"
	FileFitnessHistory = "fitness_history.json"
	FileDiagnostics    = "generation_diagnostics.json"
	FileDiagnosticsCSV = "diagnostics.csv"
	FileTopPrograms    = "top_programs.json"
	FileLineage        = "lineage.json"
	FileBestProgram    = "best_program.txt"
)

var artifactFiles = []string{
	FileRun,
	FileConfig,
	FileFitnessHistory,
	FileDiagnostics,
	FileDiagnosticsCSV,
	FileTopPrograms,
	FileLineage,
	FileBestProgram,
}

// RunArtifacts is everything persisted to disk for one run. Config is
// written as YAML so that it can be fed back to the run command.
type RunArtifacts struct {
	Run                   model.RunRecord
	Config                any
	BestByGeneration      []float64
	GenerationDiagnostics []model.GenerationDiagnostics
	TopPrograms           []model.TopProgramRecord
	Lineage               []model.LineageRecord
}

type fitnessHistory struct {
	BestByGeneration []model.Score `json:"best_by_generation"`
	FinalBestFitness model.Score   `json:"final_best_fitness"`
}

type RunIndexEntry struct {
	RunID            string      `json:"run_id"`
	Name             string      `json:"name,omitempty"`
	RunIndex         int         `json:"run_index"`
	Seed             int64       `json:"seed"`
	PopulationSize   int         `json:"population_size"`
	Generations      int         `json:"generations"`
	Success          bool        `json:"success"`
	FinalBestFitness model.Score `json:"final_best_fitness"`
	CreatedAtUTC     string      `json:"created_at_utc"`
}

// IndexEntry derives the run index line of a finished run.
func IndexEntry(run model.RunRecord) RunIndexEntry {
	created := run.StartedAt
	if created.IsZero() {
		created = time.Now()
	}
	return RunIndexEntry{
		RunID:            run.RunID,
		Name:             run.Name,
		RunIndex:         run.RunIndex,
		Seed:             run.Seed,
		PopulationSize:   run.PopulationSize,
		Generations:      run.Generations,
		Success:          run.Success,
		FinalBestFitness: run.BestFitness,
		CreatedAtUTC:     created.UTC().Format(time.RFC3339Nano),
	}
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Run.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Run.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, FileRun), artifacts.Run); err != nil {
		return "", err
	}
	if err := writeYAML(filepath.Join(runDir, FileConfig), artifacts.Config); err != nil {
		return "", err
	}
	history := fitnessHistory{
		BestByGeneration: model.Scores(artifacts.BestByGeneration),
		FinalBestFitness: artifacts.Run.BestFitness,
	}
	if err := writeJSON(filepath.Join(runDir, FileFitnessHistory), history); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, FileDiagnostics), artifacts.GenerationDiagnostics); err != nil {
		return "", err
	}
	if err := writeDiagnosticsCSV(filepath.Join(runDir, FileDiagnosticsCSV), artifacts.GenerationDiagnostics); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, FileTopPrograms), artifacts.TopPrograms); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, FileLineage), artifacts.Lineage); err != nil {
		return "", err
	}
	best := artifacts.Run.BestSource + "\n"
	if err := os.WriteFile(filepath.Join(runDir, FileBestProgram), []byte(best), 0o644); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns indexed runs newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Later appends win ties.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run's artifact directory under outDir.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if strings.TrimSpace(runID) == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range artifactFiles {
		err := copyFile(filepath.Join(src, file), filepath.Join(dst, file))
		if err != nil && !os.IsNotExist(err) {
			return "", err
		}
	}
	return dst, nil
}

// ReadFitnessHistory loads the best-by-generation series of a run.
func ReadFitnessHistory(baseDir, runID string) ([]float64, bool, error) {
	history, ok, err := readJSON[fitnessHistory](baseDir, runID, FileFitnessHistory)
	if err != nil || !ok {
		return nil, ok, err
	}
	return model.Floats(history.BestByGeneration), true, nil
}

func ReadRun(baseDir, runID string) (model.RunRecord, bool, error) {
	return readJSON[model.RunRecord](baseDir, runID, FileRun)
}

func ReadGenerationDiagnostics(baseDir, runID string) ([]model.GenerationDiagnostics, bool, error) {
	return readJSON[[]model.GenerationDiagnostics](baseDir, runID, FileDiagnostics)
}

func ReadTopPrograms(baseDir, runID string) ([]model.TopProgramRecord, bool, error) {
	return readJSON[[]model.TopProgramRecord](baseDir, runID, FileTopPrograms)
}

func ReadLineage(baseDir, runID string) ([]model.LineageRecord, bool, error) {
	return readJSON[[]model.LineageRecord](baseDir, runID, FileLineage)
}

// readJSON decodes one artifact file; a missing file reports false.
func readJSON[T any](baseDir, runID, file string) (T, bool, error) {
	var value T
	data, err := os.ReadFile(filepath.Join(baseDir, runID, file))
	if err != nil {
		if os.IsNotExist(err) {
			return value, false, nil
		}
		return value, false, err
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, false, fmt.Errorf("decode %s: %w", file, err)
	}
	return value, true, nil
}

func writeDiagnosticsCSV(path string, diagnostics []model.GenerationDiagnostics) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{
		"generation", "best_fitness", "mean_fitness", "stddev_fitness", "worst_fitness",
		"scored", "mean_depth", "max_depth", "unique_sources", "reversions", "duration_ms",
	}); err != nil {
		return err
	}
	for _, d := range diagnostics {
		if err := writer.Write([]string{
			strconv.Itoa(d.Generation),
			formatScore(d.BestFitness),
			formatScore(d.MeanFitness),
			formatScore(d.StdDevFitness),
			formatScore(d.WorstFitness),
			strconv.Itoa(d.ScoredCount),
			strconv.FormatFloat(d.MeanDepth, 'f', -1, 64),
			strconv.Itoa(d.MaxDepth),
			strconv.Itoa(d.UniqueSources),
			strconv.Itoa(d.Reversions.Total()),
			strconv.FormatInt(d.DurationMillis, 10),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// formatScore prints infinities as +Inf and -Inf.
func formatScore(s model.Score) string {
	return strconv.FormatFloat(s.Float64(), 'g', -1, 64)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func writeYAML(path string, value any) error {
	if value == nil {
		return nil
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
