// Package storage keeps the records of finished runs in memory or in a
// sqlite database.
package storage

import (
	"context"
	"fmt"

	"grevo/internal/model"
)

// Store persists the records of completed runs. Fitness series are stored
// per run; Get methods report false when a run has no such record.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, runID string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveFitnessHistory(ctx context.Context, runID string, history []float64) error
	GetFitnessHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
	SaveTopPrograms(ctx context.Context, runID string, top []model.TopProgramRecord) error
	GetTopPrograms(ctx context.Context, runID string) ([]model.TopProgramRecord, bool, error)
	SaveLineage(ctx context.Context, runID string, lineage []model.LineageRecord) error
	GetLineage(ctx context.Context, runID string) ([]model.LineageRecord, bool, error)
}

const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
)

// NewStore picks a backend by name; an empty kind means memory. The sqlite
// file is not touched until Init.
func NewStore(kind, dbPath string) (Store, error) {
	switch kind {
	case "", KindMemory:
		return NewMemoryStore(), nil
	case KindSQLite:
		if dbPath == "" {
			return nil, fmt.Errorf("%s store needs a database path", KindSQLite)
		}
		return NewSQLiteStore(dbPath), nil
	}
	return nil, fmt.Errorf("unknown store kind %q", kind)
}

// CloseIfSupported releases backends that hold resources.
func CloseIfSupported(s Store) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
