package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"grevo/internal/model"
)

// SeriesPoint aggregates the best fitness of several runs at one generation.
type SeriesPoint struct {
	Generation int         `json:"generation"`
	Runs       int         `json:"runs"`
	Mean       model.Score `json:"mean"`
	StdDev     model.Score `json:"stddev"`
	Best       model.Score `json:"best"`
}

// AverageSeries lines up per-run best-fitness series by generation. Runs
// that stopped early drop out of later points; infinite values count
// toward Best but not toward Mean.
func AverageSeries(lists [][]float64) []SeriesPoint {
	longest := 0
	for _, list := range lists {
		longest = max(longest, len(list))
	}
	points := make([]SeriesPoint, 0, longest)
	for gen := 0; gen < longest; gen++ {
		values := make([]float64, 0, len(lists))
		best := math.Inf(1)
		runs := 0
		for _, list := range lists {
			if gen >= len(list) {
				continue
			}
			runs++
			best = math.Min(best, list[gen])
			if !math.IsInf(list[gen], 0) && !math.IsNaN(list[gen]) {
				values = append(values, list[gen])
			}
		}
		mean, std := math.Inf(1), 0.0
		switch len(values) {
		case 0:
		case 1:
			mean = values[0]
		default:
			mean, std = stat.MeanStdDev(values, nil)
		}
		points = append(points, SeriesPoint{
			Generation: gen,
			Runs:       runs,
			Mean:       model.Score(mean),
			StdDev:     model.Score(std),
			Best:       model.Score(best),
		})
	}
	return points
}
